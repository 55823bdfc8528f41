package pgerror

// Code SQLSTATE 错误码
type Code string

const (
	CodeSyntaxError           Code = "42601"
	CodeFeatureNotSupported   Code = "0A000"
	CodeInternalError         Code = "XX000"
	CodeDataCorrupted         Code = "XX001"
	CodeDiskFull              Code = "53100"
	CodeOutOfMemory           Code = "53200"
	CodeDuplicateColumn       Code = "42701"
	CodeUndefinedColumn       Code = "42703"
	CodeUndefinedTable        Code = "42P01"
	CodeDuplicateTable        Code = "42P07"
	CodeWrongObjectType       Code = "42809"
	CodeLockNotAvailable      Code = "55P03"
	CodeInvalidTransaction    Code = "25000"
	CodeInvalidTextRep        Code = "22P02"
	CodeDatatypeMismatch      Code = "42804"
	CodeUniqueViolation       Code = "23505"
	CodeNotNullViolation      Code = "23502"
	CodeUndefinedObject       Code = "42704"
	CodeImplicitIncompatible  Code = "0A000"
	CodeInFailedTransaction   Code = "25P02"
	CodeNoActiveTransaction   Code = "25P01"
	CodeActiveTransaction     Code = "25001"
	CodeTooManyColumns        Code = "54011"
	CodeQueryCanceled         Code = "57014"
	CodeInsufficientPrivilege Code = "42501"
)

// Kind classifies an error by recovery policy.
type Kind int

const (
	// KindSyntax malformed DDL option, not retryable.
	KindSyntax Kind = iota
	// KindFeatureNotSupported target relation cannot carry implicit columns.
	KindFeatureNotSupported
	// KindCompatibility advisory incompatibility, reserved for a hard stop.
	KindCompatibility
	// KindInternal invariant violation, always fatal to the operation.
	KindInternal
	// KindResource out of disk or memory, propagated from the storage layer.
	KindResource
	// KindDuplicate already-exists on add, reported as a warning.
	KindDuplicate
	// KindMissing not-found on remove, reported as a warning.
	KindMissing
	// KindUser ordinary statement errors raised by the host engine.
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindFeatureNotSupported:
		return "feature not supported"
	case KindCompatibility:
		return "compatibility conflict"
	case KindInternal:
		return "internal"
	case KindResource:
		return "resource"
	case KindDuplicate:
		return "duplicate"
	case KindMissing:
		return "missing"
	case KindUser:
		return "user"
	}
	return "unknown"
}

// Severity 错误级别
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNotice
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	}
	return "ERROR"
}
