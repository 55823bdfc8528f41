package pgerror

import (
	"errors"
	"fmt"
	"strings"
)

// MaxContextDepth bounds the number of context lines kept on an error.
const MaxContextDepth = 10

// Error is a structured failure raised by the implicit column subsystem and
// the host engine. Every hard error carries a message, a detail and a hint.
type Error struct {
	Kind     Kind
	Code     Code
	Severity Severity
	Message  string
	Detail   string
	Hint     string
	Context  []string
	// Location is the byte offset into the statement text, -1 if unknown.
	Location int
	Cause    error
}

// Error implements error.
//
// Format: ERROR: message (SQLSTATE code): detail
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsWarning reports whether the error is advisory only.
func (e *Error) IsWarning() bool {
	return e.Severity != SeverityError
}

// WithContext appends a context line, dropping lines beyond MaxContextDepth.
func (e *Error) WithContext(format string, args ...interface{}) *Error {
	if len(e.Context) >= MaxContextDepth {
		return e
	}
	e.Context = append(e.Context, fmt.Sprintf(format, args...))
	return e
}

// Verbose renders message, detail, hint and context on separate lines, the
// way a client would print them.
func (e *Error) Verbose() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:  %s", e.Severity, e.Message)
	if e.Detail != "" {
		fmt.Fprintf(&b, "\nDETAIL:  %s", e.Detail)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\nHINT:  %s", e.Hint)
	}
	for i := len(e.Context) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "\nCONTEXT:  %s", e.Context[i])
	}
	return b.String()
}

// New builds an error of the given kind and code.
func New(kind Kind, code Code, message, detail, hint string) *Error {
	return &Error{
		Kind:     kind,
		Code:     code,
		Severity: SeverityError,
		Message:  message,
		Detail:   detail,
		Hint:     hint,
		Location: -1,
	}
}

// Newf builds a user error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(KindUser, code, fmt.Sprintf(format, args...), "", "")
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var pgErr *Error
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// HasKind reports whether err carries a *Error of kind k.
func HasKind(err error, k Kind) bool {
	pgErr, ok := As(err)
	return ok && pgErr.Kind == k
}

// HasCode reports whether err carries a *Error with SQLSTATE c.
func HasCode(err error, c Code) bool {
	pgErr, ok := As(err)
	return ok && pgErr.Code == c
}

// Wrap attaches context to err. A *Error in the chain gets the context line
// directly, anything else becomes an internal error of the named function.
func Wrap(err error, function, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := As(err); ok {
		pgErr.WithContext(format, args...)
		return err
	}
	e := InternalError(function, err.Error())
	e.Cause = err
	return e.WithContext(format, args...)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SyntaxError malformed implicit column clause.
func SyntaxError(detail string, location int) *Error {
	e := New(KindSyntax, CodeSyntaxError,
		"syntax error in implicit time clause",
		orDefault(detail, "could not parse statement"),
		"Check the use of WITH TIME, WITHOUT TIME or IMPLICIT TIME.")
	e.Location = location
	return e
}

// InvalidKeywordError an unexpected keyword where a time option was expected.
func InvalidKeywordError(keyword string, location int) *Error {
	e := New(KindSyntax, CodeSyntaxError,
		"invalid use of the TIME keyword",
		fmt.Sprintf("invalid keyword: %q", orDefault(keyword, "unknown")),
		"Expected WITH TIME or WITHOUT TIME.")
	e.Location = location
	return e
}

// StorageError a storage operation failed.
func StorageError(operation, detail string) *Error {
	return New(KindInternal, CodeInternalError,
		"implicit time column storage error",
		fmt.Sprintf("operation %q failed: %s", orDefault(operation, "unknown operation"), orDefault(detail, "storage operation failed")),
		"Check disk space and permissions.")
}

// DiskFullError the storage layer ran out of space.
func DiskFullError(operation string) *Error {
	return New(KindResource, CodeDiskFull,
		"could not extend relation: no space left on device",
		fmt.Sprintf("implicit time column operation could not complete: %s", orDefault(operation, "unknown operation")),
		"Free disk space and retry the statement.")
}

// OutOfMemoryError allocation failure.
func OutOfMemoryError(operation string) *Error {
	return New(KindResource, CodeOutOfMemory,
		"out of memory",
		fmt.Sprintf("implicit time column operation %q failed to allocate memory", orDefault(operation, "unknown operation")),
		"Check system memory usage.")
}

// CompatibilityError hard form of a compatibility conflict.
func CompatibilityError(feature, detail string) *Error {
	return New(KindCompatibility, CodeImplicitIncompatible,
		"implicit time column compatibility conflict",
		fmt.Sprintf("feature %q is incompatible with implicit time columns: %s", orDefault(feature, "unknown feature"), orDefault(detail, "conflict")),
		"Check whether the combination of features is supported.")
}

// FeatureNotSupportedError the operation cannot apply to the target.
func FeatureNotSupportedError(feature string) *Error {
	return New(KindFeatureNotSupported, CodeFeatureNotSupported,
		"feature not supported",
		fmt.Sprintf("implicit time columns do not support: %s", orDefault(feature, "unknown feature")),
		"Implicit time columns can only be attached to ordinary and partitioned tables.")
}

// InternalError an invariant failed inside function.
func InternalError(function, detail string) *Error {
	return New(KindInternal, CodeInternalError,
		"implicit time column internal error",
		fmt.Sprintf("function %q: %s", orDefault(function, "unknown function"), orDefault(detail, "unexpected internal state")),
		"This is an internal error, report it to the administrator.")
}

// DataCorruptedError a stored row or catalog entry fails its sanity checks.
func DataCorruptedError(function, detail string) *Error {
	return New(KindInternal, CodeDataCorrupted,
		"implicit time column data corrupted",
		fmt.Sprintf("function %q: %s", orDefault(function, "unknown function"), orDefault(detail, "invalid data")),
		"This is an internal error, report it to the administrator.")
}

// ColumnExistsWarning the table already carries the implicit column.
func ColumnExistsWarning(table string) *Error {
	e := New(KindDuplicate, CodeDuplicateColumn,
		"implicit time column already exists",
		fmt.Sprintf("table %q already contains an implicit time column", orDefault(table, "unknown")),
		"Inspect the table or use ALTER TABLE to change it.")
	e.Severity = SeverityWarning
	return e
}

// ColumnNotFoundWarning the table carries no implicit column to remove.
func ColumnNotFoundWarning(table string) *Error {
	e := New(KindMissing, CodeUndefinedColumn,
		"implicit time column not found",
		fmt.Sprintf("table %q does not contain an implicit time column", orDefault(table, "unknown")),
		"Create the table WITH TIME or add the implicit time column first.")
	e.Severity = SeverityWarning
	return e
}

// InvalidTableError the relation is of a kind that cannot carry the column.
func InvalidTableError(table, reason string) *Error {
	return New(KindFeatureNotSupported, CodeWrongObjectType,
		"table does not support implicit time columns",
		fmt.Sprintf("table %q does not support implicit time columns: %s", orDefault(table, "unknown"), orDefault(reason, "incompatible relation kind")),
		"Check the kind and properties of the table.")
}

// UserError ordinary statement failure raised outside the implicit column
// code paths.
func UserError(code Code, message, detail, hint string) *Error {
	return New(KindUser, code, message, detail, hint)
}

// UndefinedTableError the named relation does not exist.
func UndefinedTableError(table string) *Error {
	return UserError(CodeUndefinedTable,
		fmt.Sprintf("relation %q does not exist", orDefault(table, "unknown")),
		"no relation with this name or oid is visible to the transaction",
		"Check the spelling of the table name.")
}

// UndefinedColumnError the named column does not exist in table.
func UndefinedColumnError(table, column string) *Error {
	return UserError(CodeUndefinedColumn,
		fmt.Sprintf("column %q does not exist", orDefault(column, "unknown")),
		fmt.Sprintf("relation %q has no attribute named %q", orDefault(table, "unknown"), column),
		"Check the column list of the table.")
}

// LockNotAvailableError a lock wait exceeded the configured timeout.
func LockNotAvailableError(table, mode string) *Error {
	return UserError(CodeLockNotAvailable,
		fmt.Sprintf("could not obtain lock on relation %q", orDefault(table, "unknown")),
		fmt.Sprintf("timed out waiting for %s", mode),
		"Retry the statement once the conflicting transaction has finished.")
}

// Warning an advisory condition outside the implicit column code paths.
func Warning(code Code, message, detail string) *Error {
	e := New(KindUser, code, message, detail, "")
	e.Severity = SeverityWarning
	return e
}
