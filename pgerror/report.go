package pgerror

import (
	"github.com/sirupsen/logrus"
)

// Report logs an advisory error and swallows it; hard errors are returned
// unchanged so the caller aborts.
func Report(err *Error) error {
	if err == nil {
		return nil
	}
	if !err.IsWarning() {
		return err
	}
	entry := logrus.WithFields(logrus.Fields{
		"code":   err.Code,
		"detail": err.Detail,
	})
	if len(err.Context) > 0 {
		entry = entry.WithField("context", err.Context[len(err.Context)-1])
	}
	switch err.Severity {
	case SeverityNotice:
		entry.Infoln(err.Message)
	default:
		entry.Warnln(err.Message)
	}
	return nil
}

// DebugLog 调试日志
func DebugLog(function, message string) {
	logrus.WithField("func", orDefault(function, "unknown")).Debugln(message)
}

// WarningLog 警告日志
func WarningLog(function, message string) {
	logrus.WithField("func", orDefault(function, "unknown")).Warnln(message)
}
