package connection

import (
	"errors"
)

// ErrSchemaMissing marks backend errors that retrying cannot fix, such as a
// queried relation that does not exist. Backends wrap it.
var ErrSchemaMissing = errors.New("schema or table missing")

var errBackendPanic = errors.New("backend panicked")

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
)

// ErrorInfo is the value-level rendering of an attempt failure handed to the UI.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// IsFatal reports whether err is fatal-fast.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchemaMissing)
}

// describeError converts err to an ErrorInfo; nil maps to nil.
func describeError(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindTransient, Message: err.Error()}
	if IsFatal(err) {
		info.Kind = KindFatal
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		info.Code = coded.ErrorCode()
	}
	return info
}
