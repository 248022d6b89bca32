package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for translation at the handler boundary.
type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindUnauthorized        Kind = "Unauthorized"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindQuotaExceeded       Kind = "QuotaExceeded"
	KindStorageFailed       Kind = "StorageFailed"
	KindUpstreamFailed      Kind = "UpstreamFailed"
	KindTimeout             Kind = "Timeout"
	KindFileTooBig          Kind = "FileTooBig"
	KindModelAccess         Kind = "ModelAccess"
	KindUnsupportedFileType Kind = "UnsupportedFileType"
	KindInvalidCredential   Kind = "InvalidCredential"
	KindInternal            Kind = "Internal"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Error is a classified error carrying a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error.
func E(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Invalid(format string, args ...any) *Error {
	return E(KindInvalidInput, nil, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return E(KindUnauthorized, nil, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return E(KindNotFound, ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return E(KindConflict, nil, format, args...)
}

func Storage(err error, format string, args ...any) *Error {
	return E(KindStorageFailed, err, format, args...)
}

func Upstream(err error, format string, args ...any) *Error {
	return E(KindUpstreamFailed, err, format, args...)
}

// KindOf reports the kind of err. Unclassified repository misses map to
// NotFound and everything else to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
