// Package apperror defines the closed set of domain error kinds and codes
// shared by the scheduling, appointment and queue engines. The code is the
// stable contract for callers; the transport layer maps kinds to statuses.
package apperror

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota
	KindConflict
	KindNotFound
	KindForbidden
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is a machine-readable domain failure. Extra carries structured
// context for programmatic handling, e.g. the conflicting appointment id.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Extra   map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// With returns a copy of e carrying one more Extra entry.
func (e *Error) With(key string, value any) *Error {
	extra := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		extra[k] = v
	}
	extra[key] = value
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Extra: extra}
}

// From unwraps err into an *Error if one is in the chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code string) bool {
	if e, ok := From(err); ok {
		return e.Code == code
	}
	return false
}
