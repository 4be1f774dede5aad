// pkg/core/errors.go
package core

import (
	"errors"
	"strings"
)

// Error kinds. Failures of the simulator link carry one of these, found with
// errors.Is or KindOf. Caller mistakes such as a busy channel or a session
// that is not connected have their own sentinels. An *Error wrapping another
// *Error also matches the inner kind.
var (
	ErrTransport           = errors.New("transport error")
	ErrProtocol            = errors.New("protocol error")
	ErrNoMatch             = errors.New("no matching endpoint")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrConfig              = errors.New("invalid configuration")
)

var kinds = []error{ErrTransport, ErrProtocol, ErrNoMatch, ErrMetadataUnavailable, ErrConfig}

// Error carries a kind, the operation that failed and the low-level cause.
type Error struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

// NewError builds an *Error. err may be nil.
func NewError(kind error, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf reports which error kind err belongs to, or nil. The outermost
// *Error decides when kinds are nested.
func KindOf(err error) error {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind != nil {
		return ce.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
