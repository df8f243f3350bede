package result

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. The set is closed; callers switch on it to decide
// whether to retry, degrade or surface the failure.
type Kind uint8

const (
	// KindUnknown marks errors that did not originate from this module.
	KindUnknown Kind = iota
	KindStorage
	KindNetwork
	KindNotFound
	KindServer
	KindConflict
	KindValidation
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindStorage:    "storage",
	KindNetwork:    "network",
	KindNotFound:   "not_found",
	KindServer:     "server",
	KindConflict:   "conflict",
	KindValidation: "validation",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Retryable reports whether failures of this kind may succeed when attempted again.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindServer
}

// Sentinels for errors.Is checks against a Kind.
var (
	ErrStorage    = &Error{Kind: KindStorage}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrServer     = &Error{Kind: KindServer}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrValidation = &Error{Kind: KindValidation}
)

// Error is the failure payload of a Result. Op and ID give enough context to log
// or retry; Status holds the HTTP status when the failure came from the remote.
type Error struct {
	Kind    Kind
	Op      string
	ID      string
	Status  int
	Message string
	Cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches kind sentinels such as ErrNotFound regardless of context fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if t.Op != "" || t.ID != "" || t.Message != "" || t.Cause != nil || t.Status != 0 {
		return false
	}
	return e.Kind == t.Kind
}

// WithOp returns a copy of e tagged with the operation name, keeping an op that
// is already set.
func (e *Error) WithOp(op string) *Error {
	c := *e
	if c.Op == "" {
		c.Op = op
	}
	return &c
}

// WithID returns a copy of e tagged with the entity id, keeping an id that is
// already set.
func (e *Error) WithID(id string) *Error {
	c := *e
	if c.ID == "" {
		c.ID = id
	}
	return &c
}

// WithStatus returns a copy of e carrying an HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// As converts any error into an *Error. Errors already carrying an *Error in
// their chain are returned as is; context errors become KindNetwork; anything
// else is wrapped as fallback.
func As(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindNetwork, err, "operation cancelled")
	}
	return Wrap(fallback, err, "")
}

// KindOf returns the Kind found in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
