// Package errdefs defines the error taxonomy shared by every mlaasctl stage and
// maps it to process exit codes.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindAccountResolution
	KindNotFound
	KindAmbiguousService
	KindProvisioning
	KindTransientNetwork
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AuthenticationError"
	case KindAccountResolution:
		return "AccountResolutionError"
	case KindNotFound:
		return "NotFoundError"
	case KindAmbiguousService:
		return "AmbiguousServiceError"
	case KindProvisioning:
		return "ProvisioningError"
	case KindTransientNetwork:
		return "TransientNetworkError"
	default:
		return "Error"
	}
}

// Sentinels for errors.Is. Matching compares only the kind.
var (
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrAccountResolution = &Error{Kind: KindAccountResolution}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAmbiguousService  = &Error{Kind: KindAmbiguousService}
	ErrProvisioning      = &Error{Kind: KindProvisioning}
	ErrTransientNetwork  = &Error{Kind: KindTransientNetwork}
)

// Error carries enough context (endpoint, identity, service) to diagnose a
// failure without re-running with verbose logging.
type Error struct {
	Kind     Kind
	Op       string
	Endpoint string
	Identity string
	Service  string
	// Code is the upstream error code or HTTP status, when known.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	var ctx []string
	if e.Endpoint != "" {
		ctx = append(ctx, "endpoint="+e.Endpoint)
	}
	if e.Identity != "" {
		ctx = append(ctx, "identity="+e.Identity)
	}
	if e.Service != "" {
		ctx = append(ctx, "service="+e.Service)
	}
	if e.Code != "" {
		ctx = append(ctx, "code="+e.Code)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Authentication(op string, err error, format string, args ...any) *Error {
	return newError(KindAuthentication, op, err, format, args...)
}

func AccountResolution(op string, err error, format string, args ...any) *Error {
	return newError(KindAccountResolution, op, err, format, args...)
}

func NotFound(op string, format string, args ...any) *Error {
	return newError(KindNotFound, op, nil, format, args...)
}

func AmbiguousService(op string, format string, args ...any) *Error {
	return newError(KindAmbiguousService, op, nil, format, args...)
}

func Provisioning(op string, err error, format string, args ...any) *Error {
	return newError(KindProvisioning, op, err, format, args...)
}

func TransientNetwork(op string, err error, format string, args ...any) *Error {
	return newError(KindTransientNetwork, op, err, format, args...)
}

// WithEndpoint, WithIdentity, WithService and WithCode annotate in place and
// return the receiver so they can be chained.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

func (e *Error) WithIdentity(identity string) *Error {
	e.Identity = identity
	return e
}

func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}
