// Package rpcerr defines the tagged error-kind type shared by every
// component of the cluster core: gossip, the RPC fabric, and cert
// provisioning all report failures through the same closed Kind enum so
// callers can branch on failure class without string matching.
package rpcerr

import "fmt"

// Kind is a closed enumeration of the ways a cluster operation can fail.
type Kind int

const (
	// Unknown is the zero value. No Error here is built with it; Of
	// returns it for errors that are not an *Error.
	Unknown Kind = iota
	MethodNotFound
	DuplicateMethod
	UnknownTarget
	InvalidProxyPath
	Timeout
	TransportError
	RemoteError
	RateLimited
	AuthFailed
	CertProvisioningFailed
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case MethodNotFound:
		return "MethodNotFound"
	case DuplicateMethod:
		return "DuplicateMethod"
	case UnknownTarget:
		return "UnknownTarget"
	case InvalidProxyPath:
		return "InvalidProxyPath"
	case Timeout:
		return "Timeout"
	case TransportError:
		return "TransportError"
	case RemoteError:
		return "RemoteError"
	case RateLimited:
		return "RateLimited"
	case AuthFailed:
		return "AuthFailed"
	case CertProvisioningFailed:
		return "CertProvisioningFailed"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// JSONRPCCode maps a Kind to the JSON-RPC 2.0 numeric error code returned
// on the wire.
func (k Kind) JSONRPCCode() int {
	switch k {
	case MethodNotFound:
		return -32601
	case RateLimited:
		return -32000
	case Timeout, TransportError:
		return -32001
	default:
		return -32002
	}
}

// Retriable reports whether a caller may reasonably retry an operation
// that failed with this kind.
func (k Kind) Retriable() bool {
	switch k {
	case Timeout, TransportError, CertProvisioningFailed:
		return true
	default:
		return false
	}
}

// Error is the tagged error type returned by cluster, rpc, and ca
// components.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error with the given kind and message, chaining cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, rpcerr.New(kind, "")) by comparing Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail returns a copy of e with detail key=value attached.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Of extracts the Kind of err if it is (or wraps) an *Error, else Unknown.
func Of(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Unknown
}

// asError is a small errors.As shim kept local to avoid importing errors
// just for this one call site in every caller.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
