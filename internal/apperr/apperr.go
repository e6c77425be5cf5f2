// Package apperr defines the error kinds returned by the session and credential services.
// Transports map a kind to an HTTP status or gRPC code; callers never match on messages.
package apperr

import (
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain attached to gRPC statuses built by GRPCStatus.
const Domain = "taskboard-auth"

// Kind classifies a service error.
type Kind int

const (
	// Internal is an infrastructure failure (storage timeout, connection error).
	Internal Kind = iota
	NotFound
	// Rejected is a bad credential or an invalid argument.
	Rejected
	// NotAcceptable is a rule violation the client should show verbatim (bad OTP, expired token).
	NotAcceptable
	Unauthorized
	// Expired means the access token expired and the client should refresh.
	Expired
	Forbidden
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case Rejected:
		return "REJECTED"
	case NotAcceptable:
		return "NOT_ACCEPTABLE"
	case Unauthorized:
		return "UNAUTHORIZED"
	case Expired:
		return "EXPIRED"
	case Forbidden:
		return "FORBIDDEN"
	case Conflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// ParseKind returns the Kind whose String is s.
func ParseKind(s string) (Kind, bool) {
	for k := Internal; k <= Conflict; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return Internal, false
}

// Error is a service error carrying a Kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of kind k.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Wrap returns an Error of kind k that wraps err.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// KindOf returns the Kind of err, Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the client-safe message of err. Internal errors never leak details.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case Rejected:
		return http.StatusBadRequest
	case NotAcceptable:
		return http.StatusNotAcceptable
	case Unauthorized:
		return http.StatusUnauthorized
	case Expired:
		return http.StatusGone
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps err to a gRPC status code.
func GRPCCode(err error) codes.Code {
	switch KindOf(err) {
	case NotFound:
		return codes.NotFound
	case Rejected:
		return codes.InvalidArgument
	case NotAcceptable:
		return codes.FailedPrecondition
	case Unauthorized:
		return codes.Unauthenticated
	case Expired:
		return codes.Unauthenticated
	case Forbidden:
		return codes.PermissionDenied
	case Conflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// GRPCStatus converts err to a gRPC status carrying an ErrorInfo detail whose Reason is
// the kind. EXPIRED and UNAUTHORIZED share codes.Unauthenticated and differ only there.
func GRPCStatus(err error) *status.Status {
	st := status.New(GRPCCode(err), Message(err))
	withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: KindOf(err).String(), Domain: Domain})
	if derr != nil {
		return st
	}
	return withInfo
}

// KindFromGRPC recovers the Kind from an error returned by a server that used GRPCStatus.
// ok is false when err carries no ErrorInfo from Domain.
func KindFromGRPC(err error) (Kind, bool) {
	st, isStatus := status.FromError(err)
	if !isStatus {
		return Internal, false
	}
	for _, d := range st.Details() {
		info, isInfo := d.(*errdetails.ErrorInfo)
		if !isInfo || info.GetDomain() != Domain {
			continue
		}
		return ParseKind(info.GetReason())
	}
	return Internal, false
}
