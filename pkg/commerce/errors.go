// --- File: pkg/commerce/errors.go ---
package commerce

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a failure so the caller can render it without parsing messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthenticationRequired
	KindNetworkFailure
	KindValidation
	KindServer
	KindDomainConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindNetworkFailure:
		return "network_failure"
	case KindValidation:
		return "validation_error"
	case KindServer:
		return "server_error"
	case KindDomainConflict:
		return "domain_conflict"
	default:
		return "unknown"
	}
}

// Structured codes carried in Error.Code.
const (
	CodeOwnProject       = "OWN_PROJECT"
	CodePurchaseInFlight = "PURCHASE_IN_FLIGHT"
	CodePaymentDeclined  = "PAYMENT_DECLINED"
	CodeInvalidProjectID = "INVALID_PROJECT_ID"
)

// Error is the normalized failure returned by every operation in this module.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Code    string
	Message string
	Fields  map[string][]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
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

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrNetworkFailure         = &Error{Kind: KindNetworkFailure}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrServer                 = &Error{Kind: KindServer}
	ErrDomainConflict         = &Error{Kind: KindDomainConflict}

	ErrOwnProject       = &Error{Kind: KindDomainConflict, Code: CodeOwnProject}
	ErrPurchaseInFlight = &Error{Kind: KindDomainConflict, Code: CodePurchaseInFlight}
	ErrPaymentDeclined  = &Error{Kind: KindDomainConflict, Code: CodePaymentDeclined}
)

// KindOf extracts the category of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the structured code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewError builds an *Error for op.
func NewError(kind ErrorKind, op, code, message string) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Message: message}
}

// InvalidProjectID is the local rejection for a missing or non-positive project id.
func InvalidProjectID(op string, projectID int64) *Error {
	return NewError(KindValidation, op, CodeInvalidProjectID, fmt.Sprintf("invalid project id %d", projectID))
}
