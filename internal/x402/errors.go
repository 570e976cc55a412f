package x402

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable tag clients use to tell payment failures apart.
type ErrorKind string

const (
	KindConfiguration           ErrorKind = "configuration_error"
	KindPaymentRequired         ErrorKind = "payment_required"
	KindPaymentDecode           ErrorKind = "payment_decode_error"
	KindUnsupportedNetwork      ErrorKind = "unsupported_network"
	KindVerificationFailed      ErrorKind = "verification_failed"
	KindSettlementFailed        ErrorKind = "settlement_failed"
	KindUpstream                ErrorKind = "upstream_error"
	KindUpstreamAfterSettlement ErrorKind = "upstream_error_after_settlement"
	KindTransport               ErrorKind = "transport_error"
	KindInvalidArguments        ErrorKind = "invalid_arguments"
	KindToolNotFound            ErrorKind = "tool_not_found"
	KindPaymentDeclined         ErrorKind = "payment_declined"
	KindPaymentCreation         ErrorKind = "payment_creation_failed"
	KindApprovalRequired        ErrorKind = "approval_required"
)

// Error is a payment pipeline failure. Message is user facing and names the
// actionable detail, such as the rejected network or the facilitator reason.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that keeps err as its cause.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}
