package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers; it never leaks store error codes.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindInactiveProduct   Kind = "INACTIVE_PRODUCT"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindAmountMismatch    Kind = "AMOUNT_MISMATCH"
	KindPaymentGateway    Kind = "PAYMENT_GATEWAY_ERROR"
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindConfiguration     Kind = "CONFIGURATION_ERROR"
	KindPersistence       Kind = "PERSISTENCE_ERROR"
	KindConflict          Kind = "CONFLICT"
)

// Metadata describes how a kind is presented outside the service.
type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	Retryable     bool
}

var metadataByKind = map[Kind]Metadata{
	KindValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid request"},
	KindNotFound:          {HTTPStatus: http.StatusNotFound, PublicMessage: "not found"},
	KindInactiveProduct:   {HTTPStatus: http.StatusConflict, PublicMessage: "product is no longer on sale"},
	KindInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "stock insufficient"},
	KindAmountMismatch:    {HTTPStatus: http.StatusConflict, PublicMessage: "order amount has changed, please review your cart"},
	KindPaymentGateway:    {HTTPStatus: http.StatusBadGateway, PublicMessage: "payment could not be confirmed"},
	KindIllegalTransition: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "order cannot be changed in its current state"},
	KindConfiguration:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "service misconfigured"},
	KindPersistence:       {HTTPStatus: http.StatusInternalServerError, PublicMessage: "temporary failure, please retry", Retryable: true},
	KindConflict:          {HTTPStatus: http.StatusConflict, PublicMessage: "request already in progress", Retryable: true},
}

// MetadataFor returns presentation data for kind, defaulting to persistence.
func MetadataFor(kind Kind) Metadata {
	if meta, ok := metadataByKind[kind]; ok {
		return meta
	}
	return metadataByKind[KindPersistence]
}

// Error is the typed error returned across service boundaries. Public, when
// set, replaces the kind's public message.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Public  string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on kind so errors.Is(err, apperr.New(KindNotFound, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// PublicMessage is the message safe to show API callers.
func (e *Error) PublicMessage() string {
	if e.Public != "" {
		return e.Public
	}
	return MetadataFor(e.Kind).PublicMessage
}

// WithPublicMessage sets a caller-facing message for this error only.
func (e *Error) WithPublicMessage(message string) *Error {
	e.Public = message
	return e
}

// WithDetails attaches structured details rendered to API callers.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

func Validation(message string) *Error { return New(KindValidation, message) }

func NotFound(format string, args ...any) *Error { return Newf(KindNotFound, format, args...) }

// IllegalTransition messages name the order's state and are shown as is.
func IllegalTransition(message string) *Error {
	return New(KindIllegalTransition, message).WithPublicMessage(message)
}

func Configuration(message string) *Error { return New(KindConfiguration, message) }

func Persistence(err error, message string) *Error { return Wrap(KindPersistence, err, message) }

// PaymentGateway keeps the gateway's own code and message verbatim.
func PaymentGateway(code, message string) *Error {
	return &Error{Kind: KindPaymentGateway, Code: code, Message: message}
}

// As extracts the typed error from a chain.
func As(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// KindOf returns the kind of err, or "" when err is not typed.
func KindOf(err error) Kind {
	if typed := As(err); typed != nil {
		return typed.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
