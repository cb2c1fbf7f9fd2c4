// Package apperr implements the five-kind error taxonomy used across
// the scheduling system: not-found, validation, state-rejection,
// infeasibility, and transient. Every service-layer error that should
// reach an HTTP client is wrapped as one of these so handlers can map
// it to a status code without inspecting message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the five taxonomy buckets.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindStateRejected Kind = "state_rejected"
	KindInfeasible    Kind = "infeasible"
	KindTransient     Kind = "transient"
)

// Error is an application error tagged with a Kind, so the HTTP layer
// can map it to a status code and the caller can branch on it with
// errors.As without string matching.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func NotFound(msg string) *Error                { return newErr(KindNotFound, msg, nil) }
func NotFoundf(format string, a ...interface{}) *Error {
	return newErr(KindNotFound, fmt.Sprintf(format, a...), nil)
}
func Validation(msg string) *Error { return newErr(KindValidation, msg, nil) }
func Validationf(format string, a ...interface{}) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, a...), nil)
}
func StateRejected(msg string) *Error { return newErr(KindStateRejected, msg, nil) }
func StateRejectedf(format string, a ...interface{}) *Error {
	return newErr(KindStateRejected, fmt.Sprintf(format, a...), nil)
}
func Infeasible(msg string) *Error { return newErr(KindInfeasible, msg, nil) }
func Infeasiblef(format string, a ...interface{}) *Error {
	return newErr(KindInfeasible, fmt.Sprintf(format, a...), nil)
}
func Transient(msg string, cause error) *Error { return newErr(KindTransient, msg, cause) }

// WithDetails attaches structured context (e.g. offending field names,
// conflicting appointment IDs) for the client response body.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// As extracts the *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindStateRejected:
		return http.StatusConflict
	case KindInfeasible:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body written for any error.
type Response struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Code    int                    `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToResponse builds the wire representation for err.
func ToResponse(err error) Response {
	status := HTTPStatus(err)
	resp := Response{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
	}
	if appErr, ok := As(err); ok {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	return resp
}
