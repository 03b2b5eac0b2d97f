// Package apperrors defines the error taxonomy shared by the API layer and
// the batch services, and its mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind int

const (
	KindUnknown Kind = iota
	KindDataFetch
	KindPrediction
	KindValidation
	KindDatabase
	KindRateLimit
	KindNotFound
)

// Error is the application error type. Services wrap causes into an Error
// with a Kind; controllers map the Kind to a status code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// DataFetch wraps an upstream market-data failure
func DataFetch(message string, cause error) *Error {
	return &Error{Kind: KindDataFetch, Message: message, Cause: cause}
}

// Prediction wraps a forecast generation or scoring failure
func Prediction(message string, cause error) *Error {
	return &Error{Kind: KindPrediction, Message: message, Cause: cause}
}

// Validation reports invalid client input
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Database wraps a storage failure
func Database(message string, cause error) *Error {
	return &Error{Kind: KindDatabase, Message: message, Cause: cause}
}

// RateLimit reports that a caller or upstream is being throttled
func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Message: message}
}

// NotFound reports a missing resource
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// StatusCode maps an error to the HTTP status the API responds with.
// Unrecognized errors map to 500.
func StatusCode(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindDataFetch:
		return http.StatusBadGateway
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindPrediction, KindDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
