package fhirclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request.
type Kind string

const (
	KindNetwork Kind = "NETWORK_ERROR"
	KindTimeout Kind = "TIMEOUT_ERROR"
	KindAuth    Kind = "AUTH_ERROR"
	KindClient  Kind = "CLIENT_ERROR"
	KindServer  Kind = "SERVER_ERROR"
	KindParsing Kind = "PARSING_ERROR"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNetwork = errors.New("fhir network error")
	ErrTimeout = errors.New("fhir timeout")
	ErrAuth    = errors.New("fhir authentication error")
	ErrClient  = errors.New("fhir client error")
	ErrServer  = errors.New("fhir server error")
	ErrParsing = errors.New("fhir parsing error")
)

var kindSentinels = map[Kind]error{
	KindNetwork: ErrNetwork,
	KindTimeout: ErrTimeout,
	KindAuth:    ErrAuth,
	KindClient:  ErrClient,
	KindServer:  ErrServer,
	KindParsing: ErrParsing,
}

// Error is a classified failure talking to the FHIR server.
type Error struct {
	Kind    Kind
	Status  int
	URL     string
	Message string
	// Diagnostics carries OperationOutcome text returned by the server.
	Diagnostics string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Diagnostics != "" {
		msg += " (" + e.Diagnostics + ")"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Kind, e.Status, e.URL, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.URL, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.URL, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retriable reports whether the request may succeed if repeated.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

// IsRetriable reports whether err is a retriable *Error.
func IsRetriable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retriable()
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func statusError(status int, url, diagnostics string) *Error {
	e := &Error{Status: status, URL: url, Diagnostics: diagnostics}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
		e.Message = "Authentication failed. Please check your credentials."
	case status == http.StatusForbidden:
		e.Kind = KindClient
		e.Message = "Access forbidden. You don't have permission to access this resource."
	case status == http.StatusNotFound:
		e.Kind = KindClient
		e.Message = "Resource not found. The requested FHIR resource doesn't exist."
	case status == http.StatusTooManyRequests:
		e.Kind = KindClient
		e.Message = "Too many requests. Please wait before trying again."
	case status == http.StatusInternalServerError:
		e.Kind = KindServer
		e.Message = "Internal server error. The FHIR server encountered an unexpected condition."
	case status == http.StatusBadGateway:
		e.Kind = KindServer
		e.Message = "Bad gateway. The FHIR server is temporarily unavailable."
	case status == http.StatusServiceUnavailable:
		e.Kind = KindServer
		e.Message = "Service unavailable. The FHIR server is currently down for maintenance."
	case status == http.StatusGatewayTimeout:
		e.Kind = KindServer
		e.Message = "Gateway timeout. The FHIR server did not respond in time."
	case status >= 500:
		e.Kind = KindServer
		e.Message = fmt.Sprintf("Server error %d. The FHIR server encountered an issue.", status)
	default:
		e.Kind = KindClient
		e.Message = fmt.Sprintf("Client error %d. Please verify your request parameters.", status)
	}
	return e
}

// transportError classifies an error returned by http.Client.Do. attemptCtx
// is the per-attempt context; a deadline on it (and not on the parent) is a
// timeout.
func transportError(parent, attemptCtx context.Context, url string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:    KindTimeout,
			URL:     url,
			Message: "Request timeout. The server is taking too long to respond.",
			Err:     err,
		}
	}
	return &Error{
		Kind:    KindNetwork,
		URL:     url,
		Message: "Network error. Please check your connection and try again.",
		Err:     err,
	}
}

func parsingError(url string, err error) *Error {
	return &Error{
		Kind:    KindParsing,
		URL:     url,
		Message: "An unexpected error occurred while processing FHIR data",
		Err:     err,
	}
}
