package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	// KindTransient covers timeouts, rate limits and 5xx responses. Retried.
	KindTransient ErrorKind = iota + 1
	// KindFatal covers auth and malformed-request failures. Aborts the job.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// GatewayError is returned by providers for every failed call.
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func transientError(provider string, status int, err error) *GatewayError {
	return &GatewayError{Kind: KindTransient, Provider: provider, StatusCode: status, Err: err}
}

func fatalError(provider string, status int, err error) *GatewayError {
	return &GatewayError{Kind: KindFatal, Provider: provider, StatusCode: status, Err: err}
}

// ErrNoJSON means no JSON value could be located in a model response.
// The gateway retries it like a transient failure.
var ErrNoJSON = errors.New("no JSON found in model response")

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoJSON) {
		return true
	}
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == KindTransient
}

func IsFatal(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == KindFatal
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// classifyTransportError maps errors from the HTTP round trip itself. Only
// cancellation is fatal; the attempt budget bounds everything else.
func classifyTransportError(provider string, err error) *GatewayError {
	if errors.Is(err, context.Canceled) {
		return fatalError(provider, 0, err)
	}
	return transientError(provider, 0, err)
}
