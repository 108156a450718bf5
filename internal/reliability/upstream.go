package reliability

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamKind classifies a failure reported by a model provider.
type UpstreamKind string

const (
	UpstreamAuth       UpstreamKind = "auth"
	UpstreamBadRequest UpstreamKind = "bad_request"
	UpstreamAPI        UpstreamKind = "api"
)

// UpstreamError is a provider failure with enough shape for callers to pick a response
// without knowing which provider produced it.
type UpstreamError struct {
	Kind    UpstreamKind
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == UpstreamAPI && IsRetryableHTTPStatus(e.Status)
}

// NewUpstreamError classifies a provider HTTP status.
func NewUpstreamError(status int, message string, err error) *UpstreamError {
	kind := UpstreamAPI
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = UpstreamAuth
	case http.StatusBadRequest:
		kind = UpstreamBadRequest
	}
	return &UpstreamError{Kind: kind, Status: status, Message: message, Err: err}
}

// AsUpstream unwraps err into an UpstreamError when it carries one.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsAuthFailure reports whether err is a rejected provider credential.
func IsAuthFailure(err error) bool {
	ue, ok := AsUpstream(err)
	return ok && ue.Kind == UpstreamAuth
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	ue, ok := AsUpstream(err)
	return ok && ue.Retryable()
}
