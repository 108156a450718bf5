package dialogue

import (
	"errors"

	"github.com/ent0n29/voiceloop/internal/reliability"
)

var (
	// ErrNoReply reports a successful /process response without a reply field.
	ErrNoReply = errors.New("no reply received from bot")
	// ErrEmptyTranscript rejects blank input before any request is made.
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// Op names the backend operation a RequestError belongs to.
type Op string

const (
	OpProcess Op = "process"
	OpTTS     Op = "tts"
	OpReset   Op = "reset"
)

func (op Op) errorPrefix() string {
	if op == OpTTS {
		return "TTS error!"
	}
	return "HTTP error!"
}

// RequestError is a failed backend call. Message is suitable for display.
type RequestError struct {
	Op        Op
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func newRequestError(op Op, status int, msg string) *RequestError {
	return &RequestError{
		Op:        op,
		Status:    status,
		Message:   msg,
		Retryable: reliability.IsRetryableHTTPStatus(status),
	}
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Unwrap() error { return e.Err }
