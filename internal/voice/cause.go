package voice

import "time"

// Cause explains why a recognition session ended.
type Cause string

const (
	CauseNormal           Cause = "normal"
	CauseNoSpeech         Cause = "no_speech"
	CauseNetwork          Cause = "network"
	CauseSuperseded       Cause = "superseded"
	CauseUnclassified     Cause = "unclassified"
	CausePermissionDenied Cause = "permission_denied"
	CauseUnsupported      Cause = "unsupported"
)

// ClassifyRecognitionError maps a recognizer error code to a Cause.
func ClassifyRecognitionError(code string) Cause {
	switch code {
	case "no-speech":
		return CauseNoSpeech
	case "network":
		return CauseNetwork
	case "aborted":
		return CauseSuperseded
	case "not-allowed", "service-not-allowed":
		return CausePermissionDenied
	default:
		return CauseUnclassified
	}
}

// RetryPolicy holds the backoff before listening again, per cause.
type RetryPolicy struct {
	NoSpeech     time.Duration
	Network      time.Duration
	Superseded   time.Duration
	Unclassified time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		NoSpeech:     15 * time.Second,
		Network:      15 * time.Second,
		Superseded:   500 * time.Millisecond,
		Unclassified: 15 * time.Second,
	}
}

// Delay returns the backoff for cause. ok is false when the loop must halt instead.
// A normal end without a transcript is treated as silence.
func (p RetryPolicy) Delay(cause Cause) (d time.Duration, ok bool) {
	switch cause {
	case CauseNormal, CauseNoSpeech:
		return p.NoSpeech, true
	case CauseNetwork:
		return p.Network, true
	case CauseSuperseded:
		return p.Superseded, true
	case CausePermissionDenied, CauseUnsupported:
		return 0, false
	default:
		return p.Unclassified, true
	}
}

func recognitionMessage(cause Cause, code string) string {
	switch cause {
	case CauseNormal, CauseNoSpeech:
		return "No voice detected. Please speak."
	case CauseNetwork:
		return "Network error during speech recognition. Check your connection."
	case CausePermissionDenied:
		return "Microphone access denied. Please allow microphone in browser settings."
	case CauseUnsupported:
		return "Speech Recognition is not supported in this environment."
	case CauseSuperseded:
		return ""
	default:
		if code == "" {
			code = "unknown"
		}
		return "Mic error: " + code
	}
}
