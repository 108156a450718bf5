package voice

import "time"

type InteractionState string

const (
	StateIdle         InteractionState = "idle"
	StateListening    InteractionState = "listening"
	StateThinking     InteractionState = "thinking"
	StateSpeaking     InteractionState = "speaking"
	StateRetryPending InteractionState = "retry_pending"
)

// DialogueExchange lives from the moment a transcript is sent until playback of the
// reply ends or fails.
type DialogueExchange struct {
	ID         uint64
	Transcript string
	Reply      string
	AudioRef   string
	StartedAt  time.Time
}

// Snapshot is a copy of the loop state published after every processed event.
type Snapshot struct {
	State             InteractionState `json:"state"`
	Speaking          bool             `json:"speaking"`
	SessionActive     bool             `json:"session_active"`
	SessionGeneration uint64           `json:"session_generation"`
	ExchangeActive    bool             `json:"exchange_active"`
	ExchangeID        uint64           `json:"exchange_id,omitempty"`
	RetryPending      bool             `json:"retry_pending"`
	RetryCause        Cause            `json:"retry_cause,omitempty"`
	RetryDelayMS      int64            `json:"retry_delay_ms,omitempty"`
	Halted            Cause            `json:"halted,omitempty"`
	Activated         bool             `json:"activated"`
}

// activeUnits counts the loop activities currently in flight. The loop is sequential,
// so this never exceeds one.
func (s Snapshot) activeUnits() int {
	n := 0
	for _, active := range []bool{s.SessionActive, s.ExchangeActive, s.RetryPending} {
		if active {
			n++
		}
	}
	return n
}
