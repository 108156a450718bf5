package voice

import (
	"context"
	"errors"

	"github.com/ent0n29/voiceloop/internal/dialogue"
)

// ErrUnsupportedCapability is returned by a SpeechCapability when the host has no
// speech recognition support.
var ErrUnsupportedCapability = errors.New("speech recognition is not supported")

type RecognitionConfig struct {
	Language        string
	InterimResults  bool
	MaxAlternatives int
}

func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		Language:        "en-US",
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

type RecognitionEventType string

const (
	RecognitionEventStart  RecognitionEventType = "start"
	RecognitionEventResult RecognitionEventType = "result"
	RecognitionEventEnd    RecognitionEventType = "end"
	RecognitionEventError  RecognitionEventType = "error"
)

type RecognitionFragment struct {
	Text    string
	IsFinal bool
}

// RecognitionEvent mirrors the callbacks of a continuous recognizer. Results holds the
// full result list of the run; ResultIndex is the first entry that changed.
type RecognitionEvent struct {
	Type        RecognitionEventType
	ResultIndex int
	Results     []RecognitionFragment
	Code        string
}

type RecognitionRun interface {
	Abort() error
}

// SpeechCapability starts one recognition run. The events channel is closed by the
// capability after the run ends.
type SpeechCapability interface {
	Start(ctx context.Context, cfg RecognitionConfig) (RecognitionRun, <-chan RecognitionEvent, error)
}

type AudioClip struct {
	Data   []byte
	Format string
}

// PlaybackResult terminates a playback. A nil Err means the clip played to the end.
type PlaybackResult struct {
	Err error
}

// PlaybackEngine plays decoded audio. Play fails immediately when playback cannot
// start (unsupported format, autoplay blocked).
type PlaybackEngine interface {
	Play(ctx context.Context, clip AudioClip) (<-chan PlaybackResult, error)
}

// AvatarSurface is the video element behind the avatar.
type AvatarSurface interface {
	FadeOut()
	FadeIn()
	Swap(asset string, loop bool)
	Play(ctx context.Context) error
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusResponded Status = "responded"
	StatusSpeaking  Status = "speaking"
	StatusError     Status = "error"
)

// Display receives everything the loop wants the user to see. Implementations must be
// safe for concurrent use.
type Display interface {
	Status(status Status, detail string)
	UserMessage(text string)
	BotMessage(text string)
	Error(message string)
}

// Dialogue is the backend used for replies and synthesized speech.
type Dialogue interface {
	Send(ctx context.Context, transcript string) (dialogue.Reply, error)
	Synthesize(ctx context.Context, text, audioID string) (dialogue.Synthesis, error)
}

type conversationResetter interface {
	Reset(ctx context.Context) error
}

// Avatar accepts animation state changes from the orchestrator.
type Avatar interface {
	SwitchTo(state AvatarState)
}
