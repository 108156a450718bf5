package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/memory"
)

// Message is one entry of the conversation handed to a Brain.
type Message struct {
	Role    string
	Content string
}

// Brain produces the assistant reply for a conversation. history ends with the current
// user message.
type Brain interface {
	Reply(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Synthesizer renders reply text as playable audio (a complete WAV or MP3 file).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MockBrain echoes the last user message. It keeps the backend usable without a
// provider key.
type MockBrain struct{}

func (MockBrain) Reply(_ context.Context, _ string, history []Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleUser {
			return fmt.Sprintf("You said: %s", strings.TrimSpace(history[i].Content)), nil
		}
	}
	return "", nil
}

// MockSynthesizer returns silence whose length follows the text length.
type MockSynthesizer struct {
	SampleRate int
}

func (m MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSynthesisSampleRate
	}
	// ~60ms of audio per character, capped at 10s.
	samples := len([]rune(text)) * rate * 60 / 1000
	if samples > rate*10 {
		samples = rate * 10
	}
	if samples <= 0 {
		samples = rate / 10
	}
	return audio.EncodeWAVPCM16LE(make([]byte, samples*2), rate)
}
