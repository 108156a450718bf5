package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/voiceloop/internal/audio"
)

type playbackKind string

const (
	playbackStarted playbackKind = "started"
	playbackEnded   playbackKind = "ended"
	playbackFailed  playbackKind = "failed"
)

// playbackEvent is one lifecycle step of a synthesis exchange. message is the
// user-facing text for failures; reason is for logs and metrics.
type playbackEvent struct {
	exchangeID uint64
	kind       playbackKind
	reason     string
	message    string
}

const reasonNoAudio = "no audio available"

// SynthesisPlayer fetches speech for a reply and plays it.
type SynthesisPlayer struct {
	dialogue Dialogue
	engine   PlaybackEngine
}

func NewSynthesisPlayer(d Dialogue, engine PlaybackEngine) *SynthesisPlayer {
	return &SynthesisPlayer{dialogue: d, engine: engine}
}

// Play runs the synthesis exchange and emits started at most once. Every started is
// followed by exactly one ended or failed; without started, exactly one failed.
func (p *SynthesisPlayer) Play(ctx context.Context, ex DialogueExchange, emit func(playbackEvent)) {
	fail := func(reason, message string) {
		emit(playbackEvent{exchangeID: ex.ID, kind: playbackFailed, reason: reason, message: message})
	}

	syn, err := p.dialogue.Synthesize(ctx, ex.Reply, ex.AudioRef)
	if err != nil {
		fail("synthesis_error", "TTS error: "+err.Error())
		return
	}
	if syn.AudioBase64 == "" {
		fail(reasonNoAudio, "Bot responded, but no audio available.")
		return
	}
	data, err := audio.DecodeBase64(syn.AudioBase64)
	if err != nil {
		if errors.Is(err, audio.ErrEmptyAudio) {
			fail(reasonNoAudio, "Bot responded, but no audio available.")
			return
		}
		fail("decode_error", "TTS error: "+err.Error())
		return
	}
	clip := AudioClip{Data: data, Format: audio.SniffFormat(data)}

	emit(playbackEvent{exchangeID: ex.ID, kind: playbackStarted})

	done, err := p.engine.Play(ctx, clip)
	if err != nil {
		fail("playback_error", "Audio playback error: "+err.Error())
		return
	}
	select {
	case <-ctx.Done():
		fail("cancelled", fmt.Sprintf("Audio playback error: %v", ctx.Err()))
	case res, ok := <-done:
		if ok && res.Err != nil {
			fail("playback_error", "Audio playback error: "+res.Err.Error())
			return
		}
		emit(playbackEvent{exchangeID: ex.ID, kind: playbackEnded})
	}
}
