package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/protocol"
	"github.com/ent0n29/voiceloop/internal/voice"
)

// bridgeRun is one recognition run on the device. Its events channel is written and
// closed only under Hub.mu.
type bridgeRun struct {
	hub    *Hub
	id     string
	events chan voice.RecognitionEvent
	closed bool
}

// Start asks the device to begin continuous recognition.
func (h *Hub) Start(_ context.Context, cfg voice.RecognitionConfig) (voice.RecognitionRun, <-chan voice.RecognitionEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device == nil || !h.device.speechSupported {
		return nil, nil, voice.ErrUnsupportedCapability
	}

	run := &bridgeRun{
		hub:    h,
		id:     uuid.NewString(),
		events: make(chan voice.RecognitionEvent, runEventQueueSize),
	}
	err := h.sendLocked(protocol.RecognitionStart{
		Type:            protocol.TypeRecognitionStart,
		RunID:           run.id,
		Language:        cfg.Language,
		InterimResults:  cfg.InterimResults,
		MaxAlternatives: cfg.MaxAlternatives,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start recognition: %w", err)
	}
	h.runs[run.id] = run
	return run, run.events, nil
}

// Abort stops the run on the device. Events still in flight for it are discarded.
func (r *bridgeRun) Abort() error {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.closed {
		return nil
	}
	delete(h.runs, r.id)
	r.finishLocked()
	if h.device == nil {
		return nil
	}
	return h.sendLocked(protocol.RecognitionAbort{Type: protocol.TypeRecognitionAbort, RunID: r.id})
}

func (r *bridgeRun) deliverLocked(ev voice.RecognitionEvent) {
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		log.Printf("bridge: run %s event queue full, dropping %s", r.id, ev.Type)
	}
}

func (r *bridgeRun) finishLocked() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
}

func (h *Hub) onRecognitionEvent(m protocol.RecognitionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.runs[m.RunID]
	if !ok {
		return
	}

	ev := voice.RecognitionEvent{
		Type:        voice.RecognitionEventType(m.Event),
		ResultIndex: m.ResultIndex,
		Code:        m.Error,
	}
	for _, item := range m.Results {
		ev.Results = append(ev.Results, voice.RecognitionFragment{Text: item.Text, IsFinal: item.IsFinal})
	}
	run.deliverLocked(ev)
	if m.Event == protocol.RecognitionEnded {
		run.finishLocked()
		delete(h.runs, m.RunID)
	}
}

// pendingPlayback is a clip the device is playing. done is written and closed only
// under Hub.mu.
type pendingPlayback struct {
	done chan voice.PlaybackResult
	stop func() bool
}

func (p *pendingPlayback) finishLocked(res voice.PlaybackResult) {
	p.stop()
	p.done <- res
	close(p.done)
}

// Play sends the clip to the device speaker. Cancelling ctx fails the playback with
// ctx.Err(); a later device event for it is ignored.
func (h *Hub) Play(ctx context.Context, clip voice.AudioClip) (<-chan voice.PlaybackResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device == nil {
		return nil, ErrNoDevice
	}
	if len(clip.Data) == 0 {
		return nil, audio.ErrEmptyAudio
	}

	id := uuid.NewString()
	err := h.sendLocked(protocol.PlaybackStart{
		Type:        protocol.TypePlaybackStart,
		PlaybackID:  id,
		Format:      clip.Format,
		AudioBase64: audio.EncodeBase64(clip.Data),
	})
	if err != nil {
		return nil, err
	}
	p := &pendingPlayback{done: make(chan voice.PlaybackResult, 1)}
	p.stop = context.AfterFunc(ctx, func() { h.releasePlayback(id, p, ctx.Err()) })
	h.playbacks[id] = p
	return p.done, nil
}

func (h *Hub) releasePlayback(id string, p *pendingPlayback, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playbacks[id] != p {
		return
	}
	delete(h.playbacks, id)
	p.finishLocked(voice.PlaybackResult{Err: err})
}

func (h *Hub) onPlaybackEvent(m protocol.PlaybackEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.playbacks[m.PlaybackID]
	if !ok {
		return
	}
	delete(h.playbacks, m.PlaybackID)

	var res voice.PlaybackResult
	if m.Event == protocol.PlaybackFailed {
		detail := m.Detail
		if detail == "" {
			detail = "playback failed"
		}
		res.Err = errors.New(detail)
	}
	p.finishLocked(res)
}

// Surface returns the device avatar as a voice.AvatarSurface.
func (h *Hub) Surface() voice.AvatarSurface {
	return avatarSurface{hub: h}
}

type avatarSurface struct {
	hub *Hub
}

func (s avatarSurface) FadeOut() { s.hub.command(protocol.AvatarFadeOut, "", false) }
func (s avatarSurface) FadeIn()  { s.hub.command(protocol.AvatarFadeIn, "", false) }

func (s avatarSurface) Swap(asset string, loop bool) {
	s.hub.command(protocol.AvatarSwap, asset, loop)
}

// Play starts the avatar video and waits for the device to acknowledge it.
func (s avatarSurface) Play(ctx context.Context) error {
	h := s.hub
	ack := make(chan error, 1)

	h.mu.Lock()
	id := uuid.NewString()
	err := h.sendLocked(protocol.AvatarCommand{Type: protocol.TypeAvatarCommand, CommandID: id, Action: protocol.AvatarPlay})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.acks[id] = ack
	h.mu.Unlock()

	timer := time.NewTimer(h.ackTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = errAckTimeout
	}
	h.mu.Lock()
	delete(h.acks, id)
	h.mu.Unlock()
	return err
}

func (h *Hub) command(action, asset string, loop bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.sendLocked(protocol.AvatarCommand{
		Type:      protocol.TypeAvatarCommand,
		CommandID: uuid.NewString(),
		Action:    action,
		Asset:     asset,
		Loop:      loop,
	})
	if err != nil && !errors.Is(err, ErrNoDevice) {
		log.Printf("bridge: avatar %s: %v", action, err)
	}
}

func (h *Hub) onAvatarAck(m protocol.AvatarAck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ack, ok := h.acks[m.CommandID]
	if !ok {
		return
	}
	delete(h.acks, m.CommandID)
	if m.OK {
		ack <- nil
		return
	}
	detail := m.Detail
	if detail == "" {
		detail = "avatar play rejected"
	}
	ack <- errors.New(detail)
}
