package voice

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// MockCapability is a scripted recognizer used when no device is attached. Each run
// "hears" the next utterance of the script; an empty utterance ends the run with a
// no-speech error.
type MockCapability struct {
	mu         sync.Mutex
	utterances []string
	next       int
	delay      time.Duration
}

func NewMockCapability(delay time.Duration, utterances ...string) *MockCapability {
	if len(utterances) == 0 {
		utterances = []string{"hello, can you tell me about home insurance?"}
	}
	return &MockCapability{utterances: utterances, delay: delay}
}

func (m *MockCapability) Start(ctx context.Context, _ RecognitionConfig) (RecognitionRun, <-chan RecognitionEvent, error) {
	m.mu.Lock()
	utterance := m.utterances[m.next%len(m.utterances)]
	m.next++
	m.mu.Unlock()

	events := make(chan RecognitionEvent, 8)
	run := &mockRun{stop: make(chan struct{})}
	go run.play(ctx, events, utterance, m.delay)
	return run, events, nil
}

type mockRun struct {
	once sync.Once
	stop chan struct{}
}

func (r *mockRun) Abort() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}

func (r *mockRun) play(ctx context.Context, events chan<- RecognitionEvent, utterance string, delay time.Duration) {
	defer close(events)
	events <- RecognitionEvent{Type: RecognitionEventStart}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-r.stop:
		events <- RecognitionEvent{Type: RecognitionEventError, Code: "aborted"}
		return
	case <-timer.C:
	}

	if strings.TrimSpace(utterance) == "" {
		events <- RecognitionEvent{Type: RecognitionEventError, Code: "no-speech"}
		return
	}
	words := strings.Fields(utterance)
	if len(words) > 1 {
		events <- RecognitionEvent{
			Type:    RecognitionEventResult,
			Results: []RecognitionFragment{{Text: strings.Join(words[:len(words)/2], " ")}},
		}
	}
	events <- RecognitionEvent{
		Type:    RecognitionEventResult,
		Results: []RecognitionFragment{{Text: utterance, IsFinal: true}},
	}
	events <- RecognitionEvent{Type: RecognitionEventEnd}
}

// MockPlayback pretends to play a clip for a time proportional to its size.
type MockPlayback struct {
	BytesPerSecond int
	MaxDuration    time.Duration
}

func NewMockPlayback() *MockPlayback {
	return &MockPlayback{BytesPerSecond: 48000, MaxDuration: 10 * time.Second}
}

func (p *MockPlayback) Play(ctx context.Context, clip AudioClip) (<-chan PlaybackResult, error) {
	d := p.duration(len(clip.Data))
	done := make(chan PlaybackResult, 1)
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			done <- PlaybackResult{Err: ctx.Err()}
		case <-timer.C:
			done <- PlaybackResult{}
		}
		close(done)
	}()
	log.Printf("mock playback: %s clip, %d bytes, %s", clip.Format, len(clip.Data), d)
	return done, nil
}

func (p *MockPlayback) duration(size int) time.Duration {
	if p.BytesPerSecond <= 0 {
		return 0
	}
	d := time.Duration(size) * time.Second / time.Duration(p.BytesPerSecond)
	if p.MaxDuration > 0 && d > p.MaxDuration {
		d = p.MaxDuration
	}
	return d
}

// LogSurface is an AvatarSurface that only logs.
type LogSurface struct{}

func (LogSurface) FadeOut() { log.Printf("avatar surface: fade out") }
func (LogSurface) FadeIn()  { log.Printf("avatar surface: fade in") }

func (LogSurface) Swap(asset string, loop bool) {
	log.Printf("avatar surface: swap %s loop=%t", asset, loop)
}

func (LogSurface) Play(_ context.Context) error { return nil }

// LogDisplay writes display updates to the process log.
type LogDisplay struct{}

func NewLogDisplay() *LogDisplay { return &LogDisplay{} }

func (*LogDisplay) Status(status Status, detail string) {
	if detail == "" {
		log.Printf("display: status=%s", status)
		return
	}
	log.Printf("display: status=%s detail=%q", status, detail)
}

func (*LogDisplay) UserMessage(text string) { log.Printf("display: user: %s", text) }
func (*LogDisplay) BotMessage(text string)  { log.Printf("display: bot: %s", text) }
func (*LogDisplay) Error(message string)    { log.Printf("display: error: %s", message) }
