package voice

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voiceloop/internal/dialogue"
)

type fakeRun struct {
	events  chan RecognitionEvent
	mu      sync.Mutex
	aborted int
}

func (r *fakeRun) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted++
	return nil
}

func (r *fakeRun) abortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

type fakeCapability struct {
	mu   sync.Mutex
	runs []*fakeRun
	err  error
}

func (c *fakeCapability) Start(_ context.Context, _ RecognitionConfig) (RecognitionRun, <-chan RecognitionEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, nil, c.err
	}
	run := &fakeRun{events: make(chan RecognitionEvent, 16)}
	c.runs = append(c.runs, run)
	return run, run.events, nil
}

func (c *fakeCapability) starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

func (c *fakeCapability) last(t *testing.T) *fakeRun {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.runs) == 0 {
		t.Fatalf("no recognition run started")
	}
	return c.runs[len(c.runs)-1]
}

// say feeds one finished utterance into run.
func (r *fakeRun) say(text string) {
	r.events <- RecognitionEvent{Type: RecognitionEventStart}
	r.events <- RecognitionEvent{Type: RecognitionEventResult, Results: []RecognitionFragment{{Text: text, IsFinal: true}}}
	r.events <- RecognitionEvent{Type: RecognitionEventEnd}
}

func (r *fakeRun) fail(code string) {
	r.events <- RecognitionEvent{Type: RecognitionEventStart}
	r.events <- RecognitionEvent{Type: RecognitionEventError, Code: code}
	r.events <- RecognitionEvent{Type: RecognitionEventEnd}
}

type fakeDialogue struct {
	mu          sync.Mutex
	reply       dialogue.Reply
	sendErr     error
	audio       string
	synthErr    error
	transcripts []string
	synthesized [][2]string
	resets      int
}

func newFakeDialogue(reply string) *fakeDialogue {
	return &fakeDialogue{
		reply: dialogue.Reply{Text: reply, AudioID: "audio-1"},
		audio: base64.StdEncoding.EncodeToString([]byte("ID3-fake-mpeg-payload")),
	}
}

func (d *fakeDialogue) Send(_ context.Context, transcript string) (dialogue.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transcripts = append(d.transcripts, transcript)
	return d.reply, d.sendErr
}

func (d *fakeDialogue) Synthesize(_ context.Context, text, audioID string) (dialogue.Synthesis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.synthesized = append(d.synthesized, [2]string{text, audioID})
	if d.synthErr != nil {
		return dialogue.Synthesis{}, d.synthErr
	}
	return dialogue.Synthesis{AudioBase64: d.audio}, nil
}

func (d *fakeDialogue) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

func (d *fakeDialogue) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.transcripts...)
}

// synthCalls returns the (text, audioID) pairs passed to Synthesize.
func (d *fakeDialogue) synthCalls() [][2]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]string(nil), d.synthesized...)
}

func (d *fakeDialogue) resetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

type fakePlayback struct {
	plays chan chan PlaybackResult
	err   error
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{plays: make(chan chan PlaybackResult, 4)}
}

func (p *fakePlayback) Play(_ context.Context, _ AudioClip) (<-chan PlaybackResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	done := make(chan PlaybackResult, 1)
	p.plays <- done
	return done, nil
}

func (p *fakePlayback) next(t *testing.T) chan PlaybackResult {
	t.Helper()
	select {
	case done := <-p.plays:
		return done
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback to start")
		return nil
	}
}

type recordingDisplay struct {
	mu       sync.Mutex
	statuses []Status
	details  []string
	users    []string
	bots     []string
	errors   []string
}

func (d *recordingDisplay) Status(status Status, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	d.details = append(d.details, detail)
}

func (d *recordingDisplay) UserMessage(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, text)
}

func (d *recordingDisplay) BotMessage(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bots = append(d.bots, text)
}

func (d *recordingDisplay) Error(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, message)
}

func (d *recordingDisplay) lastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errors) == 0 {
		return ""
	}
	return d.errors[len(d.errors)-1]
}

func (d *recordingDisplay) lastStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.statuses) == 0 {
		return ""
	}
	return d.statuses[len(d.statuses)-1]
}

type recordingAvatar struct {
	mu     sync.Mutex
	states []AvatarState
}

func (a *recordingAvatar) SwitchTo(state AvatarState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, state)
}

func (a *recordingAvatar) last() AvatarState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.states) == 0 {
		return ""
	}
	return a.states[len(a.states)-1]
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, tm)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !tm.stopped
		tm.stopped = true
		return was
	}
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, tm := range c.timers {
		if !tm.stopped {
			out = append(out, tm)
		}
	}
	return out
}

type harness struct {
	o        *Orchestrator
	cap      *fakeCapability
	dialogue *fakeDialogue
	playback *fakePlayback
	display  *recordingDisplay
	avatar   *recordingAvatar
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cap:      &fakeCapability{},
		dialogue: newFakeDialogue("Hi there"),
		playback: newFakePlayback(),
		display:  &recordingDisplay{},
		avatar:   &recordingAvatar{},
		clock:    &fakeClock{},
	}
	h.o = NewOrchestrator(Options{
		Capability: h.cap,
		Dialogue:   h.dialogue,
		Playback:   h.playback,
		Avatar:     h.avatar,
		Display:    h.display,
	})
	h.o.afterFunc = h.clock.afterFunc
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.o.ctx = ctx
	return h
}

func (h *harness) activate(t *testing.T) error {
	t.Helper()
	req := activateRequest{reply: make(chan error, 1)}
	h.o.handle(req)
	return <-req.reply
}

// pump handles the next posted loop event and checks the exclusivity invariant.
func (h *harness) pump(t *testing.T) any {
	t.Helper()
	select {
	case ev := <-h.o.events:
		h.o.handle(ev)
		if n := h.o.Snapshot().activeUnits(); n > 1 {
			t.Fatalf("active units = %d after %T, want <= 1", n, ev)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for loop event")
		return nil
	}
}

func pumpAs[T any](t *testing.T, h *harness) T {
	t.Helper()
	ev := h.pump(t)
	got, ok := ev.(T)
	if !ok {
		var want T
		t.Fatalf("loop event = %T, want %T", ev, want)
	}
	return got
}
