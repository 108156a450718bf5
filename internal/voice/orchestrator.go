package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voiceloop/internal/dialogue"
	"github.com/ent0n29/voiceloop/internal/observability"
)

var (
	ErrAlreadyActive = errors.New("voice loop already active")
	ErrStopped       = errors.New("voice loop stopped")
)

const (
	eventQueueSize = 64
	resetTimeout   = 5 * time.Second
)

// Options wires the orchestrator to its collaborators.
type Options struct {
	Capability  SpeechCapability
	Dialogue    Dialogue
	Playback    PlaybackEngine
	Avatar      Avatar
	Display     Display
	Metrics     *observability.Metrics
	Recognition RecognitionConfig
	Retry       RetryPolicy
}

type activateRequest struct {
	reply chan error
}

type retryFired struct {
	gen uint64
}

type dialogueResult struct {
	exchangeID uint64
	reply      dialogue.Reply
	err        error
}

// Orchestrator runs the listen, think, speak cycle. All loop state below the events
// channel is owned by the Run goroutine; other goroutines only post events.
type Orchestrator struct {
	capability SpeechCapability
	dialogue   Dialogue
	player     *SynthesisPlayer
	avatar     Avatar
	display    Display
	metrics    *observability.Metrics
	recCfg     RecognitionConfig
	retry      RetryPolicy

	afterFunc func(d time.Duration, f func()) (stop func() bool)
	now       func() time.Time

	events chan any
	done   chan struct{}

	ctx         context.Context
	state       InteractionState
	activated   bool
	halted      Cause
	speaking    bool
	sessionGen  uint64
	session     *recognitionSession
	sessionAt   time.Time
	retryGen    uint64
	retryStop   func() bool
	retryCause  Cause
	retryDelay  time.Duration
	exchangeSeq uint64
	exchange    *DialogueExchange
	speakingAt  time.Time
	resetOnSend bool

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Recognition.Language == "" {
		opts.Recognition = DefaultRecognitionConfig()
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Display == nil {
		opts.Display = NewLogDisplay()
	}
	o := &Orchestrator{
		capability: opts.Capability,
		dialogue:   opts.Dialogue,
		player:     NewSynthesisPlayer(opts.Dialogue, opts.Playback),
		avatar:     opts.Avatar,
		display:    opts.Display,
		metrics:    opts.Metrics,
		recCfg:     opts.Recognition,
		retry:      opts.Retry,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:    time.Now,
		events: make(chan any, eventQueueSize),
		done:   make(chan struct{}),
		ctx:    context.Background(),
		state:  StateIdle,
	}
	o.publish()
	return o
}

// Run processes loop events until ctx is cancelled. Each event is handled to
// completion before the next one is read.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	defer o.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// Activate is the one-shot user start control. It fails with ErrAlreadyActive unless
// the loop is idle, which includes the halted state after a permission failure.
func (o *Orchestrator) Activate(ctx context.Context) error {
	req := activateRequest{reply: make(chan error, 1)}
	select {
	case o.events <- req:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the loop state as of the last processed event.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// Halted reports why the loop stopped itself, or "" while it runs or before activation.
func (o *Orchestrator) Halted() Cause {
	return o.Snapshot().Halted
}

func (o *Orchestrator) post(ev any) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(ev any) {
	switch e := ev.(type) {
	case activateRequest:
		e.reply <- o.onActivate()
	case sessionEnded:
		o.onSessionEnd(e)
	case retryFired:
		o.onRetryFired(e)
	case dialogueResult:
		o.onDialogueResult(e)
	case playbackEvent:
		o.onPlaybackEvent(e)
	default:
		log.Printf("voice: unknown loop event %T", ev)
	}
	o.publish()
}

func (o *Orchestrator) onActivate() error {
	if o.state != StateIdle {
		return ErrAlreadyActive
	}
	o.activated = true
	o.halted = ""
	o.resetOnSend = true
	o.beginSession()
	return nil
}

// beginSession starts a recognition session unless one is already running.
func (o *Orchestrator) beginSession() {
	if o.session != nil {
		return
	}
	if o.exchange != nil {
		log.Printf("voice: refusing to listen while exchange %d is in flight", o.exchange.ID)
		return
	}
	o.cancelRetry()

	o.sessionGen++
	sess, err := startRecognition(o.ctx, o.capability, o.recCfg, o.sessionGen, o.display)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCapability) {
			o.metrics.ObserveRecognition("unsupported")
			o.halt(CauseUnsupported, recognitionMessage(CauseUnsupported, ""))
			return
		}
		log.Printf("voice: recognition start failed: %v", err)
		o.metrics.ObserveRecognition("start_failed")
		o.display.Error("Mic error: " + err.Error())
		o.scheduleRetry(CauseUnclassified)
		return
	}

	o.session = sess
	o.sessionAt = o.now()
	o.transition(StateListening)
	if o.avatar != nil {
		o.avatar.SwitchTo(AvatarBlinking)
	}
	o.display.Status(StatusListening, "")
	o.metrics.ObserveRecognition("started")
	go sess.consume(o.ctx, func(r sessionEnded) { o.post(r) })
}

func (o *Orchestrator) onSessionEnd(e sessionEnded) {
	if o.session == nil || e.gen != o.session.gen {
		o.metrics.ObserveRecognition("stale")
		return
	}
	o.session = nil
	o.cancelRetry()
	o.metrics.ObserveLoopStage(observability.StageListen, o.now().Sub(o.sessionAt))
	o.metrics.ObserveRecognition(string(e.cause))

	transcript := strings.TrimSpace(e.transcript)
	if e.cause == CauseNormal && transcript != "" {
		o.beginDialogue(transcript)
		return
	}

	o.display.Status(StatusIdle, "")
	if _, ok := o.retry.Delay(e.cause); !ok {
		o.halt(e.cause, recognitionMessage(e.cause, e.code))
		return
	}
	if o.speaking {
		// Playback end restarts recognition.
		log.Printf("voice: session %d ended (%s) during playback, retry suppressed", e.gen, e.cause)
		return
	}
	if msg := recognitionMessage(e.cause, e.code); msg != "" {
		o.display.Error(msg)
	} else {
		log.Printf("voice: session %d ended (%s)", e.gen, e.cause)
	}
	o.scheduleRetry(e.cause)
}

func (o *Orchestrator) scheduleRetry(cause Cause) {
	d, ok := o.retry.Delay(cause)
	if !ok {
		return
	}
	o.cancelRetry()
	o.retryGen++
	gen := o.retryGen
	o.retryCause = cause
	o.retryDelay = d
	o.retryStop = o.afterFunc(d, func() { o.post(retryFired{gen: gen}) })
	o.transition(StateRetryPending)
	o.metrics.ObserveRetry(string(cause))
	log.Printf("voice: retry scheduled cause=%s delay=%s", cause, d)
}

// cancelRetry stops the pending timer and invalidates a fire already queued.
func (o *Orchestrator) cancelRetry() {
	if o.retryStop != nil {
		o.retryStop()
		o.retryStop = nil
	}
	o.retryGen++
	o.retryCause = ""
	o.retryDelay = 0
}

func (o *Orchestrator) onRetryFired(e retryFired) {
	if o.retryStop == nil || e.gen != o.retryGen {
		return
	}
	o.retryStop = nil
	o.beginSession()
}

func (o *Orchestrator) beginDialogue(transcript string) {
	o.cancelRetry()
	o.display.UserMessage(transcript)
	o.display.Status(StatusThinking, "")
	o.transition(StateThinking)

	o.exchangeSeq++
	ex := &DialogueExchange{ID: o.exchangeSeq, Transcript: transcript, StartedAt: o.now()}
	o.exchange = ex

	reset := o.resetOnSend
	o.resetOnSend = false
	ctx := o.ctx
	go func() {
		if r, ok := o.dialogue.(conversationResetter); ok && reset {
			resetCtx, cancel := context.WithTimeout(ctx, resetTimeout)
			if err := r.Reset(resetCtx); err != nil {
				log.Printf("voice: conversation reset failed: %v", err)
			}
			cancel()
		}
		reply, err := o.dialogue.Send(ctx, transcript)
		o.post(dialogueResult{exchangeID: ex.ID, reply: reply, err: err})
	}()
}

func (o *Orchestrator) onDialogueResult(e dialogueResult) {
	ex := o.exchange
	if ex == nil || e.exchangeID != ex.ID {
		return
	}
	o.metrics.ObserveLoopStage(observability.StageTranscriptToReply, o.now().Sub(ex.StartedAt))

	reply := strings.TrimSpace(e.reply.Text)
	switch {
	case errors.Is(e.err, dialogue.ErrNoReply) || (e.err == nil && reply == ""):
		o.metrics.ObserveDialogue("process", "no_reply")
		o.display.Error("No reply received from bot.")
		o.finishExchange()
		return
	case e.err != nil:
		log.Printf("voice: dialogue exchange %d failed: %v", ex.ID, e.err)
		o.metrics.ObserveDialogue("process", "error")
		o.display.Error("Communication error: " + e.err.Error())
		o.finishExchange()
		return
	}

	o.metrics.ObserveDialogue("process", "ok")
	ex.Reply = reply
	ex.AudioRef = e.reply.AudioID
	o.display.BotMessage(reply)
	o.display.Status(StatusResponded, "")

	ctx := o.ctx
	exchange := *ex
	go o.player.Play(ctx, exchange, func(pe playbackEvent) { o.post(pe) })
}

func (o *Orchestrator) onPlaybackEvent(e playbackEvent) {
	ex := o.exchange
	if ex == nil || e.exchangeID != ex.ID {
		return
	}
	o.metrics.ObservePlayback(string(e.kind))

	switch e.kind {
	case playbackStarted:
		o.metrics.ObserveDialogue("tts", "ok")
		o.metrics.ObserveLoopStage(observability.StageReplyToAudio, o.now().Sub(ex.StartedAt))
		o.speaking = true
		o.speakingAt = o.now()
		o.transition(StateSpeaking)
		if o.avatar != nil {
			o.avatar.SwitchTo(AvatarTalking)
		}
		o.display.Status(StatusSpeaking, "")
	case playbackEnded, playbackFailed:
		if o.speaking {
			o.metrics.ObserveLoopStage(observability.StagePlayback, o.now().Sub(o.speakingAt))
			o.metrics.ObserveLoopStage(observability.StageTranscriptToSpeech, o.now().Sub(ex.StartedAt))
		} else {
			o.metrics.ObserveDialogue("tts", e.reason)
		}
		if e.kind == playbackFailed {
			log.Printf("voice: exchange %d playback failed: %s", ex.ID, e.reason)
			o.display.Error(e.message)
		}
		o.speaking = false
		if o.avatar != nil {
			o.avatar.SwitchTo(AvatarBlinking)
		}
		o.finishExchange()
	}
}

// finishExchange drops the active exchange and listens again without backoff.
func (o *Orchestrator) finishExchange() {
	o.exchange = nil
	o.beginSession()
}

// halt stops the automatic loop until the user activates it again.
func (o *Orchestrator) halt(reason Cause, message string) {
	o.cancelRetry()
	o.session = nil
	o.halted = reason
	o.transition(StateIdle)
	o.display.Status(StatusIdle, "")
	if message != "" {
		o.display.Error(message)
	}
	log.Printf("voice: loop halted (%s)", reason)
}

func (o *Orchestrator) transition(to InteractionState) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.metrics.ObserveTransition(string(from), string(to))
}

func (o *Orchestrator) publish() {
	snap := Snapshot{
		State:             o.state,
		Speaking:          o.speaking,
		SessionActive:     o.session != nil,
		SessionGeneration: o.sessionGen,
		ExchangeActive:    o.exchange != nil,
		RetryPending:      o.retryStop != nil,
		Halted:            o.halted,
		Activated:         o.activated,
	}
	if o.exchange != nil {
		snap.ExchangeID = o.exchange.ID
	}
	if o.retryStop != nil {
		snap.RetryCause = o.retryCause
		snap.RetryDelayMS = o.retryDelay.Milliseconds()
	}
	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}

func (o *Orchestrator) shutdown() {
	o.cancelRetry()
	if o.session != nil {
		o.session.abort()
		o.session = nil
	}
	o.publish()
}
