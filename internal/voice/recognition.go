package voice

import (
	"context"
	"log"
	"strings"
)

// TranscriptBuffer accumulates the final fragments of one recognition session.
type TranscriptBuffer struct {
	b strings.Builder
}

func (t *TranscriptBuffer) Append(fragment string) {
	t.b.WriteString(fragment)
}

func (t *TranscriptBuffer) String() string {
	return t.b.String()
}

func (t *TranscriptBuffer) Reset() {
	t.b.Reset()
}

// Consume returns the trimmed transcript and empties the buffer.
func (t *TranscriptBuffer) Consume() string {
	out := strings.TrimSpace(t.b.String())
	t.b.Reset()
	return out
}

// sessionEnded is the single report of a recognition session to the orchestrator.
type sessionEnded struct {
	gen        uint64
	transcript string
	cause      Cause
	code       string
}

type recognitionSession struct {
	gen     uint64
	run     RecognitionRun
	events  <-chan RecognitionEvent
	display Display
	buffer  TranscriptBuffer
}

func startRecognition(ctx context.Context, capability SpeechCapability, cfg RecognitionConfig, gen uint64, display Display) (*recognitionSession, error) {
	run, events, err := capability.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &recognitionSession{
		gen:     gen,
		run:     run,
		events:  events,
		display: display,
	}, nil
}

// consume reads capability events until the run terminates and reports exactly once.
// Nothing is reported when ctx ends first.
func (s *recognitionSession) consume(ctx context.Context, report func(sessionEnded)) {
	for {
		select {
		case <-ctx.Done():
			s.abort()
			return
		case ev, ok := <-s.events:
			if !ok {
				report(sessionEnded{gen: s.gen, transcript: s.buffer.Consume(), cause: CauseNormal})
				return
			}
			switch ev.Type {
			case RecognitionEventStart:
				s.buffer.Reset()
			case RecognitionEventResult:
				s.applyResults(ev)
			case RecognitionEventEnd:
				report(sessionEnded{gen: s.gen, transcript: s.buffer.Consume(), cause: CauseNormal})
				return
			case RecognitionEventError:
				s.buffer.Reset()
				report(sessionEnded{gen: s.gen, cause: ClassifyRecognitionError(ev.Code), code: ev.Code})
				// The trailing end event of this run carries nothing new.
				s.abort()
				return
			}
		}
	}
}

func (s *recognitionSession) applyResults(ev RecognitionEvent) {
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	var interim strings.Builder
	for i := start; i < len(ev.Results); i++ {
		fragment := ev.Results[i]
		if fragment.IsFinal {
			s.buffer.Append(fragment.Text)
		} else {
			interim.WriteString(fragment.Text)
		}
	}
	if s.display != nil {
		s.display.Status(StatusListening, s.buffer.String()+interim.String())
	}
}

func (s *recognitionSession) abort() {
	if s.run == nil {
		return
	}
	if err := s.run.Abort(); err != nil {
		log.Printf("voice: recognition abort gen=%d: %v", s.gen, err)
	}
}
