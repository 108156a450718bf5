package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageRecognitionEvent(t *testing.T) {
	raw := []byte(`{"type":"recognition_event","run_id":"r1","event":"result","result_index":1,"results":[{"text":"hi","is_final":true},{"text":" there","is_final":false}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	ev, ok := msg.(RecognitionEvent)
	if !ok {
		t.Fatalf("message type = %T, want RecognitionEvent", msg)
	}
	if ev.RunID != "r1" || ev.ResultIndex != 1 || len(ev.Results) != 2 {
		t.Fatalf("unexpected recognition event: %+v", ev)
	}
	if !ev.Results[0].IsFinal || ev.Results[1].IsFinal {
		t.Fatalf("IsFinal flags = %v/%v, want true/false", ev.Results[0].IsFinal, ev.Results[1].IsFinal)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"activate"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionActivate {
		t.Fatalf("Action = %q, want %q", control.Action, ActionActivate)
	}
}

func TestParseClientMessageHello(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"device_hello","speech_supported":true}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	hello, ok := msg.(DeviceHello)
	if !ok || !hello.SpeechSupported {
		t.Fatalf("message = %#v, want DeviceHello with speech support", msg)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"control without action":     `{"type":"client_control"}`,
		"recognition without run":    `{"type":"recognition_event","event":"end"}`,
		"recognition unknown event":  `{"type":"recognition_event","run_id":"r1","event":"pause"}`,
		"playback unknown event":     `{"type":"playback_event","playback_id":"p1","event":"paused"}`,
		"playback without id":        `{"type":"playback_event","event":"ended"}`,
		"avatar ack without command": `{"type":"avatar_ack","ok":true}`,
		"broken json":                `{"type":`,
	}
	for name, raw := range tests {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func BenchmarkParseClientMessageRecognitionEvent(b *testing.B) {
	raw := []byte(`{"type":"recognition_event","run_id":"r1","event":"result","results":[{"text":"hello there","is_final":true}]}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(RecognitionEvent); !ok {
			b.Fatalf("message type = %T, want RecognitionEvent", msg)
		}
	}
}
