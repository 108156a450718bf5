package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voiceloop/internal/voice"
)

type testDevice struct {
	conn *websocket.Conn
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, 500*time.Millisecond)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeDevice(r.Context(), conn)
	})
	mux.HandleFunc("/display", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeDisplay(r.Context(), conn)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func connectDevice(t *testing.T, hub *Hub, ts *httptest.Server) *testDevice {
	t.Helper()
	d := &testDevice{conn: dial(t, ts, "/device")}
	d.send(t, map[string]any{"type": "device_hello", "speech_supported": true})
	waitFor(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.device != nil && hub.device.speechSupported
	})
	return d
}

func (d *testDevice) send(t *testing.T, msg any) {
	t.Helper()
	if err := d.conn.WriteJSON(msg); err != nil {
		t.Fatalf("device write: %v", err)
	}
}

// expect reads device messages until one of type msgType arrives.
func (d *testDevice) expect(t *testing.T, msgType string) map[string]any {
	t.Helper()
	_ = d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]any
		if err := d.conn.ReadJSON(&msg); err != nil {
			t.Fatalf("device read waiting for %s: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextEvent(t *testing.T, events <-chan voice.RecognitionEvent) (voice.RecognitionEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for recognition event")
		return voice.RecognitionEvent{}, false
	}
}

func TestStartWithoutDeviceIsUnsupported(t *testing.T) {
	hub, _ := newTestHub(t)
	if _, _, err := hub.Start(context.Background(), voice.DefaultRecognitionConfig()); !errors.Is(err, voice.ErrUnsupportedCapability) {
		t.Fatalf("Start() error = %v, want ErrUnsupportedCapability", err)
	}
	if _, err := hub.Play(context.Background(), voice.AudioClip{Data: []byte{1}}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Play() error = %v, want ErrNoDevice", err)
	}
}

func TestRecognitionRunRoundTrip(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)

	_, events, err := hub.Start(context.Background(), voice.DefaultRecognitionConfig())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	start := dev.expect(t, "recognition_start")
	runID, _ := start["run_id"].(string)
	if runID == "" || start["language"] != "en-US" {
		t.Fatalf("recognition_start = %v", start)
	}

	dev.send(t, map[string]any{
		"type": "recognition_event", "run_id": runID, "event": "result",
		"results": []map[string]any{{"text": "hello", "is_final": true}},
	})
	dev.send(t, map[string]any{"type": "recognition_event", "run_id": runID, "event": "end"})

	ev, ok := nextEvent(t, events)
	if !ok || ev.Type != voice.RecognitionEventResult || ev.Results[0].Text != "hello" || !ev.Results[0].IsFinal {
		t.Fatalf("first event = %+v (open=%v), want final result", ev, ok)
	}
	ev, ok = nextEvent(t, events)
	if !ok || ev.Type != voice.RecognitionEventEnd {
		t.Fatalf("second event = %+v (open=%v), want end", ev, ok)
	}
	if _, ok := nextEvent(t, events); ok {
		t.Fatalf("events channel still open after end")
	}
}

func TestAbortSendsRecognitionAbort(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)

	run, events, err := hub.Start(context.Background(), voice.DefaultRecognitionConfig())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	start := dev.expect(t, "recognition_start")
	if err := run.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	abort := dev.expect(t, "recognition_abort")
	if abort["run_id"] != start["run_id"] {
		t.Fatalf("abort run_id = %v, want %v", abort["run_id"], start["run_id"])
	}
	if _, ok := nextEvent(t, events); ok {
		t.Fatalf("events channel open after abort")
	}
	if err := run.Abort(); err != nil {
		t.Fatalf("second Abort() error = %v", err)
	}
}

func TestPlaybackRoundTrip(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)

	done, err := hub.Play(context.Background(), voice.AudioClip{Data: []byte("ID3abc"), Format: "audio/mpeg"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	msg := dev.expect(t, "playback_start")
	if msg["format"] != "audio/mpeg" || msg["audio_base64"] != "SUQzYWJj" {
		t.Fatalf("playback_start = %v", msg)
	}
	dev.send(t, map[string]any{"type": "playback_event", "playback_id": msg["playback_id"], "event": "failed", "detail": "NotAllowedError"})

	select {
	case res := <-done:
		if res.Err == nil || res.Err.Error() != "NotAllowedError" {
			t.Fatalf("playback result = %v, want NotAllowedError", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback result")
	}
}

func TestCancelledPlaybackIsReleased(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := hub.Play(ctx, voice.AudioClip{Data: []byte("ID3abc"), Format: "audio/mpeg"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	msg := dev.expect(t, "playback_start")
	cancel()

	select {
	case res := <-done:
		if !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("playback result = %v, want context.Canceled", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancelled playback")
	}
	waitFor(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.playbacks) == 0
	})

	// A late device event for the released playback is ignored.
	dev.send(t, map[string]any{"type": "playback_event", "playback_id": msg["playback_id"], "event": "ended"})
	if !hub.Connected() {
		t.Fatalf("hub dropped the device after a late playback event")
	}
}

func TestDisconnectFailsInFlightWork(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)

	_, events, err := hub.Start(context.Background(), voice.DefaultRecognitionConfig())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	done, err := hub.Play(context.Background(), voice.AudioClip{Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	_ = dev.conn.Close()

	ev, ok := nextEvent(t, events)
	if !ok || ev.Type != voice.RecognitionEventError || ev.Code != "network" {
		t.Fatalf("event after disconnect = %+v, want network error", ev)
	}
	select {
	case res := <-done:
		if !errors.Is(res.Err, ErrDeviceDisconnected) {
			t.Fatalf("playback result = %v, want ErrDeviceDisconnected", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback failure")
	}
	waitFor(t, func() bool { return !hub.Connected() })
}

func TestNewDeviceSupersedesOld(t *testing.T) {
	hub, ts := newTestHub(t)
	first := connectDevice(t, hub, ts)
	hub.mu.Lock()
	firstID := hub.device.id
	hub.mu.Unlock()

	second := &testDevice{conn: dial(t, ts, "/device")}
	second.send(t, map[string]any{"type": "device_hello", "speech_supported": true})
	waitFor(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.device != nil && hub.device.id != firstID && hub.device.speechSupported
	})

	_ = first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var readErr error
	for readErr == nil {
		_, _, readErr = first.conn.ReadMessage()
	}
	var netErr interface{ Timeout() bool }
	if errors.As(readErr, &netErr) && netErr.Timeout() {
		t.Fatalf("superseded device connection was not closed")
	}
	if !hub.Connected() {
		t.Fatalf("hub lost the new device")
	}
}

func TestAvatarPlayWaitsForAck(t *testing.T) {
	hub, ts := newTestHub(t)
	dev := connectDevice(t, hub, ts)
	surface := hub.Surface()

	result := make(chan error, 1)
	go func() { result <- surface.Play(context.Background()) }()
	cmd := dev.expect(t, "avatar_command")
	if cmd["action"] != "play" {
		t.Fatalf("avatar_command = %v, want play", cmd)
	}
	dev.send(t, map[string]any{"type": "avatar_ack", "command_id": cmd["command_id"], "ok": false, "detail": "autoplay blocked"})

	select {
	case err := <-result:
		if err == nil || err.Error() != "autoplay blocked" {
			t.Fatalf("Play() error = %v, want autoplay blocked", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for avatar ack")
	}
}

func TestClientControlActivates(t *testing.T) {
	hub, ts := newTestHub(t)
	activated := make(chan struct{}, 1)
	hub.SetActivator(func(context.Context) error {
		activated <- struct{}{}
		return nil
	})
	dev := connectDevice(t, hub, ts)
	dev.send(t, map[string]any{"type": "client_control", "action": "activate"})

	select {
	case <-activated:
	case <-time.After(2 * time.Second):
		t.Fatalf("activator not called")
	}
}

func TestDisplayFeedReceivesUpdates(t *testing.T) {
	hub, ts := newTestHub(t)
	obs := &testDevice{conn: dial(t, ts, "/display")}

	initial := obs.expect(t, "status_update")
	if initial["status"] != "idle" {
		t.Fatalf("initial status = %v, want idle", initial)
	}
	waitFor(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.observers) == 1
	})
	hub.BotMessage("Hello from the bot")
	msg := obs.expect(t, "bot_message")
	if msg["text"] != "Hello from the bot" {
		t.Fatalf("bot_message = %v", msg)
	}
}
