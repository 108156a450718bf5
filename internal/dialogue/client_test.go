package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSendAndSynthesize(t *testing.T) {
	var gotProcess processRequest
	var gotTTS ttsRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/process":
			_ = json.NewDecoder(r.Body).Decode(&gotProcess)
			http.SetCookie(w, &http.Cookie{Name: "voiceloop_session", Value: "s1", Path: "/"})
			_, _ = w.Write([]byte(`{"reply":"hi!","audio_id":"a1"}`))
		case "/tts":
			if c, err := r.Cookie("voiceloop_session"); err != nil || c.Value != "s1" {
				t.Errorf("tts request missing session cookie")
			}
			_ = json.NewDecoder(r.Body).Decode(&gotTTS)
			_, _ = w.Write([]byte(`{"audio_base64":"SUQz"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", time.Second)
	reply, err := c.Send(context.Background(), "  hello there ")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotProcess.Text != "hello there" {
		t.Fatalf("process text = %q, want %q", gotProcess.Text, "hello there")
	}
	if reply.Text != "hi!" || reply.AudioID != "a1" {
		t.Fatalf("reply = %+v, want hi!/a1", reply)
	}

	syn, err := c.Synthesize(context.Background(), reply.Text, reply.AudioID)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if gotTTS.Text != "hi!" || gotTTS.AudioID != "a1" {
		t.Fatalf("tts request = %+v, want hi!/a1", gotTTS)
	}
	if syn.AudioBase64 != "SUQz" {
		t.Fatalf("AudioBase64 = %q, want %q", syn.AudioBase64, "SUQz")
	}
}

func TestClientErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		op        func(*Client) error
		wantMsg   string
		retryable bool
	}{
		{
			name:   "server message",
			status: http.StatusBadRequest,
			body:   `{"error":"Missing input"}`,
			op: func(c *Client) error {
				_, err := c.Send(context.Background(), "x")
				return err
			},
			wantMsg: "Missing input",
		},
		{
			name:   "generic process status",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			op: func(c *Client) error {
				_, err := c.Send(context.Background(), "x")
				return err
			},
			wantMsg:   "HTTP error! status: 502",
			retryable: true,
		},
		{
			name:   "generic tts status",
			status: http.StatusInternalServerError,
			body:   `{}`,
			op: func(c *Client) error {
				_, err := c.Synthesize(context.Background(), "x", "a")
				return err
			},
			wantMsg:   "TTS error! status: 500",
			retryable: true,
		},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		err := tc.op(NewClient(ts.URL, time.Second))
		ts.Close()

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("%s: error = %v, want *RequestError", tc.name, err)
		}
		if reqErr.Error() != tc.wantMsg {
			t.Fatalf("%s: message = %q, want %q", tc.name, reqErr.Error(), tc.wantMsg)
		}
		if reqErr.Status != tc.status || reqErr.Retryable != tc.retryable {
			t.Fatalf("%s: status/retryable = %d/%v, want %d/%v", tc.name, reqErr.Status, reqErr.Retryable, tc.status, tc.retryable)
		}
	}
}

func TestClientSendMissingReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"audio_id":"a1"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).Send(context.Background(), "hello")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Send() error = %v, want ErrNoReply", err)
	}
}

func TestClientTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, time.Second).Send(context.Background(), "hello")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Send() error = %v, want *RequestError", err)
	}
	if reqErr.Status != 0 || !reqErr.Retryable {
		t.Fatalf("transport error = %+v, want status 0 and retryable", reqErr)
	}
}

func TestClientRejectsEmptyTranscript(t *testing.T) {
	_, err := NewClient("http://unused.test", time.Second).Send(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Send() error = %v, want ErrEmptyTranscript", err)
	}
}

func TestClientSynthesizeWithoutAudio(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	syn, err := NewClient(ts.URL, time.Second).Synthesize(context.Background(), "hi", "a1")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if syn.AudioBase64 != "" {
		t.Fatalf("AudioBase64 = %q, want empty", syn.AudioBase64)
	}
}
