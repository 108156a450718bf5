package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/backend"
	"github.com/ent0n29/voiceloop/internal/reliability"
)

func TestToContentsMapsRoles(t *testing.T) {
	got := toContents([]backend.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "  "},
		{Role: "user", Content: "bye"},
	})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (blank skipped)", len(got))
	}
	wantRoles := []string{string(genai.RoleUser), string(genai.RoleModel), string(genai.RoleUser)}
	for i, c := range got {
		if c.Role != wantRoles[i] {
			t.Fatalf("content[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
	}
	if got[1].Parts[0].Text != "hello" {
		t.Fatalf("content[1] text = %q", got[1].Parts[0].Text)
	}
}

func TestPCMRate(t *testing.T) {
	cases := []struct {
		mime string
		rate int
		ok   bool
	}{
		{"audio/l16;codec=pcm;rate=16000", 16000, true},
		{"audio/pcm", audio.DefaultSynthesisSampleRate, true},
		{"audio/mpeg", 0, false},
	}
	for _, tc := range cases {
		rate, ok := pcmRate(tc.mime)
		if rate != tc.rate || ok != tc.ok {
			t.Fatalf("pcmRate(%q) = %d, %v, want %d, %v", tc.mime, rate, ok, tc.rate, tc.ok)
		}
	}
}

func TestExtractAudioWrapsPCM(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "ignored"},
				{InlineData: &genai.Blob{MIMEType: "audio/L16;codec=pcm;rate=24000", Data: make([]byte, 480)}},
			}},
		}},
	}
	data, err := extractAudio(resp)
	if err != nil {
		t.Fatalf("extractAudio() error = %v", err)
	}
	if audio.SniffFormat(data) != audio.FormatWAV {
		t.Fatalf("SniffFormat() = %q, want wav", audio.SniffFormat(data))
	}

	if _, err := extractAudio(&genai.GenerateContentResponse{}); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("extractAudio(empty) error = %v, want ErrNoAudio", err)
	}
}

func TestClassifyAPIError(t *testing.T) {
	err := classify(fmt.Errorf("call: %w", genai.APIError{Code: 401, Message: "API key not valid"}))
	if !reliability.IsAuthFailure(err) {
		t.Fatalf("classify(401) = %v, want auth failure", err)
	}
	ue, _ := reliability.AsUpstream(classify(genai.APIError{Code: 400, Message: "bad"}))
	if ue == nil || ue.Kind != reliability.UpstreamBadRequest || ue.Message != "bad" {
		t.Fatalf("classify(400) = %+v", ue)
	}
	plain := errors.New("dial failed")
	if classify(plain) != plain {
		t.Fatalf("classify(plain) changed the error")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("NewClient() without key error = nil, want error")
	}
}
