// Package gemini adapts the Gemini API to the dialogue backend: chat replies, speech
// synthesis and recording transcription.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/backend"
	"github.com/ent0n29/voiceloop/internal/memory"
	"github.com/ent0n29/voiceloop/internal/reliability"
)

const transcribePrompt = "Transcribe this call recording verbatim. Return only the transcript text."

var ErrNoAudio = errors.New("gemini returned no audio")

type Config struct {
	APIKey    string
	ChatModel string
	TTSModel  string
	Voice     string
}

type Client struct {
	cfg    Config
	models *genai.Models
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.0-flash"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "Kore"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{cfg: cfg, models: c.Models}, nil
}

// Reply implements backend.Brain.
func (c *Client) Reply(ctx context.Context, systemPrompt string, history []backend.Message) (string, error) {
	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemPrompt) != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	resp, err := c.models.GenerateContent(ctx, c.cfg.ChatModel, toContents(history), config)
	if err != nil {
		return "", classify(err)
	}
	return resp.Text(), nil
}

// Synthesize implements backend.Synthesizer. Raw PCM output is wrapped as WAV.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.Voice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := c.models.GenerateContent(ctx, c.cfg.TTSModel, contents, config)
	if err != nil {
		return nil, classify(err)
	}
	return extractAudio(resp)
}

// Transcribe implements recordings.Transcriber.
func (c *Client) Transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	resp, err := c.models.GenerateContent(ctx, c.cfg.ChatModel, contents, nil)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func toContents(history []backend.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == memory.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func extractAudio(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, ErrNoAudio
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := strings.ToLower(part.InlineData.MIMEType)
			if rate, ok := pcmRate(mime); ok {
				return audio.EncodeWAVPCM16LE(part.InlineData.Data, rate)
			}
			return part.InlineData.Data, nil
		}
	}
	return nil, ErrNoAudio
}

// pcmRate reports whether mime names raw 16-bit PCM ("audio/L16;codec=pcm;rate=24000")
// and its sample rate.
func pcmRate(mime string) (int, bool) {
	if !strings.HasPrefix(mime, "audio/l16") && !strings.HasPrefix(mime, "audio/pcm") {
		return 0, false
	}
	rate := audio.DefaultSynthesisSampleRate
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rate = n
		}
	}
	return rate, true
}

// classify turns SDK API errors into reliability.UpstreamError so callers can map them
// without importing the SDK.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return reliability.NewUpstreamError(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return reliability.NewUpstreamError(apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return err
}
