package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Reply is a successful answer from the dialogue endpoint.
type Reply struct {
	Text    string `json:"reply"`
	AudioID string `json:"audio_id"`
}

// Synthesis is a successful answer from the synthesis endpoint. AudioBase64 may be
// empty, which callers treat as "no audio available".
type Synthesis struct {
	AudioBase64 string `json:"audio_base64"`
}

type processRequest struct {
	Text string `json:"text"`
}

type ttsRequest struct {
	Text    string `json:"text"`
	AudioID string `json:"audio_id"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the dialogue backend over HTTP. It never retries: the voice loop
// owns recovery.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	// The backend keeps conversation history behind a session cookie.
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// Send posts a final transcript to /process.
func (c *Client) Send(ctx context.Context, transcript string) (Reply, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Reply{}, ErrEmptyTranscript
	}

	var out struct {
		Reply   *string `json:"reply"`
		AudioID string  `json:"audio_id"`
	}
	if err := c.postJSON(ctx, OpProcess, "/process", processRequest{Text: transcript}, &out); err != nil {
		return Reply{}, err
	}
	if out.Reply == nil || strings.TrimSpace(*out.Reply) == "" {
		return Reply{}, ErrNoReply
	}
	return Reply{Text: *out.Reply, AudioID: out.AudioID}, nil
}

// Synthesize requests speech for a reply, keyed by the audio reference returned by Send.
func (c *Client) Synthesize(ctx context.Context, text, audioID string) (Synthesis, error) {
	var out Synthesis
	if err := c.postJSON(ctx, OpTTS, "/tts", ttsRequest{Text: text, AudioID: audioID}, &out); err != nil {
		return Synthesis{}, err
	}
	out.AudioBase64 = strings.TrimSpace(out.AudioBase64)
	return out, nil
}

// Reset starts a new conversation on the backend.
func (c *Client) Reset(ctx context.Context) error {
	return c.postJSON(ctx, OpReset, "/v1/conversation/reset", struct{}{}, nil)
}

func (c *Client) postJSON(ctx context.Context, op Op, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return &RequestError{Op: op, Message: err.Error(), Retryable: true, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return &RequestError{Op: op, Status: res.StatusCode, Message: fmt.Sprintf("read response: %v", err), Retryable: true, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return newStatusError(op, res.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RequestError{Op: op, Status: res.StatusCode, Message: fmt.Sprintf("invalid %s response: %v", op, err), Err: err}
	}
	return nil
}

func newStatusError(op Op, status int, raw []byte) *RequestError {
	var body errorBody
	msg := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		msg = strings.TrimSpace(body.Error)
	}
	if msg == "" {
		msg = fmt.Sprintf("%s status: %d", op.errorPrefix(), status)
	}
	return newRequestError(op, status, msg)
}
