// Package recordings keeps transcripts of call recordings found on disk and renders them
// as context for the dialogue backend's system prompt.
package recordings

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/reliability"
)

const maxTranscribeAttempts = 3

var mimeByExt = map[string]string{
	".mp3":  audio.FormatMPEG,
	".wav":  audio.FormatWAV,
	".m4a":  audio.FormatMP4,
	".flac": audio.FormatFLAC,
	".ogg":  audio.FormatOGG,
}

// Transcriber turns one audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

type Library struct {
	dir         string
	transcriber Transcriber
	backoffBase time.Duration
	backoffCap  time.Duration

	mu          sync.RWMutex
	transcripts map[string]string
	order       []string
}

func NewLibrary(dir string, transcriber Transcriber) *Library {
	return &Library{
		dir:         strings.TrimSpace(dir),
		transcriber: transcriber,
		backoffBase: 500 * time.Millisecond,
		backoffCap:  5 * time.Second,
		transcripts: make(map[string]string),
	}
}

// Scan transcribes every supported file in the directory that has no transcript yet.
// The directory is created when missing. An authentication failure stops the scan and
// is returned; other per-file failures are logged and the file is skipped.
func (l *Library) Scan(ctx context.Context) (int, error) {
	if l.dir == "" {
		return 0, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create recordings dir: %w", err)
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read recordings dir: %w", err)
	}
	if l.transcriber == nil {
		return 0, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := mimeByExt[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		ext := filepath.Ext(name)
		id := strings.TrimSuffix(name, ext)
		if l.has(id) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			log.Printf("recordings: skip %s: %v", name, err)
			continue
		}
		text, err := l.transcribe(ctx, mimeByExt[strings.ToLower(ext)], data)
		if err != nil {
			if reliability.IsAuthFailure(err) {
				return added, fmt.Errorf("transcribe %s: %w", name, err)
			}
			log.Printf("recordings: skip %s: %v", name, err)
			continue
		}
		l.put(id, strings.TrimSpace(text))
		added++
		log.Printf("recordings: transcribed %s", name)
	}
	return added, nil
}

func (l *Library) transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxTranscribeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, l.backoffBase, l.backoffCap)):
			}
		}
		text, err := l.transcriber.Transcribe(ctx, mimeType, data)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !reliability.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (l *Library) has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.transcripts[id]
	return ok
}

func (l *Library) put(id, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.transcripts[id]; !ok {
		l.order = append(l.order, id)
	}
	l.transcripts[id] = text
}

// Len returns the number of transcribed recordings.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// ContextBlock renders all transcripts for the system prompt, or "" when there are none.
func (l *Library) ContextBlock() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n--- Relevant Call Recording Transcripts (for context) ---\n")
	for _, id := range l.order {
		fmt.Fprintf(&b, "Recording ID: %s:\n%s\n\n", id, l.transcripts[id])
	}
	b.WriteString("----------------------------------------------\n\n")
	b.WriteString("When answering, refer to the provided call recording transcripts if relevant and integrate their information naturally.")
	b.WriteString("Do not explicitly state 'According to the recordings' unless necessary.")
	return b.String()
}
