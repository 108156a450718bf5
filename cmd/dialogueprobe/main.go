package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/voiceloop/internal/audio"
	"github.com/ent0n29/voiceloop/internal/dialogue"
	"github.com/ent0n29/voiceloop/internal/observability"
)

type options struct {
	baseURL        string
	turns          int
	reset          bool
	synthesize     bool
	interTurnDelay time.Duration
	timeout        time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"Reply in three words: what do you cover?",
	"Reply in three words: claim process?",
	"Reply in three words: cheapest plan?",
	"Reply in three words: anything else?",
}

// turnResult is one probed exchange.
type turnResult struct {
	Text       string        `json:"text"`
	Reply      string        `json:"reply"`
	ReplyTime  time.Duration `json:"reply_ns"`
	SynthTime  time.Duration `json:"synth_ns,omitempty"`
	AudioBytes int           `json:"audio_bytes,omitempty"`
	AudioSecs  float64       `json:"audio_seconds,omitempty"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "dialogueprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "dialogueprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int

	fs := flag.NewFlagSet("dialogueprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:5000", "dialogue backend base URL")
	fs.IntVar(&cfg.turns, "turns", 8, "number of exchanges to send")
	fs.BoolVar(&cfg.reset, "reset", true, "reset the conversation before the first exchange")
	fs.BoolVar(&cfg.synthesize, "synthesize", true, "request speech for every reply")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between exchanges in milliseconds")
	fs.DurationVar(&cfg.timeout, "timeout", 60*time.Second, "per-request timeout")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.turns+1)*2*cfg.timeout)
	defer cancel()

	client := dialogue.NewClient(cfg.baseURL, cfg.timeout)
	stats := observability.NewMetricsWithRegistry("dialogueprobe", prometheus.NewRegistry())

	if cfg.reset {
		if err := client.Reset(ctx); err != nil {
			return fmt.Errorf("reset conversation: %w", err)
		}
	}
	if cfg.verbose {
		fmt.Printf("dialogueprobe: base=%s turns=%d synthesize=%v\n", cfg.baseURL, cfg.turns, cfg.synthesize)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		res, err := probeTurn(ctx, client, text, cfg.synthesize)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		stats.ObserveLoopStage(observability.StageTranscriptToReply, res.ReplyTime)
		if cfg.synthesize {
			stats.ObserveLoopStage(observability.StageReplyToAudio, res.SynthTime)
			stats.ObserveLoopStage(observability.StageTranscriptToSpeech, res.ReplyTime+res.SynthTime)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("turn %d: reply=%s synth=%s audio=%.2fs %q\n", i+1, res.ReplyTime.Round(time.Millisecond), res.SynthTime.Round(time.Millisecond), res.AudioSecs, res.Reply)
		}
		if cfg.interTurnDelay > 0 && i+1 < cfg.turns {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"turns":   results,
		"latency": stats.SnapshotLoopStages(),
	})
}

func probeTurn(ctx context.Context, client *dialogue.Client, text string, synthesize bool) (turnResult, error) {
	res := turnResult{Text: text}

	start := time.Now()
	reply, err := client.Send(ctx, text)
	if err != nil {
		return res, fmt.Errorf("process: %w", err)
	}
	res.ReplyTime = time.Since(start)
	res.Reply = reply.Text
	if !synthesize {
		return res, nil
	}

	start = time.Now()
	synth, err := client.Synthesize(ctx, reply.Text, reply.AudioID)
	if err != nil {
		return res, fmt.Errorf("tts: %w", err)
	}
	res.SynthTime = time.Since(start)

	data, err := audio.DecodeBase64(synth.AudioBase64)
	if err != nil {
		if errors.Is(err, audio.ErrEmptyAudio) {
			return res, nil
		}
		return res, err
	}
	res.AudioBytes = len(data)
	res.AudioSecs = audioSeconds(data)
	return res, nil
}

// audioSeconds reports the duration of WAV payloads; other containers report 0.
func audioSeconds(data []byte) float64 {
	if audio.SniffFormat(data) != audio.FormatWAV {
		return 0
	}
	secs, err := wavSeconds(data)
	if err != nil {
		return 0
	}
	return secs
}

// wavSeconds walks the RIFF chunks and divides the data size by the fmt frame rate.
func wavSeconds(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("unsupported wav header")
	}
	var frameBytes, rate, dataSize int
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if off+size > len(data) {
			// Streamed WAVs may carry an oversized data length.
			size = len(data) - off
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return 0, fmt.Errorf("invalid wav fmt chunk")
			}
			channels := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
			rate = int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
			bits := int(binary.LittleEndian.Uint16(data[off+14 : off+16]))
			frameBytes = channels * bits / 8
		case "data":
			dataSize = size
		}
		off += size + size%2
	}
	if frameBytes <= 0 || rate <= 0 {
		return 0, fmt.Errorf("wav fmt chunk missing or invalid")
	}
	return float64(dataSize/frameBytes) / float64(rate), nil
}
