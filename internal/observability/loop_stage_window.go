package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stages observed by the voice loop.
const (
	StageListen             = "listen"
	StageTranscriptToReply  = "transcript_to_reply"
	StageReplyToAudio       = "reply_to_audio"
	StageTranscriptToSpeech = "transcript_to_speech"
	StagePlayback           = "playback"
)

// p95 budgets for the stages of one conversational cycle.
var stageTargetsP95MS = map[string]float64{
	StageTranscriptToReply:  2500,
	StageReplyToAudio:       1500,
	StageTranscriptToSpeech: 4000,
}

type LoopStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// RetryCount is how often recognition was rescheduled for one cause.
type RetryCount struct {
	Cause string `json:"cause"`
	Count int    `json:"count"`
}

type LoopStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []LoopStageStats `json:"stages"`
	Retries     []RetryCount     `json:"retries,omitempty"`
}

// loopStageWindow keeps the most recent samples per stage.
type loopStageWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
	retries map[string]int
}

func newLoopStageWindow(size int) *loopStageWindow {
	if size <= 0 {
		size = 256
	}
	return &loopStageWindow{
		size:    size,
		samples: make(map[string][]float64),
		retries: make(map[string]int),
	}
}

func (w *loopStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	vals := append(w.samples[stage], ms)
	if len(vals) > w.size {
		vals = vals[len(vals)-w.size:]
	}
	w.samples[stage] = vals
}

func (w *loopStageWindow) ObserveRetry(cause string) {
	if cause == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries[cause]++
}

func (w *loopStageWindow) Snapshot() LoopStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LoopStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]LoopStageStats, 0, len(w.samples)),
	}
	for stage, vals := range w.samples {
		snap.Stages = append(snap.Stages, summarizeStage(stage, vals))
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for cause, n := range w.retries {
		snap.Retries = append(snap.Retries, RetryCount{Cause: cause, Count: n})
	}
	sort.Slice(snap.Retries, func(i, j int) bool { return snap.Retries[i].Cause < snap.Retries[j].Cause })
	return snap
}

func summarizeStage(stage string, vals []float64) LoopStageStats {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return LoopStageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(vals[len(vals)-1]),
		AvgMS:       round2(sum / float64(len(sorted))),
		P50MS:       round2(nearestRank(sorted, 0.50)),
		P95MS:       round2(nearestRank(sorted, 0.95)),
		P99MS:       round2(nearestRank(sorted, 0.99)),
		TargetP95MS: stageTargetsP95MS[stage],
	}
}

// nearestRank returns the smallest sample with at least q of the samples at or below it.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
