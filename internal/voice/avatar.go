package voice

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/voiceloop/internal/observability"
)

type AvatarState string

const (
	AvatarBlinking AvatarState = "blinking"
	AvatarTalking  AvatarState = "talking"
)

type AvatarAssets struct {
	Blinking string
	Talking  string
}

func (a AvatarAssets) assetFor(state AvatarState) string {
	if state == AvatarTalking {
		return a.Talking
	}
	return a.Blinking
}

// AvatarController crossfades the avatar between its looping animations. Requests are
// applied one at a time by Run, so fades never overlap.
type AvatarController struct {
	surface   AvatarSurface
	assets    AvatarAssets
	crossfade time.Duration
	metrics   *observability.Metrics
	requests  chan AvatarState

	mu      sync.Mutex
	current string
}

func NewAvatarController(surface AvatarSurface, assets AvatarAssets, crossfade time.Duration, metrics *observability.Metrics) *AvatarController {
	return &AvatarController{
		surface:   surface,
		assets:    assets,
		crossfade: crossfade,
		metrics:   metrics,
		requests:  make(chan AvatarState, 16),
	}
}

// SwitchTo queues a state change without blocking the caller.
func (c *AvatarController) SwitchTo(state AvatarState) {
	select {
	case c.requests <- state:
	default:
		log.Printf("avatar: request queue full, dropping switch to %s", state)
		c.metrics.ObserveAvatarSwitch(string(state), "dropped")
	}
}

// Current returns the asset currently loaded on the surface.
func (c *AvatarController) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *AvatarController) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-c.requests:
			c.apply(ctx, state)
		}
	}
}

// apply performs one switch and reports whether a crossfade happened.
func (c *AvatarController) apply(ctx context.Context, state AvatarState) bool {
	asset := c.assets.assetFor(state)

	if asset == c.Current() {
		// Already showing it; only make sure it is visible and running.
		c.surface.FadeIn()
		if err := c.surface.Play(ctx); err != nil {
			log.Printf("avatar: play %s (already set): %v", asset, err)
		}
		c.metrics.ObserveAvatarSwitch(string(state), "noop")
		return false
	}

	c.surface.FadeOut()
	if c.crossfade > 0 {
		timer := time.NewTimer(c.crossfade)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.surface.FadeIn()
			return false
		case <-timer.C:
		}
	}

	c.surface.Swap(asset, true)
	c.mu.Lock()
	c.current = asset
	c.mu.Unlock()

	result := "crossfade"
	if err := c.surface.Play(ctx); err != nil {
		log.Printf("avatar: play %s after swap: %v", asset, err)
		result = "play_failed"
	}
	// Visible even when the animation refused to start.
	c.surface.FadeIn()
	c.metrics.ObserveAvatarSwitch(string(state), result)
	return true
}
