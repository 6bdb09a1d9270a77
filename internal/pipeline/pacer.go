package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer caps the rate at which a capture loop submits frames. The manager
// itself imposes no interval.
type Pacer struct {
	interval time.Duration
	lim      *rate.Limiter
}

// NewPacer returns a pacer allowing at most fps frames per second. A
// non-positive fps disables pacing.
func NewPacer(fps float64) *Pacer {
	if fps <= 0 {
		return &Pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		interval: time.Duration(float64(time.Second) / fps),
		lim:      rate.NewLimiter(rate.Limit(fps), 1),
	}
}

// Interval returns the minimum spacing between frames.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Allow reports whether a frame may be taken at now and, if so, claims the slot.
func (p *Pacer) Allow(now time.Time) bool {
	return p.lim.AllowN(now, 1)
}

// Delay returns how long to wait from now until the next frame is allowed.
func (p *Pacer) Delay(now time.Time) time.Duration {
	if p.interval == 0 {
		return 0
	}
	missing := 1 - p.lim.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing * float64(p.interval))
}

// Wait blocks until a frame is allowed and claims the slot. A free slot is
// taken even when ctx is already done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.lim.Allow() {
		return nil
	}
	return p.lim.Wait(ctx)
}
