package livedetect

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// A Pacer paces the continuous loop. The loop calls Wait once before every cycle; it is the
// only place the loop waits besides inference.
type Pacer interface {
	Wait(ctx context.Context) error
}

// PacerFunc adapts a function into a Pacer.
type PacerFunc func(ctx context.Context) error

// Wait calls f.
func (f PacerFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// RefreshPacer fires at a fixed display refresh rate.
type RefreshPacer struct {
	ticker *clock.Ticker
}

// NewRefreshPacer returns a pacer ticking hz times a second on clk.
func NewRefreshPacer(clk clock.Clock, hz float64) (*RefreshPacer, error) {
	if hz <= 0 {
		return nil, errors.Errorf("refresh rate must be positive, got %v", hz)
	}
	return &RefreshPacer{ticker: clk.Ticker(time.Duration(float64(time.Second) / hz))}, nil
}

// Wait blocks until the next refresh.
func (p *RefreshPacer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

// Stop stops the underlying ticker. Later waits block until their context is done.
func (p *RefreshPacer) Stop() {
	p.ticker.Stop()
}

// ManualPacer is driven by explicit ticks, such as an external vsync signal.
type ManualPacer struct {
	ticks chan struct{}
}

// NewManualPacer returns a pacer that fires only when ticked.
func NewManualPacer() *ManualPacer {
	return &ManualPacer{ticks: make(chan struct{})}
}

// Wait blocks until the next tick.
func (p *ManualPacer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticks:
		return nil
	}
}

// Tick releases one waiter, blocking until there is one or ctx is done.
func (p *ManualPacer) Tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ticks <- struct{}{}:
		return nil
	}
}

// TryTick releases a waiter only if one is currently waiting.
func (p *ManualPacer) TryTick() bool {
	select {
	case p.ticks <- struct{}{}:
		return true
	default:
		return false
	}
}

type limitedPacer struct {
	pacer   Pacer
	limiter *rate.Limiter
}

// Limit caps p at maxFPS waits a second. A non-positive maxFPS returns p unchanged.
func Limit(p Pacer, maxFPS float64) Pacer {
	if maxFPS <= 0 {
		return p
	}
	return &limitedPacer{pacer: p, limiter: rate.NewLimiter(rate.Limit(maxFPS), 1)}
}

func (lp *limitedPacer) Wait(ctx context.Context) error {
	if err := lp.pacer.Wait(ctx); err != nil {
		return err
	}
	return lp.limiter.Wait(ctx)
}
