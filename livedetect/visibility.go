package livedetect

import (
	"context"
	"sync"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/utils"
)

// DormancyHandler is told when the host should stop and resume rendering.
type DormancyHandler interface {
	OnDormant()
	OnActive()
}

// VisibilityGuard stops detection when the host is hidden. Becoming visible again only
// reactivates the host; detection stays stopped until started again.
type VisibilityGuard struct {
	sched   *Scheduler
	host    DormancyHandler
	logger  logging.Logger
	workers utils.StoppableWorkers

	mu     sync.Mutex
	hidden bool
	shown  chan struct{}
}

// NewVisibilityGuard returns a guard for a visible host.
func NewVisibilityGuard(sched *Scheduler, host DormancyHandler, logger logging.Logger) *VisibilityGuard {
	shown := make(chan struct{})
	close(shown)
	return &VisibilityGuard{
		sched:   sched,
		host:    host,
		logger:  logger,
		workers: utils.NewStoppableWorkers(),
		shown:   shown,
	}
}

// OnVisibilityChanged handles a visibility signal. Repeated signals of the same value are
// ignored.
func (g *VisibilityGuard) OnVisibilityChanged(hidden bool) {
	g.mu.Lock()
	if hidden == g.hidden {
		g.mu.Unlock()
		return
	}
	g.hidden = hidden
	if hidden {
		g.shown = make(chan struct{})
	} else {
		close(g.shown)
	}
	g.mu.Unlock()

	if hidden {
		g.logger.Info("host hidden, stopping detection")
		g.sched.Stop()
		g.sched.DiscardCapture()
		g.host.OnDormant()
		return
	}
	g.logger.Info("host visible again")
	g.host.OnActive()
}

// Hidden reports whether the host is hidden.
func (g *VisibilityGuard) Hidden() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hidden
}

func (g *VisibilityGuard) waitVisible(ctx context.Context) error {
	g.mu.Lock()
	shown := g.shown
	g.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-shown:
		return nil
	}
}

// Gate wraps p so that waits do not return while the host is hidden.
func (g *VisibilityGuard) Gate(p Pacer) Pacer {
	return PacerFunc(func(ctx context.Context) error {
		for {
			if err := g.waitVisible(ctx); err != nil {
				return err
			}
			if err := p.Wait(ctx); err != nil {
				return err
			}
			if !g.Hidden() {
				return nil
			}
		}
	})
}

// Run handles visibility signals from events until it is closed or the guard is.
func (g *VisibilityGuard) Run(events <-chan bool) {
	g.workers.AddWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case hidden, ok := <-events:
				if !ok {
					return
				}
				g.OnVisibilityChanged(hidden)
			}
		}
	})
}

// Close stops handling events.
func (g *VisibilityGuard) Close() {
	g.workers.Stop()
}
