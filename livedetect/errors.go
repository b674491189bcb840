package livedetect

import "github.com/pkg/errors"

var (
	// ErrAlreadyRunning is returned when detection is started, or a single capture requested,
	// while the scheduler is not idle.
	ErrAlreadyRunning = errors.New("detection is already running")

	// ErrReconfiguring is returned when detection is started, or a single capture requested,
	// while the facing mode, model or canvas is being reconfigured.
	ErrReconfiguring = errors.New("detection is being reconfigured")

	// ErrNoFrame means no frame could be captured this cycle because the feed or the canvas is
	// not ready. The cycle is skipped.
	ErrNoFrame = errors.New("no frame available")

	// ErrRateUndefined is returned with an infinite rate for a zero duration.
	ErrRateUndefined = errors.New("rate is undefined for a zero duration")

	// ErrNoSession is returned when a cycle runs before any model session is installed.
	ErrNoSession = errors.New("no model session installed")
)
