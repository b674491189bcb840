package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/visionarypath/sight/logging"
)

const (
	slowLoggerFirstInterval  = 2 * time.Second
	slowLoggerSecondInterval = 3 * time.Second
	slowLoggerInterval       = 5 * time.Second
)

// SlowLogger starts a goroutine that logs every few seconds as long as the context has not timed
// out or was not cancelled. Call the returned function once the slow operation finishes.
func SlowLogger(ctx context.Context, msg, fieldName, fieldVal string, logger logging.Logger) func() {
	return SlowLoggerWithClock(ctx, clock.New(), slowLoggerFirstInterval, msg, fieldName, fieldVal, logger)
}

// SlowLoggerWithClock is SlowLogger with an explicit clock and first warning delay. Later warnings
// come 3s and then every 5s after the first.
func SlowLoggerWithClock(
	ctx context.Context,
	clk clock.Clock,
	first time.Duration,
	msg, fieldName, fieldVal string,
	logger logging.Logger,
) func() {
	slowTicker := clk.Ticker(first)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := clk.Now()
	go func() {
		for {
			select {
			case <-slowTicker.C:
				elapsed := clk.Since(startTime).Round(time.Millisecond).String()
				logger.CWarnw(ctx, msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if firstTick {
					slowTicker.Reset(slowLoggerSecondInterval)
					firstTick = false
				} else {
					slowTicker.Reset(slowLoggerInterval)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() { slowTicker.Stop(); cancel() }
}
