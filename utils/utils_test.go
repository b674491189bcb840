package utils_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/utils"
)

func TestStoppableWorkers(t *testing.T) {
	var running atomic.Int32
	worker := func(ctx context.Context) {
		running.Add(1)
		<-ctx.Done()
		running.Add(-1)
	}

	sw := utils.NewStoppableWorkers(worker, worker)
	sw.AddWorkers(worker)
	for running.Load() != 3 {
		time.Sleep(time.Millisecond)
	}
	test.That(t, sw.Context().Err(), test.ShouldBeNil)

	sw.Stop()
	test.That(t, running.Load(), test.ShouldEqual, int32(0))
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	t.Run("add after stop is a no-op", func(t *testing.T) {
		var called atomic.Bool
		sw.AddWorkers(func(context.Context) { called.Store(true) })
		sw.Stop()
		test.That(t, called.Load(), test.ShouldBeFalse)
	})

	t.Run("parent cancellation reaches workers", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		sw := utils.NewStoppableWorkersWithContext(parent, func(ctx context.Context) {
			<-ctx.Done()
			close(done)
		})
		cancel()
		<-done
		sw.Stop()
	})
}

func TestSlowLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := clock.NewMock()

	done := utils.SlowLoggerWithClock(context.Background(), mockClock, 2*time.Second,
		"inference is slow", "model", "simple", logger)

	mockClock.Add(time.Second)
	mockClock.Add(time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for logs.FilterMessage("inference is slow").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, logs.FilterMessage("inference is slow").Len(), test.ShouldEqual, 1)
	entry := logs.FilterMessage("inference is slow").All()[0]
	test.That(t, entry.ContextMap()["model"], test.ShouldEqual, "simple")
	test.That(t, entry.ContextMap()["time_elapsed"], test.ShouldEqual, "2s")
	done()
}

func TestClamp(t *testing.T) {
	test.That(t, utils.Clamp(-1, 0, 1), test.ShouldEqual, 0.0)
	test.That(t, utils.Clamp(2, 0, 1), test.ShouldEqual, 1.0)
	test.That(t, utils.Clamp(0.25, 0, 1), test.ShouldEqual, 0.25)
	test.That(t, utils.ClampInt(12, 0, 10), test.ShouldEqual, 10)
	test.That(t, utils.ScaleByPct(10, 0.55), test.ShouldEqual, 6)
	test.That(t, utils.ScaleByPct(10, 1.5), test.ShouldEqual, 10)
	test.That(t, utils.Float64AlmostEqual(0.1+0.2, 0.3, 1e-9), test.ShouldBeTrue)
}

func TestGuard(t *testing.T) {
	cleaned := false
	func() {
		guard := utils.NewGuard(func() { cleaned = true })
		defer guard.OnFail()
	}()
	test.That(t, cleaned, test.ShouldBeTrue)

	cleaned = false
	func() {
		guard := utils.NewGuard(func() { cleaned = true })
		defer guard.OnFail()
		guard.Success()
	}()
	test.That(t, cleaned, test.ShouldBeFalse)
}

func TestErrors(t *testing.T) {
	err := utils.NewUnexpectedTypeError(float32(0), 1)
	test.That(t, err.Error(), test.ShouldEqual, "expected float32 but got int")

	err = utils.NewModelNotFoundError("yolo")
	test.That(t, err.Error(), test.ShouldContainSubstring, `"yolo"`)
	test.That(t, errors.Unwrap(err), test.ShouldBeNil)
}
