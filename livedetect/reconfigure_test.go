package livedetect_test

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/livedetect"
)

func TestSwitchFacingMode(t *testing.T) {
	h := newHarness(t, livedetect.SchedulerConfig{})
	test.That(t, h.sched.Start(h.ctx), test.ShouldBeNil)
	h.tick(t)
	h.waitSamples(t, 1)
	test.That(t, h.capturer.Canvas().Snapshot().RGBAAt(0, 0), test.ShouldResemble, marker)

	var stateInCallback livedetect.LoopState
	var alphaInCallback uint8
	h.host.onFace = func(mode camera.FacingMode) error {
		stateInCallback = h.sched.State()
		alphaInCallback = h.capturer.Canvas().Snapshot().RGBAAt(0, 0).A
		return nil
	}

	mode, err := h.coord.SwitchFacingMode(h.ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, camera.FacingSelf)
	test.That(t, h.coord.FacingMode(), test.ShouldEqual, camera.FacingSelf)
	test.That(t, stateInCallback, test.ShouldEqual, livedetect.Idle)
	test.That(t, alphaInCallback, test.ShouldEqual, uint8(0))

	all := h.events.all()
	test.That(t, all[len(all)-2:], test.ShouldResemble, []string{"postprocess:30ms", "facing:user"})

	t.Run("frames are mirrored after the switch", func(t *testing.T) {
		test.That(t, h.sched.CaptureOnce(h.ctx), test.ShouldBeNil)
		test.That(t, h.capturer.Canvas().Mirrored(), test.ShouldBeTrue)
	})

	t.Run("switching back clears the mirrored mark", func(t *testing.T) {
		h.host.onFace = nil
		mode, err := h.coord.SwitchFacingMode(h.ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mode, test.ShouldEqual, camera.FacingEnvironment)
		test.That(t, h.capturer.Canvas().Mirrored(), test.ShouldBeFalse)

		mode, err = h.coord.SwitchFacingMode(h.ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mode, test.ShouldEqual, camera.FacingSelf)
	})

	t.Run("host failure keeps the facing mode", func(t *testing.T) {
		h.host.onFace = func(mode camera.FacingMode) error {
			return errors.New("no rear camera")
		}
		mode, err := h.coord.SwitchFacingMode(h.ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no rear camera")
		test.That(t, mode, test.ShouldEqual, camera.FacingSelf)
		test.That(t, h.coord.FacingMode(), test.ShouldEqual, camera.FacingSelf)
	})
}

func TestSwitchModel(t *testing.T) {
	h := newHarness(t, livedetect.SchedulerConfig{})
	test.That(t, h.sched.Start(h.ctx), test.ShouldBeNil)

	test.That(t, h.coord.SwitchModel(h.ctx, "ssd"), test.ShouldBeNil)
	test.That(t, h.sched.State(), test.ShouldEqual, livedetect.Idle)
	test.That(t, h.sessions.Name(), test.ShouldEqual, "ssd")
	test.That(t, h.session.Closed(), test.ShouldBeTrue)
	test.That(t, h.events.all(), test.ShouldContain, "model:ssd")

	id := h.sessions.ID()
	h.host.failFor = "missing"
	err := h.coord.SwitchModel(h.ctx, "missing")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `cannot switch to model "missing"`)
	test.That(t, h.sessions.Name(), test.ShouldEqual, "ssd")
	test.That(t, h.sessions.ID(), test.ShouldEqual, id)

	test.That(t, h.sched.CaptureOnce(h.ctx), test.ShouldBeNil)
	test.That(t, h.recorded(), test.ShouldHaveLength, 1)
}

func TestReset(t *testing.T) {
	h := newHarness(t, livedetect.SchedulerConfig{})
	test.That(t, h.sched.CaptureOnce(h.ctx), test.ShouldBeNil)
	test.That(t, h.sched.Start(h.ctx), test.ShouldBeNil)

	test.That(t, h.coord.Reset(h.ctx), test.ShouldBeNil)
	test.That(t, h.sched.State(), test.ShouldEqual, livedetect.Idle)
	test.That(t, h.sched.LastCapture(), test.ShouldBeNil)
	snap := h.capturer.Canvas().Snapshot()
	test.That(t, snap.RGBAAt(0, 0).A, test.ShouldEqual, uint8(0))
	test.That(t, snap.RGBAAt(frameWidth-1, frameHeight-1).A, test.ShouldEqual, uint8(0))
}

func TestNoRunsWhileReconfiguring(t *testing.T) {
	h := newHarness(t, livedetect.SchedulerConfig{})
	test.That(t, h.sched.Start(h.ctx), test.ShouldBeNil)

	var startErr, captureErr error
	var toggled bool
	h.host.onFace = func(mode camera.FacingMode) error {
		startErr = h.sched.Start(h.ctx)
		captureErr = h.sched.CaptureOnce(h.ctx)
		toggled, _ = h.sched.Toggle(h.ctx)
		return nil
	}
	_, err := h.coord.SwitchFacingMode(h.ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errors.Is(startErr, livedetect.ErrReconfiguring), test.ShouldBeTrue)
	test.That(t, errors.Is(captureErr, livedetect.ErrReconfiguring), test.ShouldBeTrue)
	test.That(t, toggled, test.ShouldBeFalse)
	test.That(t, h.sched.State(), test.ShouldEqual, livedetect.Idle)
	test.That(t, h.events.all(), test.ShouldResemble, []string{"facing:user"})

	t.Run("runs begin again after the switch", func(t *testing.T) {
		test.That(t, h.sched.Start(h.ctx), test.ShouldBeNil)
		h.tick(t)
		h.waitSamples(t, 1)
		h.sched.Stop()
		h.waitIdle(t)
	})

	t.Run("a failed switch also lets runs begin", func(t *testing.T) {
		h.host.onFace = func(mode camera.FacingMode) error {
			return errors.New("camera busy")
		}
		_, err := h.coord.SwitchFacingMode(h.ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, h.sched.CaptureOnce(h.ctx), test.ShouldBeNil)
	})

	t.Run("model switches hold runs too", func(t *testing.T) {
		h.host.onFace = nil
		var modelStartErr error
		h.host.onModel = func(selector string) {
			modelStartErr = h.sched.Start(h.ctx)
		}
		test.That(t, h.coord.SwitchModel(h.ctx, "ssd"), test.ShouldBeNil)
		test.That(t, errors.Is(modelStartErr, livedetect.ErrReconfiguring), test.ShouldBeTrue)
		test.That(t, h.sched.State(), test.ShouldEqual, livedetect.Idle)
	})
}
