package livedetect_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/visionarypath/sight/livedetect"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
	fakemodel "github.com/visionarypath/sight/services/mlmodel/fake"
)

func TestSessionHolder(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	noop := livedetect.Stages{
		Preprocess: func(ctx context.Context, canvas *rimage.Canvas) (ml.Tensors, error) { return nil, nil },
		Postprocess: func(ctx context.Context, out ml.Tensors, inference time.Duration, canvas *rimage.Canvas) error {
			return nil
		},
	}
	holder := livedetect.NewSessionHolder(func(ctx context.Context, session mlmodel.Session) (livedetect.Stages, error) {
		md, err := session.Metadata(ctx)
		if err != nil {
			return livedetect.Stages{}, err
		}
		switch md.ModelName {
		case "unbuildable":
			return livedetect.Stages{}, errors.New("unsupported outputs")
		case "partial":
			return livedetect.Stages{Preprocess: noop.Preprocess}, nil
		}
		return noop, nil
	}, logger)

	_, _, err := holder.Current()
	test.That(t, errors.Is(err, livedetect.ErrNoSession), test.ShouldBeTrue)
	test.That(t, errors.Is(holder.Install(ctx, "none", nil), livedetect.ErrNoSession), test.ShouldBeTrue)

	first := fakemodel.NewSession("first", clock.NewMock(), 0)
	test.That(t, holder.Install(ctx, "first", first), test.ShouldBeNil)
	test.That(t, holder.Name(), test.ShouldEqual, "first")
	firstID := holder.ID()
	test.That(t, firstID, test.ShouldNotBeEmpty)

	err = holder.Install(ctx, "unbuildable", fakemodel.NewSession("unbuildable", clock.NewMock(), 0))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported outputs")
	err = holder.Install(ctx, "partial", fakemodel.NewSession("partial", clock.NewMock(), 0))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, holder.Name(), test.ShouldEqual, "first")
	test.That(t, first.Closed(), test.ShouldBeFalse)

	// reinstalling the same session keeps it open
	test.That(t, holder.Install(ctx, "first", first), test.ShouldBeNil)
	test.That(t, first.Closed(), test.ShouldBeFalse)
	test.That(t, holder.ID(), test.ShouldNotEqual, firstID)

	second := fakemodel.NewSession("second", clock.NewMock(), 0)
	test.That(t, holder.Install(ctx, "second", second), test.ShouldBeNil)
	test.That(t, first.Closed(), test.ShouldBeTrue)
	session, stages, err := holder.Current()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session, test.ShouldEqual, second)
	test.That(t, stages.Postprocess, test.ShouldNotBeNil)

	test.That(t, holder.Close(ctx), test.ShouldBeNil)
	test.That(t, second.Closed(), test.ShouldBeTrue)
	test.That(t, holder.Name(), test.ShouldBeEmpty)
	test.That(t, holder.Close(ctx), test.ShouldBeNil)
}
