package fake_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/services/mlmodel/fake"
)

func TestFakeSession(t *testing.T) {
	ctx := context.Background()
	mockClock := clock.NewMock()
	start := mockClock.Now()

	session := fake.NewSession("fake", mockClock, 30*time.Millisecond)
	out, err := session.Infer(ctx, ml.Tensors{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mockClock.Since(start), test.ShouldEqual, 30*time.Millisecond)
	test.That(t, session.Calls(), test.ShouldEqual, 1)
	test.That(t, session.MaxInFlight(), test.ShouldEqual, 1)

	scores, err := out.Float64s("score")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scores[0], test.ShouldAlmostEqual, 0.9, 1e-6)

	session.SetOutputs(fake.DetectionOutputs([][4]float32{{0, 0, 1, 1}, {0, 0, 0.5, 0.5}}, []float32{0.8, 0.4}))
	out, err = session.Infer(ctx, ml.Tensors{})
	test.That(t, err, test.ShouldBeNil)
	locations, err := out.Float64s("location")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, locations, test.ShouldHaveLength, 8)

	md, err := session.Metadata(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.Labels(), test.ShouldResemble, []string{"target"})

	test.That(t, session.Close(ctx), test.ShouldBeNil)
	test.That(t, session.Closed(), test.ShouldBeTrue)
	_, err = session.Infer(ctx, ml.Tensors{})
	test.That(t, err, test.ShouldNotBeNil)
}
