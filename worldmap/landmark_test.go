package worldmap

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// TestMergeRedirectsEveryObserverNotJustTheOrigin is the regression test for
// Landmark.observers carrying every FramePoint that currently supports a
// Landmark, not only the one it was created from: before every call site
// routed through Observe, a multi-observer Landmark absorbed by Merge would
// leave all but its first observer dangling-referencing the deleted ID.
func TestMergeRedirectsEveryObserverNotJustTheOrigin(t *testing.T) {
	w := New(config.Default().WorldMap, golog.NewTestLogger(t))
	frame := w.CreateFrame(spatialmath.Identity(), 0, 5)

	origin := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	q := w.CreateLandmark(origin)
	extraObserver := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	q.Observe(extraObserver)
	test.That(t, q.ObservationCount(), test.ShouldEqual, 2)

	rOrigin := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	r := w.CreateLandmark(rOrigin)
	r.Merge(q)

	test.That(t, r.ObservationCount(), test.ShouldEqual, 3)
	for _, fp := range r.Observers() {
		test.That(t, fp.Landmark, test.ShouldEqual, r.ID)
	}
	test.That(t, q.ObservationCount(), test.ShouldEqual, 0)
}
