package worldmap

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

func newTestWorldMap(t *testing.T) *WorldMap {
	params := config.Default().WorldMap
	return New(params, golog.NewTestLogger(t))
}

// Scenario 1 of spec.md §8: two sequential identical stereo frames leave the
// map with 2 frames and no local map.
func TestTwoIdenticalFramesCreateNoLocalMap(t *testing.T) {
	w := newTestWorldMap(t)
	w.CreateFrame(spatialmath.Identity(), 0, 5)
	w.CreateFrame(spatialmath.Identity(), 1, 5)

	test.That(t, len(w.FrameIDsSorted()), test.ShouldEqual, 2)
	test.That(t, w.LocalMapCount(), test.ShouldEqual, 0)
}

// Scenario 3 of spec.md §8: a track break at frame 5 clears previous/root and
// records the pre-break frame.
func TestBreakTrackResetsRootAndRecordsPreBreakFrame(t *testing.T) {
	w := newTestWorldMap(t)
	for i := 0; i < 5; i++ {
		w.CreateFrame(spatialmath.Identity(), float64(i), 5)
	}
	frame4 := w.PreviousFrame()
	frame5 := w.CurrentFrame()

	w.BreakTrack(frame5)

	test.That(t, frame5.Previous, test.ShouldEqual, identifier.None)
	test.That(t, frame5.Root, test.ShouldEqual, frame5.ID)
	test.That(t, w.lastFrameBeforeBreak, test.ShouldEqual, frame4.ID)

	frame6 := w.CreateFrame(spatialmath.Identity(), 6, 5)
	test.That(t, frame6.Status, test.ShouldEqual, Localizing)
}

// Boundary behavior of spec.md §8: a window with exactly
// minimum_number_of_frames_for_local_map frames and zero rotation does not
// trigger local-map creation on its own once the bootstrap clause is spent.
func TestExactWindowSizeWithoutMotionDoesNotTriggerBootstrapped(t *testing.T) {
	w := newTestWorldMap(t)
	w.localMapsOrdered = make([]identifier.ID, 5) // exhaust the bootstrap clause

	w.CreateFrame(spatialmath.Identity(), 0, 5)
	for i := 1; i <= int(w.params.MinimumFramesForLocalMap); i++ {
		w.CreateFrame(spatialmath.Identity(), float64(i), 5)
		w.TryCreateLocalMap(false)
	}

	test.That(t, w.LocalMapCount(), test.ShouldEqual, 5) // only the five placeholders
}

// TestSetTrackIsIdempotent covers the idempotence testable property of
// spec.md §8: applying SetTrack twice to a stitched frame is a no-op.
func TestSetTrackIsIdempotent(t *testing.T) {
	w := newTestWorldMap(t)
	w.params.MinimumFramesForLocalMap = 2
	for i := 0; i < 5; i++ {
		w.CreateFrame(spatialmath.Identity(), float64(i), 5)
		w.TryCreateLocalMap(false)
	}
	frame5 := w.CurrentFrame()
	w.BreakTrack(frame5)

	var stitched *Frame
	for i := 6; i <= 8; i++ {
		stitched = w.CreateFrame(spatialmath.Identity(), float64(i), 5)
		w.TryCreateLocalMap(false)
	}
	rootBeforeStitch := stitched.Root

	w.SetTrack(stitched)
	firstRoot := stitched.Root
	test.That(t, firstRoot, test.ShouldNotEqual, rootBeforeStitch)
	w.SetTrack(stitched)

	test.That(t, stitched.Root, test.ShouldEqual, firstRoot)
}

// Scenario 5 of spec.md §8 (non-conflicting half): two independent pairs in
// one batch each absorb cleanly, and the tracked-landmark cache is
// redirected to whichever survivor took over.
func TestMergeLandmarksAbsorbsAndRedirectsTrackedCache(t *testing.T) {
	w := newTestWorldMap(t)
	frame := w.CreateFrame(spatialmath.Identity(), 0, 5)

	// Ascending-ID order l3 < l10 < l4 < l7, so "merge newer into older"
	// (q > r) resolves (l10,l3) and (l7,l4) onto the lower-ID landmark in
	// each pair without the two pairs' references colliding.
	fp3 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp10 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp4 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp7 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)

	l3 := w.CreateLandmark(fp3)
	l10 := w.CreateLandmark(fp10)
	l4 := w.CreateLandmark(fp4)
	l7 := w.CreateLandmark(fp7)

	w.SetCurrentlyTrackedLandmarks([]identifier.ID{l10.ID, l7.ID})

	closures := []ClosureConstraint{{
		Correspondences: []Correspondence{
			{Query: l10.ID, Reference: l3.ID, MatchingCount: 50, IsInlier: true},
			{Query: l7.ID, Reference: l4.ID, MatchingCount: 30, IsInlier: true},
		},
	}}
	w.MergeLandmarks(closures)

	_, ok := w.Landmark(l10.ID)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = w.Landmark(l7.ID)
	test.That(t, ok, test.ShouldBeFalse)

	survivorA, ok := w.Landmark(l3.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, survivorA.ObservationCount(), test.ShouldEqual, 2)

	survivorB, ok := w.Landmark(l4.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, survivorB.ObservationCount(), test.ShouldEqual, 2)

	test.That(t, w.NumberOfMergedLandmarks(), test.ShouldEqual, 2)

	tracked := w.CurrentlyTrackedLandmarks()
	test.That(t, len(tracked), test.ShouldEqual, 2)
	test.That(t, tracked[0], test.ShouldEqual, l3.ID)
	test.That(t, tracked[1], test.ShouldEqual, l4.ID)
}

// Scenario 5's duplicate-filtering half: of the correspondences
// {(10,3,cnt=50), (10,7,cnt=30), (4,3,cnt=40)}, query 10 appears twice and
// keeps only its stronger pair (10,3,50); (4,3,40) then loses the
// reference-3 slot to that same stronger pair and is dropped entirely,
// exactly as WorldMap::mergeLandmarks's duplicate-filtering pass does in
// original_source/src/types/world_map.cpp — so only landmark 10 merges.
func TestMergeLandmarksDropsWeakerDuplicatePairs(t *testing.T) {
	w := newTestWorldMap(t)
	frame := w.CreateFrame(spatialmath.Identity(), 0, 5)

	fp3 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp7 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp10 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp4 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)

	l3 := w.CreateLandmark(fp3)
	l7 := w.CreateLandmark(fp7)
	l10 := w.CreateLandmark(fp10)
	l4 := w.CreateLandmark(fp4)

	closures := []ClosureConstraint{{
		Correspondences: []Correspondence{
			{Query: l10.ID, Reference: l3.ID, MatchingCount: 50, IsInlier: true},
			{Query: l10.ID, Reference: l7.ID, MatchingCount: 30, IsInlier: true},
			{Query: l4.ID, Reference: l3.ID, MatchingCount: 40, IsInlier: true},
		},
	}}
	w.MergeLandmarks(closures)

	test.That(t, w.NumberOfMergedLandmarks(), test.ShouldEqual, 1)

	_, ok := w.Landmark(l10.ID)
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = w.Landmark(l7.ID)
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = w.Landmark(l4.ID)
	test.That(t, ok, test.ShouldBeTrue)

	survivor, ok := w.Landmark(l3.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, survivor.ObservationCount(), test.ShouldEqual, 2)
}

// Boundary behavior of spec.md §8: a correspondence that is not an inlier,
// or whose query equals its reference, is skipped.
func TestMergeLandmarksSkipsSelfCorrespondenceAndNonInliers(t *testing.T) {
	w := newTestWorldMap(t)
	frame := w.CreateFrame(spatialmath.Identity(), 0, 5)
	fp := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fp2 := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	l := w.CreateLandmark(fp)
	l2 := w.CreateLandmark(fp2)

	closures := []ClosureConstraint{{
		Correspondences: []Correspondence{
			{Query: l.ID, Reference: l.ID, MatchingCount: 10, IsInlier: true},
			{Query: l2.ID, Reference: l.ID, MatchingCount: 10, IsInlier: false},
		},
	}}
	w.MergeLandmarks(closures)

	_, ok := w.Landmark(l.ID)
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = w.Landmark(l2.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, w.NumberOfMergedLandmarks(), test.ShouldEqual, 0)
}

// merge_landmarks step 4 of spec.md §4.3: landmarks sharing a local map reject the merge.
func TestMergeLandmarksRejectsSharedLocalMap(t *testing.T) {
	w := newTestWorldMap(t)
	frame := w.CreateFrame(spatialmath.Identity(), 0, 5)
	fpA := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	fpB := frame.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, gocv.Mat{}, gocv.Mat{}, r3.Vector{}, nil)
	a := w.CreateLandmark(fpA)
	b := w.CreateLandmark(fpB)

	shared := identifier.ID(1)
	a.LocalMaps[shared] = struct{}{}
	b.LocalMaps[shared] = struct{}{}

	closures := []ClosureConstraint{{
		Correspondences: []Correspondence{{Query: a.ID, Reference: b.ID, MatchingCount: 10, IsInlier: true}},
	}}
	w.MergeLandmarks(closures)

	test.That(t, w.NumberOfMergedLandmarks(), test.ShouldEqual, 0)
	test.That(t, w.warningsOnMerge, test.ShouldEqual, 1)
}
