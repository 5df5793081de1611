package relocalization

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

func newTestWorldMap(t *testing.T) *worldmap.WorldMap {
	params := config.Default().WorldMap
	params.MinimumFramesForLocalMap = 2
	return worldmap.New(params, golog.NewTestLogger(t))
}

func testRelocalizationParams() config.Relocalization {
	return config.Relocalization{
		PreliminaryMinimumInterspaceQueries: 1,
		PreliminaryMinimumMatchingRatio:     0.5,
		MinimumMatchesPerLandmark:           1,
		MinimumMatchesPerCorrespondence:     2,
		Aligner: config.Aligner{
			MaximumErrorKernel:       1,
			Damping:                  1,
			ErrorDeltaForConvergence: 1e-3,
			MaximumIterations:        10,
			MinimumInliers:           1,
			MinimumInlierRatio:       0.5,
		},
	}
}

func descriptorMat(bytes ...byte) gocv.Mat {
	m := gocv.NewMatWithSize(1, len(bytes), gocv.MatTypeCV8U)
	for col, b := range bytes {
		m.SetUCharAt(0, col, b)
	}
	return m
}

// createLocalMap closes a fresh window of frames and attaches one Landmark
// per descriptor to the window's anchor frame, giving each landmark the
// position positions[i] (identity poses throughout mean a FramePoint's
// camera coordinate becomes its Landmark's world coordinate, and in turn its
// PositionInLocalMap unchanged). Relies on the bootstrap clause of
// spec.md §4.3/§8 (fewer than 5 local maps exist yet) to trigger without any
// simulated motion.
func createLocalMap(t *testing.T, w *worldmap.WorldMap, minimumFrames uint64, descriptors [][]byte, positions []r3.Vector) *worldmap.LocalMap {
	var anchor *worldmap.Frame
	for i := uint64(0); i <= minimumFrames; i++ {
		anchor = w.CreateFrame(spatialmath.Identity(), float64(i), 5)
	}
	for i, d := range descriptors {
		fp := anchor.CreateFramePoint(gocv.KeyPoint{}, gocv.KeyPoint{}, descriptorMat(d...), gocv.Mat{}, positions[i], nil)
		w.CreateLandmark(fp)
	}
	ok := w.TryCreateLocalMap(false)
	test.That(t, ok, test.ShouldBeTrue)
	return w.CurrentLocalMap()
}

// TestFindClosureAcceptsGeometricallyVerifiedMatch builds a reference local
// map, an unrelated intermediate one, and a query local map whose landmarks
// closely resemble the reference's both in descriptor and in position, and
// checks that FindClosure reports it as a closure.
func TestFindClosureAcceptsGeometricallyVerifiedMatch(t *testing.T) {
	w := newTestWorldMap(t)

	positions := []r3.Vector{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}}

	reference := createLocalMap(t, w, 2,
		[][]byte{{0xAA}, {0xBB}, {0xCC}}, positions)
	_ = createLocalMap(t, w, 2,
		[][]byte{{0x11}, {0x22}, {0x33}},
		[]r3.Vector{{X: 5, Y: 5, Z: 5}, {X: 6, Y: 6, Z: 6}, {X: 7, Y: 7, Z: 7}})
	query := createLocalMap(t, w, 2,
		[][]byte{{0xAA}, {0xBB}, {0xCC}}, positions)

	r := New(golog.NewTestLogger(t), w, testRelocalizationParams(), 1)
	result, ok := r.FindClosure(query)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, result.Reference.ID, test.ShouldEqual, reference.ID)
	test.That(t, len(result.Correspondences), test.ShouldEqual, 3)
	test.That(t, result.Information, test.ShouldBeGreaterThan, 0)
}

// TestFindClosureRejectsWhenInterspaceNotYetSatisfied checks the
// PreliminaryMinimumInterspaceQueries guard: a local map too close to the
// start of the chain never searches backward.
func TestFindClosureRejectsWhenInterspaceNotYetSatisfied(t *testing.T) {
	w := newTestWorldMap(t)

	positions := []r3.Vector{{X: 1, Y: 0, Z: 0}}
	createLocalMap(t, w, 2, [][]byte{{0xAA}}, positions)
	query := createLocalMap(t, w, 2, [][]byte{{0xAA}}, positions)

	r := New(golog.NewTestLogger(t), w, testRelocalizationParams(), 5)
	_, ok := r.FindClosure(query)
	test.That(t, ok, test.ShouldBeFalse)
}

// TestFindClosureRejectsBelowMatchingRatio checks the preliminary
// descriptor-matching-ratio guard: enough interspace exists, but none of the
// query's landmarks resemble anything in the candidate reference maps.
func TestFindClosureRejectsBelowMatchingRatio(t *testing.T) {
	w := newTestWorldMap(t)

	positions := []r3.Vector{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}}
	createLocalMap(t, w, 2, [][]byte{{0xAA}, {0xBB}, {0xCC}}, positions)
	createLocalMap(t, w, 2, [][]byte{{0x11}, {0x22}, {0x33}}, positions)
	query := createLocalMap(t, w, 2, [][]byte{{0x44}, {0x55}, {0x66}}, positions)

	r := New(golog.NewTestLogger(t), w, testRelocalizationParams(), 1)
	_, ok := r.FindClosure(query)
	test.That(t, ok, test.ShouldBeFalse)
}
