package worldmap

import (
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
)

// Landmark is a persistent 3D point aggregated across observations
// (spec.md §3). It is shared by every FramePoint that observes it; observers
// is the back-reference set that makes that sharing concrete in Go (a plain
// port of the original's raw-pointer sharing would leave stale FramePoint
// pointers dangling after a merge, which violates the no-dangling-reference
// testable property of spec.md §8 — see DESIGN.md).
type Landmark struct {
	ID               identifier.ID
	WorldCoordinates r3.Vector
	LocalMaps        map[identifier.ID]struct{}
	NumberOfUpdates  uint64
	ForcedUpdates    uint64
	Valid            bool

	observers []*FramePoint
}

func newLandmark(id identifier.ID, origin *FramePoint) *Landmark {
	l := &Landmark{
		ID:               id,
		WorldCoordinates: origin.WorldCoordinates,
		LocalMaps:        make(map[identifier.ID]struct{}),
		Valid:            true,
	}
	l.Observe(origin)
	return l
}

// Observe links fp to l and points fp.Landmark at l's identifier. Every
// FramePoint that currently supports l, across however many frames it has
// been tracked, must go through this call — Merge only redirects what is
// in observers, so a FramePoint linked by writing fp.Landmark directly
// instead of calling Observe would survive a merge as a dangling reference
// to the absorbed Landmark's identifier.
func (l *Landmark) Observe(fp *FramePoint) {
	fp.Landmark = l.ID
	l.observers = append(l.observers, fp)
}

// ObservationCount returns the number of FramePoints currently observing l.
func (l *Landmark) ObservationCount() int {
	return len(l.observers)
}

// Descriptor returns the most recent observer's left descriptor as the
// Landmark's representative appearance. Package relocalization does not use
// it; it matches against every observer's descriptor via Observers.
func (l *Landmark) Descriptor() gocv.Mat {
	if len(l.observers) == 0 {
		return gocv.NewMat()
	}
	return l.observers[len(l.observers)-1].DescriptorLeft
}

// Observers returns the FramePoints currently observing l, in the order
// they were added. Package relocalization uses this to count independent
// descriptor matches supporting a candidate landmark correspondence
// (spec.md §4.5's per-landmark correspondence count).
func (l *Landmark) Observers() []*FramePoint {
	out := make([]*FramePoint, len(l.observers))
	copy(out, l.observers)
	return out
}

// Update folds in a new world-coordinate measurement taken at the given
// observation depth (the observing FramePoint's CameraCoordinates.Z). It
// implements the guarded
// running average of spec.md §4.2: weighted by inverse depth variance,
// guarded by maximum_translation_error_to_depth_ratio once past the
// forced-update grace period (minimum_number_of_forced_updates).
func (l *Landmark) Update(measurement r3.Vector, depth float64, params config.Landmark) {
	if l.ForcedUpdates < params.MinimumForcedUpdates {
		l.ForcedUpdates++
		l.blend(measurement, depth)
		l.NumberOfUpdates++
		return
	}

	translationError := measurement.Sub(l.WorldCoordinates).Norm()
	if depth <= 0 || translationError/depth > params.MaximumTranslationErrorToDepthRatio {
		l.Valid = false
		return
	}
	l.blend(measurement, depth)
	l.NumberOfUpdates++
}

// blend runs the inverse-depth-variance weighted running average.
func (l *Landmark) blend(measurement r3.Vector, depth float64) {
	if l.NumberOfUpdates == 0 {
		l.WorldCoordinates = measurement
		return
	}
	variance := depth * depth
	if variance == 0 {
		variance = 1e-6
	}
	newWeight := 1 / variance
	oldWeight := float64(l.NumberOfUpdates)
	total := oldWeight + newWeight
	l.WorldCoordinates = r3.Vector{
		X: (l.WorldCoordinates.X*oldWeight + measurement.X*newWeight) / total,
		Y: (l.WorldCoordinates.Y*oldWeight + measurement.Y*newWeight) / total,
		Z: (l.WorldCoordinates.Z*oldWeight + measurement.Z*newWeight) / total,
	}
}

// Merge absorbs other into l: l's observations become the union of both
// (invariant 3), every FramePoint that observed other is redirected to l,
// and other is left with no observers so it is safe to drop from the
// landmark table.
func (l *Landmark) Merge(other *Landmark) {
	for _, fp := range other.observers {
		l.Observe(fp)
	}
	for localMap := range other.LocalMaps {
		l.LocalMaps[localMap] = struct{}{}
	}
	l.NumberOfUpdates += other.NumberOfUpdates
	other.observers = nil
}

// SharesLocalMapWith reports whether l and other are both members of any
// common LocalMap — the merge_landmarks step 4 guard of spec.md §4.3.
func (l *Landmark) SharesLocalMapWith(other *Landmark) bool {
	for localMap := range l.LocalMaps {
		if _, ok := other.LocalMaps[localMap]; ok {
			return true
		}
	}
	return false
}
