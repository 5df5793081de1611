package tracking

import (
	"github.com/edaniels/golog"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/framepoints"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// DepthTracker is the RGB_DEPTH tracker_mode variant: a BaseTracker driving
// a framepoints.DepthGenerator. It does not implement landmark recovery
// (spec.md §4.2) — the original depth tracker's recovery routine returns
// immediately without attempting to recover any point.
type DepthTracker struct {
	*BaseTracker
}

// NewDepthTracker builds a DepthTracker.
func NewDepthTracker(
	logger golog.Logger,
	worldMap *worldmap.WorldMap,
	generator *framepoints.DepthGenerator,
	params config.BaseTracking,
	landmarkParams config.Landmark,
) *DepthTracker {
	t := &DepthTracker{}
	t.BaseTracker = newBaseTracker(logger, worldMap, generator, params, landmarkParams, t.recover)
	return t
}

// recover is an intentional no-op: the depth variant never recovers lost
// landmarks, mirroring the original depth tracker's recovery routine.
func (t *DepthTracker) recover(frame *worldmap.Frame, tracker *BaseTracker) (int, error) {
	return 0, nil
}
