package tracking

import (
	"github.com/edaniels/golog"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/framepoints"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// StereoTracker is the RGB_STEREO tracker_mode variant: a BaseTracker
// driving a framepoints.StereoGenerator, with landmark recovery available
// (it runs when BaseTracking.EnableLandmarkRecovery is set).
type StereoTracker struct {
	*BaseTracker
}

// NewStereoTracker builds a StereoTracker.
func NewStereoTracker(
	logger golog.Logger,
	worldMap *worldmap.WorldMap,
	generator *framepoints.StereoGenerator,
	params config.BaseTracking,
	landmarkParams config.Landmark,
) *StereoTracker {
	t := &StereoTracker{}
	t.BaseTracker = newBaseTracker(logger, worldMap, generator, params, landmarkParams, t.recover)
	return t
}

// recover implements spec.md §4.2's landmark recovery: after pose
// refinement (the pose is now more accurate than it was at matching time),
// re-project each of the previous frame's unmatched-but-landmarked points
// and search again with the same projected-match policy. Each landmark has
// a recovery budget of MaximumLandmarkRecoveries.
func (t *StereoTracker) recover(frame *worldmap.Frame, tracker *BaseTracker) (int, error) {
	previous := tracker.worldMap.PreviousFrame()
	if previous == nil {
		return 0, nil
	}

	bins := newSpatialBins(frame.Points, tracker.params.BinSizePixels, tracker.params.RatioKeypointsToBins)
	claimed := make(map[*worldmap.FramePoint]bool)
	matchedPrevious := make(map[*worldmap.FramePoint]bool)
	for _, p := range frame.Points {
		if p.HasLandmark() {
			claimed[p] = true
		}
		if p.Predecessor != nil {
			matchedPrevious[p.Predecessor] = true
		}
	}

	recovered := 0
	predictedWorldToRobot := frame.WorldToRobot
	maxDescriptorDistance := tracker.generator.MatchingDistanceTrackingThreshold()

	for _, prevPoint := range previous.Points {
		if !prevPoint.HasLandmark() || matchedPrevious[prevPoint] {
			continue
		}
		landmarkID := uint64(prevPoint.Landmark)
		if tracker.recoveryBudget[landmarkID] >= tracker.params.MaximumLandmarkRecoveries {
			continue
		}

		landmark, ok := tracker.worldMap.Landmark(prevPoint.Landmark)
		if !ok {
			continue
		}
		cameraPoint := predictedWorldToRobot.Transform(landmark.WorldCoordinates)
		projectedPixel, ok := frame.CameraLeft.Project(cameraPoint)
		if !ok || !frame.CameraLeft.InsideImage(projectedPixel) {
			continue
		}

		match := bins.findBestMatch(projectedPixel, prevPoint.DescriptorLeft, tracker.pixelRadius, maxDescriptorDistance, claimed)
		if match == nil {
			continue
		}
		claimed[match] = true
		landmark.Observe(match)
		match.Predecessor = prevPoint
		landmark.Update(match.WorldCoordinates, match.CameraCoordinates.Z, tracker.landmarkParams)
		tracker.recoveryBudget[landmarkID]++
		recovered++
	}
	return recovered, nil
}
