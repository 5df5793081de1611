package tracking

import (
	"github.com/edaniels/golog"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/framepoints"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// MotionModel selects how Tracker predicts the current frame's pose before
// matching (spec.md §4.2, "Motion prediction model (configurable, exclusive)").
type MotionModel int

const (
	// ConstantVelocity applies the previous inter-frame transform again.
	ConstantVelocity MotionModel = iota
	// ExternalOdometry uses a pose delta supplied by the host per frame.
	ExternalOdometry
)

// Tracker is the capability spec.md Design Notes §9 recommends expressing
// as a small trait with mode-specific methods rather than a deep class
// hierarchy: one BaseTracker body shared by the Stereo and Depth variants,
// which differ only in their FramePoint generator and their landmark
// recovery behavior (recoverFunc).
type Tracker interface {
	// Track produces FramePoints for the current frame, matches them
	// against the previous frame's tracked landmarks, refines the pose,
	// and updates the landmark lifecycle. It returns false if tracking
	// failed, in which case the track has already been broken.
	Track(frame *worldmap.Frame, imageLeft, imageRight gocv.Mat) (bool, error)
}

// BaseTracker implements the shared responsibilities of spec.md §4.2.
type BaseTracker struct {
	logger    golog.Logger
	worldMap  *worldmap.WorldMap
	generator framepoints.Generator

	params         config.BaseTracking
	landmarkParams config.Landmark

	motion            MotionModel
	odometryDelta     spatialmath.Pose
	previousDelta     spatialmath.Pose
	pixelRadius       float64
	recoveryBudget    map[uint64]uint64
	recoverLandmarks  func(frame *worldmap.Frame, tracker *BaseTracker) (int, error)
}

func newBaseTracker(
	logger golog.Logger,
	worldMap *worldmap.WorldMap,
	generator framepoints.Generator,
	params config.BaseTracking,
	landmarkParams config.Landmark,
	recover func(frame *worldmap.Frame, tracker *BaseTracker) (int, error),
) *BaseTracker {
	return &BaseTracker{
		logger:           logger,
		worldMap:         worldMap,
		generator:        generator,
		params:           params,
		landmarkParams:   landmarkParams,
		motion:           ConstantVelocity,
		previousDelta:    spatialmath.Identity(),
		pixelRadius:      float64(params.MinimumThresholdDistanceTrackingPixels),
		recoveryBudget:   make(map[uint64]uint64),
		recoverLandmarks: recover,
	}
}

// SetMotionModel switches between constant-velocity and external-odometry
// prediction (spec.md §4.2).
func (t *BaseTracker) SetMotionModel(model MotionModel) {
	t.motion = model
}

// SetOdometryDelta supplies the per-frame pose delta used when the motion
// model is ExternalOdometry.
func (t *BaseTracker) SetOdometryDelta(delta spatialmath.Pose) {
	t.odometryDelta = delta
}

// Track implements the full per-frame pipeline of spec.md §4.2.
func (t *BaseTracker) Track(frame *worldmap.Frame, imageLeft, imageRight gocv.Mat) (bool, error) {
	if err := t.generator.Generate(frame, imageLeft, imageRight); err != nil {
		return false, err
	}

	previous := t.worldMap.PreviousFrame()
	if previous == nil {
		frame.Status = worldmap.Localizing
		return true, nil
	}

	predicted := t.predict(previous)
	frame.SetRobotToWorld(predicted)

	correspondences, matches := t.matchAgainstPrevious(frame, previous, predicted)
	if len(correspondences) == 0 {
		if t.worldMap.LandmarkCount() > 0 {
			// A real track loss: Landmarks already exist, but none of them
			// matched this frame, so there is nothing to align against.
			return t.fail(frame)
		}
		// Still bootstrapping: no Landmark exists anywhere yet, so every
		// previous FramePoint is necessarily unlandmarked and
		// matchAgainstPrevious can never return a correspondence for it.
		// Keep growing fresh tracks instead of breaking, so the first
		// Landmark can be promoted once one reaches
		// MinimumTrackLengthForLandmarkCreation (spec.md §4.2).
		frame.UpdateActivePoints()
		t.updateLandmarks(frame, matches)
		frame.Status = worldmap.Localizing
		return true, nil
	}

	result := Align(predicted, correspondences, t.params.Aligner)
	frame.SetRobotToWorld(result.RobotToWorld)
	frame.UpdateActivePoints()

	if !result.Success(t.params.Aligner) {
		return t.fail(frame)
	}

	t.previousDelta = spatialmath.Compose(previous.WorldToRobot, result.RobotToWorld)
	t.adaptPixelRadius(true)
	t.generator.AdaptMatchingDistanceTrackingThreshold(result.InlierRatio)

	t.updateLandmarks(frame, matches)

	if t.params.EnableLandmarkRecovery && t.recoverLandmarks != nil {
		if _, err := t.recoverLandmarks(frame, t); err != nil {
			t.logger.Warnw("landmark recovery failed", "error", err)
		}
	}

	if uint64(frame.CountTrackedLandmarks()) < t.params.MinimumLandmarksToTrack {
		return t.fail(frame)
	}

	frame.Status = worldmap.Tracking
	return true, nil
}

// predict applies the configured motion model to previous's pose.
func (t *BaseTracker) predict(previous *worldmap.Frame) spatialmath.Pose {
	delta := t.previousDelta
	if t.motion == ExternalOdometry {
		delta = t.odometryDelta
	}
	return spatialmath.Compose(previous.RobotToWorld, delta)
}

// matchAgainstPrevious implements spec.md §4.2's matching policy: for each
// previous FramePoint with known 3D, project into the current image using
// the predicted pose and search within the adaptive pixel radius.
func (t *BaseTracker) matchAgainstPrevious(
	frame, previous *worldmap.Frame,
	predicted spatialmath.Pose,
) ([]Correspondence, []projectedMatch) {
	bins := newSpatialBins(frame.Points, t.params.BinSizePixels, t.params.RatioKeypointsToBins)
	claimed := make(map[*worldmap.FramePoint]bool)
	maxDescriptorDistance := t.generator.MatchingDistanceTrackingThreshold()

	var correspondences []Correspondence
	var matches []projectedMatch

	predictedWorldToRobot := predicted.Inverse()
	for _, prevPoint := range previous.Points {
		worldPoint := prevPoint.WorldCoordinates
		cameraPoint := predictedWorldToRobot.Transform(worldPoint)
		projectedPixel, ok := frame.CameraLeft.Project(cameraPoint)
		if !ok || !frame.CameraLeft.InsideImage(projectedPixel) {
			continue
		}

		match := bins.findBestMatch(projectedPixel, prevPoint.DescriptorLeft, t.pixelRadius, maxDescriptorDistance, claimed)
		if match == nil {
			continue
		}
		claimed[match] = true
		match.Predecessor = prevPoint

		if prevPoint.HasLandmark() {
			if landmark, ok := t.worldMap.Landmark(prevPoint.Landmark); ok {
				landmark.Observe(match)
				correspondences = append(correspondences, Correspondence{
					CameraPoint: match.CameraCoordinates,
					WorldPoint:  landmark.WorldCoordinates,
					IsNear:      match.IsNear,
				})
			}
		}
		matches = append(matches, projectedMatch{current: match, previous: prevPoint})
	}
	return correspondences, matches
}

// updateLandmarks implements the landmark lifecycle of spec.md §4.2:
// updates landmarks already tracked, and promotes fresh tracks whose
// length reaches MinimumTrackLengthForLandmarkCreation.
func (t *BaseTracker) updateLandmarks(frame *worldmap.Frame, matches []projectedMatch) {
	for _, m := range matches {
		if m.current.HasLandmark() {
			landmark, ok := t.worldMap.Landmark(m.current.Landmark)
			if !ok {
				continue
			}
			depth := m.current.CameraCoordinates.Z
			landmark.Update(m.current.WorldCoordinates, depth, t.landmarkParams)
			continue
		}
		if m.current.TrackLength() >= t.params.MinimumTrackLengthForLandmarkCreation {
			// CreateLandmark already registers m.current itself as the
			// first observer; every earlier FramePoint in its predecessor
			// chain needs the same registration so Merge can redirect all
			// of them later, not just m.current.
			landmark := t.worldMap.CreateLandmark(m.current)
			for cur := m.current.Predecessor; cur != nil; cur = cur.Predecessor {
				landmark.Observe(cur)
			}
		}
	}
}

// adaptPixelRadius shrinks the search radius after a successful frame and
// grows it after a failed one, bounded by the configured pixel range.
func (t *BaseTracker) adaptPixelRadius(success bool) {
	if success {
		t.pixelRadius -= 1
	} else {
		t.pixelRadius += 2
	}
	min := float64(t.params.MinimumThresholdDistanceTrackingPixels)
	max := float64(t.params.MaximumThresholdDistanceTrackingPixels)
	if t.pixelRadius < min {
		t.pixelRadius = min
	}
	if t.pixelRadius > max {
		t.pixelRadius = max
	}
}

// fail signals a track break (spec.md §7, "Tracking failure").
func (t *BaseTracker) fail(frame *worldmap.Frame) (bool, error) {
	t.adaptPixelRadius(false)
	frame.Status = worldmap.Localizing
	t.worldMap.BreakTrack(frame)
	return false, nil
}
