package worldmap

import (
	"github.com/golang/geo/r3"

	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// LandmarkObservation is a Landmark's position expressed in one LocalMap's
// own coordinate frame (spec.md §3, §4.4).
type LandmarkObservation struct {
	Landmark           identifier.ID
	PositionInLocalMap r3.Vector
}

// Correspondence pairs a landmark seen by the query LocalMap with the
// landmark it was matched to in a reference LocalMap (spec.md §4.3, §4.5).
type Correspondence struct {
	Query, Reference identifier.ID
	MatchingCount    uint64
	IsInlier         bool
}

// ClosureConstraint records one loop-closure edge from a LocalMap to a
// previously mapped one (spec.md §4.4).
type ClosureConstraint struct {
	Reference         identifier.ID
	RelativeTransform spatialmath.Pose
	Correspondences   []Correspondence
	Information       float64
}

// LocalMap is a submap rooted at a keyframe, aggregating a contiguous window
// of Frames and the Landmarks they observe (spec.md §3, §4.4).
type LocalMap struct {
	ID     identifier.ID
	Anchor identifier.ID
	Frames []identifier.ID

	Landmarks map[identifier.ID]LandmarkObservation

	LocalMapToWorld spatialmath.Pose

	Closures []ClosureConstraint

	Previous, Next identifier.ID
	Root           identifier.ID
}

// newLocalMap builds a LocalMap from a closed window of frames. The anchor
// is the newest (last) frame in the window; every frame's
// frame_to_local_map is anchor.world_to_robot ∘ frame.robot_to_world
// (invariant 4), and every Landmark observed by any window frame is added
// with its current world position expressed in local-map coordinates
// (spec.md §4.4).
func newLocalMap(id identifier.ID, window []*Frame, landmarks map[identifier.ID]*Landmark) *LocalMap {
	anchor := window[len(window)-1]
	anchor.IsKeyframe = true

	lm := &LocalMap{
		ID:              id,
		Anchor:          anchor.ID,
		LocalMapToWorld: anchor.RobotToWorld,
		Landmarks:       make(map[identifier.ID]LandmarkObservation),
		Previous:        identifier.None,
		Next:            identifier.None,
	}

	worldToLocalMap := anchor.WorldToRobot
	for _, frame := range window {
		lm.Frames = append(lm.Frames, frame.ID)
		frame.SetFrameToLocalMap(spatialmath.Compose(worldToLocalMap, frame.RobotToWorld))
		frame.LocalMap = id

		for _, fp := range frame.Points {
			if !fp.HasLandmark() {
				continue
			}
			landmark, ok := landmarks[fp.Landmark]
			if !ok {
				continue
			}
			landmark.LocalMaps[id] = struct{}{}
			lm.Landmarks[landmark.ID] = LandmarkObservation{
				Landmark:           landmark.ID,
				PositionInLocalMap: worldToLocalMap.Transform(landmark.WorldCoordinates),
			}
		}
	}
	lm.Root = id
	return lm
}

// AddCorrespondence appends a loop-closure edge to lm, matching
// WorldMap::addLoopClosure's call into LocalMap::addCorrespondence.
func (lm *LocalMap) AddCorrespondence(reference identifier.ID, relativeTransform spatialmath.Pose, correspondences []Correspondence, information float64) {
	lm.Closures = append(lm.Closures, ClosureConstraint{
		Reference:         reference,
		RelativeTransform: relativeTransform,
		Correspondences:   correspondences,
		Information:       information,
	})
}
