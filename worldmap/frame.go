package worldmap

import (
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// Status is a Frame's tracker state, set at creation and updated by the
// Tracker (spec.md §4.2).
type Status int

// The two per-Frame tracker states named by spec.md §3/§4.2. BrokenTrack is
// a tracker-level state, not stored on the Frame itself (a broken track
// simply starts a new root Frame in Localizing status).
const (
	Localizing Status = iota
	Tracking
)

func (s Status) String() string {
	if s == Tracking {
		return "Tracking"
	}
	return "Localizing"
}

// Frame is one calibrated stereo/depth acquisition and everything derived
// from it (spec.md §3). Frames form a doubly-linked temporal list through
// Previous/Next identifiers rather than raw pointers, per Design Notes §9:
// the WorldMap arena owns the Frame values, and every cross-reference is a
// stable identifier.ID that survives a track break or a merge without
// leaving a dangling pointer behind.
type Frame struct {
	ID       identifier.ID
	Status   Status
	Previous identifier.ID
	Next     identifier.ID
	Root     identifier.ID

	CameraLeft, CameraRight *Camera
	ImageLeft, ImageRight   gocv.Mat

	KeypointsLeft, KeypointsRight     []gocv.KeyPoint
	DescriptorsLeft, DescriptorsRight gocv.Mat

	RobotToWorld spatialmath.Pose
	WorldToRobot spatialmath.Pose

	LocalMap        identifier.ID
	FrameToLocalMap spatialmath.Pose
	LocalMapToFrame spatialmath.Pose
	IsKeyframe      bool

	Points []*FramePoint

	GroundTruth          *spatialmath.Pose
	TimestampSeconds     float64
	MaximumDepthNear     float64
}

func newFrame(id identifier.ID, robotToWorld spatialmath.Pose, timestampSeconds, maximumDepthNear float64) *Frame {
	f := &Frame{
		ID:               id,
		Status:           Localizing,
		Previous:         identifier.None,
		Next:             identifier.None,
		Root:             id,
		LocalMap:         identifier.None,
		FrameToLocalMap:  spatialmath.Identity(),
		LocalMapToFrame:  spatialmath.Identity(),
		TimestampSeconds: timestampSeconds,
		MaximumDepthNear: maximumDepthNear,
	}
	f.SetRobotToWorld(robotToWorld)
	return f
}

// SetRobotToWorld sets the Frame's pose and its derived inverse.
func (f *Frame) SetRobotToWorld(pose spatialmath.Pose) {
	f.RobotToWorld = pose
	f.WorldToRobot = pose.Inverse()
}

// SetFrameToLocalMap sets the Frame's local-map membership transform and its
// derived inverse (invariant 4).
func (f *Frame) SetFrameToLocalMap(pose spatialmath.Pose) {
	f.FrameToLocalMap = pose
	f.LocalMapToFrame = pose.Inverse()
}

// CreateFramePoint allocates a new FramePoint owned by f, optionally linked
// to a predecessor observation in the previous Frame's track.
func (f *Frame) CreateFramePoint(
	keypointLeft, keypointRight gocv.KeyPoint,
	descriptorLeft, descriptorRight gocv.Mat,
	cameraCoordinates r3.Vector,
	predecessor *FramePoint,
) *FramePoint {
	fp := &FramePoint{
		KeypointLeft:       keypointLeft,
		KeypointRight:      keypointRight,
		DescriptorLeft:     descriptorLeft,
		DescriptorRight:    descriptorRight,
		CameraCoordinates:  cameraCoordinates,
		Predecessor:        predecessor,
		Landmark:           identifier.None,
		OwnerFrame:         f.ID,
	}
	fp.WorldCoordinates = f.RobotToWorld.Transform(cameraCoordinates)
	f.Points = append(f.Points, fp)
	return fp
}

// UpdateActivePoints refreshes every active point's WorldCoordinates from
// the Frame's current RobotToWorld — called after pose refinement changes
// RobotToWorld mid-step.
func (f *Frame) UpdateActivePoints() {
	for _, fp := range f.Points {
		fp.WorldCoordinates = f.RobotToWorld.Transform(fp.CameraCoordinates)
	}
}

// CountTrackedLandmarks returns how many active points currently support a
// Landmark — the quantity break-track compares against
// minimum_number_of_landmarks_to_track (spec.md §4.2).
func (f *Frame) CountTrackedLandmarks() int {
	count := 0
	for _, fp := range f.Points {
		if fp.HasLandmark() {
			count++
		}
	}
	return count
}

// Clear releases every FramePoint owned by f (invariant 2) and drops the
// per-frame descriptor matrices. Used by
// WorldMap.resetWindowForLocalMapCreation when drop_framepoints is set.
func (f *Frame) Clear() {
	for _, fp := range f.Points {
		fp.release()
	}
	f.Points = nil
	if !f.DescriptorsLeft.Empty() {
		f.DescriptorsLeft.Close()
	}
	if !f.DescriptorsRight.Empty() {
		f.DescriptorsRight.Close()
	}
}
