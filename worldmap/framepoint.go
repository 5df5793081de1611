package worldmap

import (
	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/identifier"
)

// FramePoint is a single 2D+3D observation within one Frame (spec.md §3).
// A FramePoint belongs to exactly one Frame (invariant 2) and is released
// when that Frame is cleared; it optionally chains to the FramePoint it was
// tracked from in the previous frame (Predecessor) and to the Landmark it
// currently supports (Landmark, identifier.None if fresh).
type FramePoint struct {
	KeypointLeft, KeypointRight     gocv.KeyPoint
	DescriptorLeft, DescriptorRight gocv.Mat

	// CameraCoordinates is the 3D position of this observation in the owning
	// Frame's left-camera frame.
	CameraCoordinates r3.Vector
	// WorldCoordinates is CameraCoordinates transformed by the owning
	// Frame's robot_to_world at the time it was last refreshed.
	WorldCoordinates r3.Vector

	// IsNear classifies the point per maximum_depth_near_meters (spec.md
	// §4.1): near points get full reprojection weight, far points are
	// bearing-only in the aligner.
	IsNear bool

	Predecessor *FramePoint
	Landmark    identifier.ID
	OwnerFrame  identifier.ID
}

// TrackLength returns 1 plus the length of the predecessor chain, i.e. how
// many consecutive frames (including this one) this observation has been
// tracked across.
func (fp *FramePoint) TrackLength() uint64 {
	length := uint64(1)
	for cur := fp.Predecessor; cur != nil; cur = cur.Predecessor {
		length++
	}
	return length
}

// HasLandmark reports whether this observation currently supports a Landmark.
func (fp *FramePoint) HasLandmark() bool {
	return fp.Landmark != identifier.None
}

// release closes the native descriptor matrices this FramePoint owns.
// Called from Frame.Clear (invariant 2: destroyed with its owning Frame).
func (fp *FramePoint) release() {
	if !fp.DescriptorLeft.Empty() {
		fp.DescriptorLeft.Close()
	}
	if !fp.DescriptorRight.Empty() {
		fp.DescriptorRight.Close()
	}
}
