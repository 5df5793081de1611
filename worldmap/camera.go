package worldmap

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// Camera is a calibrated pinhole camera, one of Frame's left/right
// calibrations (spec.md §3). BaselineMeters is only meaningful for the right
// camera of a stereo pair.
type Camera struct {
	Label          string
	Width, Height  int
	Fx, Fy         float64
	Ppx, Ppy       float64
	BaselineMeters float64
	RobotToCamera  spatialmath.Pose
}

// Project maps a 3D point expressed in this camera's own frame onto the
// image plane. It reports false if the point is behind the camera.
func (c *Camera) Project(point r3.Vector) (r2.Point, bool) {
	if point.Z <= 0 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: c.Fx*point.X/point.Z + c.Ppx,
		Y: c.Fy*point.Y/point.Z + c.Ppy,
	}, true
}

// BackProject converts a pixel plus a metric depth into a 3D point in this
// camera's own frame.
func (c *Camera) BackProject(pixel r2.Point, depth float64) r3.Vector {
	return r3.Vector{
		X: (pixel.X - c.Ppx) * depth / c.Fx,
		Y: (pixel.Y - c.Ppy) * depth / c.Fy,
		Z: depth,
	}
}

// InsideImage reports whether pixel falls within this camera's image bounds.
func (c *Camera) InsideImage(pixel r2.Point) bool {
	return pixel.X >= 0 && pixel.Y >= 0 && pixel.X < float64(c.Width) && pixel.Y < float64(c.Height)
}
