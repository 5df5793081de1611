// Package spatialmath provides the rigid-transform algebra the SLAM core
// needs: composing and inverting 4x4 robot/world/local-map transforms, and
// measuring the rotation/translation accumulated between poses.
//
// This is a narrowed adaptation of viamrobotics-rdk's spatialmath package:
// orientation is kept as a quaternion (gonum.org/v1/gonum/num/quat), exactly
// as spatialmath/orientation.go represents it, and translation as
// github.com/golang/geo/r3.Vector, as spatialmath/cam_poses.go does.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a translation plus an orientation. It stands in
// for spec.md's "4x4 rigid transform" (robot_to_world, frame_to_local_map, ...).
type Pose struct {
	Translation r3.Vector
	Orientation quat.Number
}

// Identity is the zero transform.
func Identity() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose builds a Pose from a translation and a unit orientation quaternion.
func NewPose(translation r3.Vector, orientation quat.Number) Pose {
	return Pose{Translation: translation, Orientation: normalize(orientation)}
}

func normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// RotationMatrix returns the 3x3 rotation matrix equivalent to p's orientation.
func (p Pose) RotationMatrix() *mat.Dense {
	q := p.Orientation
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// Transform applies p to a point expressed in p's source frame, returning the
// point expressed in p's target frame: result = R*point + t.
func (p Pose) Transform(point r3.Vector) r3.Vector {
	rot := p.RotationMatrix()
	v := mat.NewVecDense(3, []float64{point.X, point.Y, point.Z})
	var out mat.VecDense
	out.MulVec(rot, v)
	return r3.Vector{X: out.AtVec(0) + p.Translation.X, Y: out.AtVec(1) + p.Translation.Y, Z: out.AtVec(2) + p.Translation.Z}
}

// Compose returns a ∘ b, i.e. the transform that first applies b then a:
// Compose(a, b).Transform(p) == a.Transform(b.Transform(p)). Invariant 4 of
// spec.md, read as the usual robotics chain-of-frames notation
// (frame -> local_map -> world), is Compose(local_map_to_world,
// frame_to_local_map) == robot_to_world.
func Compose(a, b Pose) Pose {
	orientation := quat.Mul(a.Orientation, b.Orientation)
	translation := rotate(a.Orientation, b.Translation).Add(a.Translation)
	return NewPose(translation, orientation)
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Inverse returns p^-1, such that Compose(p, p.Inverse()) is (numerically) Identity.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(p.Orientation)
	translation := rotate(inv, p.Translation).Mul(-1)
	return NewPose(translation, inv)
}

// RotationAngle returns the rotation angle (radians) of p's orientation, the
// magnitude of its Rodrigues (axis-angle) vector. Used to accumulate
// "degrees rotated" the way WorldMap::createLocalMap does with
// toOrientationRodrigues(...).norm() in original_source/world_map.cpp.
func (p Pose) RotationAngle() float64 {
	q := normalize(p.Orientation)
	// clamp for numerical safety
	w := q.Real
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	return 2 * math.Acos(w)
}

// AlmostEqual reports whether p and other are within tol in both translation
// (meters) and rotation angle (radians).
func (p Pose) AlmostEqual(other Pose, tol float64) bool {
	if p.Translation.Sub(other.Translation).Norm() > tol {
		return false
	}
	delta := Compose(p.Inverse(), other)
	return delta.RotationAngle() < tol
}
