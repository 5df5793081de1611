package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestIdentityComposeIsNoop(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, quat.Number{Real: 0.98, Imag: 0.1, Jmag: 0.1, Kmag: 0.1})
	composed := Compose(Identity(), p)
	test.That(t, composed.AlmostEqual(p, 1e-9), test.ShouldBeTrue)
}

func TestInverseUndoesCompose(t *testing.T) {
	p := NewPose(r3.Vector{X: 0.5, Y: -1.2, Z: 3.1}, quat.Number{Real: 0.9, Imag: 0.2, Jmag: 0.3, Kmag: 0.1})
	roundTrip := Compose(p, p.Inverse())
	test.That(t, roundTrip.AlmostEqual(Identity(), 1e-9), test.ShouldBeTrue)
}

func TestRotationAngleOfIdentityIsZero(t *testing.T) {
	test.That(t, Identity().RotationAngle(), test.ShouldAlmostEqual, 0.0)
}

func TestRotationAngleOfQuarterTurn(t *testing.T) {
	half := math.Pi / 4
	p := NewPose(r3.Vector{}, quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)})
	test.That(t, p.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2)
}
