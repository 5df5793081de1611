// Package tracking implements spec.md §4.2: the Tracker responsibilities of
// motion prediction, matching, iterative pose refinement, and landmark
// lifecycle management, in Base + Stereo/Depth variants.
package tracking

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// Correspondence is one current-camera-frame point matched to the world
// coordinate of the Landmark it is being aligned against.
type Correspondence struct {
	CameraPoint r3.Vector
	WorldPoint  r3.Vector
	IsNear      bool
}

// AlignmentResult is the outcome of iterative alignment (spec.md §4.2).
type AlignmentResult struct {
	RobotToWorld spatialmath.Pose
	Inliers      int
	InlierRatio  float64
	Converged    bool
}

// Align refines initial by minimizing a robust (Huber-like)
// reprojection-plus-depth error over correspondences, following the
// Levenberg-damped Gauss-Newton scheme cam_poses.go's SVD-based pose
// recovery leaves to a caller: here the state is the 6-DoF se(3)
// increment (translation + small-angle rotation) applied to initial each
// iteration, and the damped 6x6 normal equations (a gonum mat.SymDense) are
// solved with mat.VecDense.SolveVec.
//
// Terminates on error-delta convergence, the iteration cap, or divergence
// (error growing across an iteration beyond the kernel width), matching
// spec.md §4.2's aligner contract.
func Align(initial spatialmath.Pose, correspondences []Correspondence, params config.Aligner) AlignmentResult {
	pose := initial
	previousError := math.Inf(1)

	for iteration := uint64(0); iteration < params.MaximumIterations; iteration++ {
		jtj := mat.NewSymDense(6, nil)
		jtr := mat.NewVecDense(6, nil)
		totalError := 0.0
		inliers := 0

		for _, c := range correspondences {
			predicted := pose.Transform(c.CameraPoint)
			residual := predicted.Sub(c.WorldPoint)
			errorNorm := residual.Norm()

			weight := huberWeight(errorNorm, params.MaximumErrorKernel)
			if !c.IsNear {
				weight *= 0.5 // bearing-only points get reduced reprojection weight (spec.md §4.1)
			}
			if errorNorm < params.MaximumErrorKernel {
				inliers++
			}
			totalError += weight * errorNorm * errorNorm

			// Jacobian of (R*p + t) w.r.t. [translation; rotation] is
			// [I3 | -skew(R*p)], the same cross-product-matrix
			// construction rimage/transform/cam_poses.go's
			// getCrossProductMatFromPoint uses for essential-matrix work.
			skew := crossProductMatrix(predicted.Sub(pose.Translation))
			accumulateNormalEquations(jtj, jtr, residual, skew, weight)
		}

		if len(correspondences) == 0 {
			break
		}

		jtjDamped := dampedCopy(jtj, params.Damping)
		var delta mat.VecDense
		if err := delta.SolveVec(jtjDamped, jtr); err != nil {
			break
		}
		// jtr holds J^T*W*r, so the error-reducing step is the negated solution.
		delta.ScaleVec(-1, &delta)

		pose = applyIncrement(pose, delta)

		if previousError != math.Inf(1) && totalError > previousError+params.MaximumErrorKernel {
			return AlignmentResult{RobotToWorld: pose, Inliers: inliers, InlierRatio: ratio(inliers, len(correspondences)), Converged: false}
		}
		if math.Abs(previousError-totalError) < params.ErrorDeltaForConvergence {
			return AlignmentResult{RobotToWorld: pose, Inliers: inliers, InlierRatio: ratio(inliers, len(correspondences)), Converged: true}
		}
		previousError = totalError
	}

	inliers, ratioValue := countInliers(pose, correspondences, params.MaximumErrorKernel)
	return AlignmentResult{RobotToWorld: pose, Inliers: inliers, InlierRatio: ratioValue, Converged: false}
}

// Success reports whether an AlignmentResult satisfies spec.md §4.2's
// dual criterion: inlier count and inlier ratio both above their minimums.
func (r AlignmentResult) Success(params config.Aligner) bool {
	return uint64(r.Inliers) >= params.MinimumInliers && r.InlierRatio >= params.MinimumInlierRatio
}

func huberWeight(errorNorm, kernel float64) float64 {
	if errorNorm <= kernel || errorNorm == 0 {
		return 1
	}
	return kernel / errorNorm
}

func crossProductMatrix(p r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -p.Z, p.Y,
		p.Z, 0, -p.X,
		-p.Y, p.X, 0,
	})
}

func accumulateNormalEquations(jtj *mat.SymDense, jtr *mat.VecDense, residual r3.Vector, skew *mat.Dense, weight float64) {
	// Jacobian rows: [I3 | -skew]; accumulate J^T*W*J and J^T*W*r directly
	// without materializing the 3x6 Jacobian, since its block structure is
	// fixed (identity on the translation half).
	r := mat.NewVecDense(3, []float64{residual.X, residual.Y, residual.Z})

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			jtj.SetSym(i, j, jtj.At(i, j)+weight*kron(i, j))
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := -skew.At(i, j)
			jtj.SetSym(i, 3+j, jtj.At(i, 3+j)+weight*v)
		}
	}
	var skewTSkew mat.Dense
	skewTSkew.Mul(skew.T(), skew)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			jtj.SetSym(3+i, 3+j, jtj.At(3+i, 3+j)+weight*skewTSkew.At(i, j))
		}
	}

	for i := 0; i < 3; i++ {
		jtr.SetVec(i, jtr.AtVec(i)+weight*r.AtVec(i))
	}
	var skewTr mat.VecDense
	skewTr.MulVec(skew.T(), r)
	for i := 0; i < 3; i++ {
		jtr.SetVec(3+i, jtr.AtVec(3+i)-weight*skewTr.AtVec(i))
	}
}

func kron(i, j int) float64 {
	if i == j {
		return 1
	}
	return 0
}

func dampedCopy(m *mat.SymDense, damping float64) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if i == j {
				v += damping
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

// applyIncrement rotates pose's orientation by the small-angle rotation half
// of delta (about the camera center, leaving the translation in place) and
// adds the translation half to pose's translation, the parametrization the
// Jacobian in Align is written for. The axis-angle rotation is converted into
// a quaternion the way spatialmath.Pose represents orientation throughout.
func applyIncrement(pose spatialmath.Pose, delta mat.VecDense) spatialmath.Pose {
	translationDelta := r3.Vector{X: delta.AtVec(0), Y: delta.AtVec(1), Z: delta.AtVec(2)}
	rotationDelta := r3.Vector{X: delta.AtVec(3), Y: delta.AtVec(4), Z: delta.AtVec(5)}

	angle := rotationDelta.Norm()
	var orientationDelta quat.Number
	if angle < 1e-12 {
		orientationDelta = quat.Number{Real: 1}
	} else {
		axis := rotationDelta.Mul(1 / angle)
		half := angle / 2
		s := math.Sin(half)
		orientationDelta = quat.Number{Real: math.Cos(half), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
	}

	rotation := spatialmath.NewPose(r3.Vector{}, orientationDelta)
	rotated := spatialmath.Compose(rotation, pose)
	return spatialmath.NewPose(pose.Translation.Add(translationDelta), rotated.Orientation)
}

func ratio(inliers, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(inliers) / float64(total)
}

func countInliers(pose spatialmath.Pose, correspondences []Correspondence, kernel float64) (int, float64) {
	inliers := 0
	for _, c := range correspondences {
		if pose.Transform(c.CameraPoint).Sub(c.WorldPoint).Norm() < kernel {
			inliers++
		}
	}
	return inliers, ratio(inliers, len(correspondences))
}
