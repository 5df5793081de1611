package framepoints

import (
	"math"

	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// StereoGenerator matches left/right keypoints along epipolar lines and
// triangulates depth from disparity and the calibrated baseline (spec.md
// §4.1, stereo variant).
type StereoGenerator struct {
	detector *Detector
	matcher  gocv.BFMatcher
	base     config.FramepointGeneration
	stereo   config.StereoFramepointGeneration

	matchingDistanceTrackingThreshold int
}

// NewStereoGenerator builds a StereoGenerator seeded from configuration.
func NewStereoGenerator(base config.FramepointGeneration, stereo config.StereoFramepointGeneration, detectorOptions DetectorOptions) *StereoGenerator {
	return &StereoGenerator{
		detector:                          NewDetector(base, detectorOptions),
		matcher:                           gocv.NewBFMatcher(),
		base:                              base,
		stereo:                            stereo,
		matchingDistanceTrackingThreshold: base.MatchingDistanceTrackingThreshold,
	}
}

// Close releases the underlying OpenCV objects.
func (g *StereoGenerator) Close() error {
	g.matcher.Close()
	return g.detector.Close()
}

// Generate detects keypoints in both stereo images, matches them along
// epipolar lines within EpipolarLineThicknessPixels, rejects pairs below
// MinimumDisparityPixels or above MaximumMatchingDistanceTriangulation, and
// creates one FramePoint per surviving pair with its triangulated 3D
// camera-frame coordinate. Matches
// StereoFramePointGenerator::computePoints in the (unavailable in this
// pack's original_source, but spec.md §4.1-described) source system.
func (g *StereoGenerator) Generate(frame *worldmap.Frame, imageLeft, imageRight gocv.Mat) error {
	keypointsLeft, descriptorsLeft, err := g.detector.ComputeKeypointsAndDescriptors(imageLeft)
	if err != nil {
		return err
	}
	keypointsRight, descriptorsRight, err := g.detector.ComputeKeypointsAndDescriptors(imageRight)
	if err != nil {
		return err
	}

	camera := frame.CameraLeft
	baseline := 0.0
	if frame.CameraRight != nil {
		baseline = frame.CameraRight.BaselineMeters * g.stereo.BaselineFactor
	}

	matches := g.matcher.KnnMatch(descriptorsLeft, descriptorsRight, 1)
	for i, candidates := range matches {
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		if float64(best.Distance) > float64(g.stereo.MaximumMatchingDistanceTriangulation) {
			continue
		}

		left := keypointsLeft[i]
		right := keypointsRight[best.TrainIdx]

		if math.Abs(left.Y-right.Y) > float64(g.stereo.EpipolarLineThicknessPixels) {
			continue
		}

		disparity := left.X - right.X
		if disparity < g.stereo.MinimumDisparityPixels {
			continue
		}

		depth := baseline * camera.Fx / disparity
		point := camera.BackProject(pixelOf(left), depth)

		fp := frame.CreateFramePoint(left, right, descriptorsLeft.RowRange(i, i+1), descriptorsRight.RowRange(best.TrainIdx, best.TrainIdx+1), point, nil)
		fp.IsNear = depth <= g.stereo.MaximumDepthNearMeters
	}
	return nil
}

// MatchingDistanceTrackingThreshold returns the current adaptive tracking
// matching-distance threshold (spec.md §4.1, last paragraph).
func (g *StereoGenerator) MatchingDistanceTrackingThreshold() int {
	return g.matchingDistanceTrackingThreshold
}

// AdaptMatchingDistanceTrackingThreshold tightens the threshold on a high
// inlier ratio and loosens it on a low one, staying within
// [MatchingDistanceTrackingMinimum, MatchingDistanceTrackingMaximum].
func (g *StereoGenerator) AdaptMatchingDistanceTrackingThreshold(inlierRatio float64) {
	g.matchingDistanceTrackingThreshold = adaptThreshold(
		g.matchingDistanceTrackingThreshold, inlierRatio, g.base,
	)
}

func adaptThreshold(current int, inlierRatio float64, params config.FramepointGeneration) int {
	if inlierRatio > 0.5 {
		current -= params.MatchingDistanceTrackingStepSize
	} else {
		current += params.MatchingDistanceTrackingStepSize
	}
	if current < params.MatchingDistanceTrackingMinimum {
		return params.MatchingDistanceTrackingMinimum
	}
	if current > params.MatchingDistanceTrackingMaximum {
		return params.MatchingDistanceTrackingMaximum
	}
	return current
}
