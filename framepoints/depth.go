package framepoints

import (
	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// DepthGenerator back-projects left keypoints using a registered depth
// image, dropping invalid/zero depths and points outside the configured
// near/far bounds (spec.md §4.1, depth variant).
type DepthGenerator struct {
	detector *Detector
	base     config.FramepointGeneration
	depth    config.DepthFramepointGeneration

	matchingDistanceTrackingThreshold int
}

// NewDepthGenerator builds a DepthGenerator seeded from configuration.
func NewDepthGenerator(base config.FramepointGeneration, depth config.DepthFramepointGeneration, detectorOptions DetectorOptions) *DepthGenerator {
	return &DepthGenerator{
		detector:                          NewDetector(base, detectorOptions),
		base:                              base,
		depth:                             depth,
		matchingDistanceTrackingThreshold: base.MatchingDistanceTrackingThreshold,
	}
}

// Close releases the underlying OpenCV detector.
func (g *DepthGenerator) Close() error {
	return g.detector.Close()
}

// Generate detects keypoints in imageLeft and back-projects each one using
// the registered depth image (imageRight, carrying metric depth per pixel).
// Zero or invalid depths are dropped; depths beyond MaximumDepthFarMeters
// are dropped entirely rather than kept as bearing-only, per spec.md §4.1's
// depth-validity-mask description.
func (g *DepthGenerator) Generate(frame *worldmap.Frame, imageLeft, depthImage gocv.Mat) error {
	keypoints, descriptors, err := g.detector.ComputeKeypointsAndDescriptors(imageLeft)
	if err != nil {
		return err
	}

	camera := frame.CameraLeft
	empty := gocv.NewMat()

	for i, kp := range keypoints {
		x, y := int(kp.X), int(kp.Y)
		if x < 0 || y < 0 || x >= depthImage.Cols() || y >= depthImage.Rows() {
			continue
		}
		depth := float64(depthImage.GetFloatAt(y, x))
		if depth <= 0 || depth > g.depth.MaximumDepthFarMeters {
			continue
		}

		point := camera.BackProject(r2.Point{X: kp.X, Y: kp.Y}, depth)
		fp := frame.CreateFramePoint(kp, gocv.KeyPoint{}, descriptors.RowRange(i, i+1), empty, point, nil)
		fp.IsNear = depth <= g.depth.MaximumDepthNearMeters
	}
	return nil
}

// MatchingDistanceTrackingThreshold returns the current adaptive tracking
// matching-distance threshold.
func (g *DepthGenerator) MatchingDistanceTrackingThreshold() int {
	return g.matchingDistanceTrackingThreshold
}

// AdaptMatchingDistanceTrackingThreshold mirrors StereoGenerator's adaptation.
func (g *DepthGenerator) AdaptMatchingDistanceTrackingThreshold(inlierRatio float64) {
	g.matchingDistanceTrackingThreshold = adaptThreshold(
		g.matchingDistanceTrackingThreshold, inlierRatio, g.base,
	)
}
