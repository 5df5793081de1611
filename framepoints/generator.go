// Package framepoints implements spec.md §4.1: turning a calibrated
// stereo pair or an intensity+depth pair into matched FramePoints, each
// carrying a 3D camera-frame coordinate.
//
// Detection and description is done with an ORB detector/matcher from
// gocv.io/x/gocv, grounded on the cm68-traces package's use of gocv.Mat
// for image buffers (internal/trace/detector.go); the original system's
// cv::KeyPoint/cv::Mat pair maps directly onto gocv.KeyPoint/gocv.Mat.
package framepoints

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// ErrNoKeypoints is returned by ComputeKeypointsAndDescriptors when an image
// yields nothing detectable even at the lowest configured threshold.
var ErrNoKeypoints = errors.New("framepoints: no keypoints detected")

// DetectorOptions carries the ORB construction parameters beyond the
// adaptive threshold, decoded from the configuration document's free-form
// `detector_options` block (config.Document.DecodeDetectorOptions) the way
// viamrobotics-rdk components decode their Attributes maps.
type DetectorOptions struct {
	ScaleFactor   float64 `mapstructure:"scale_factor"`
	NLevels       int     `mapstructure:"n_levels"`
	EdgeThreshold int     `mapstructure:"edge_threshold"`
	FirstLevel    int     `mapstructure:"first_level"`
	WTAK          int     `mapstructure:"wta_k"`
	PatchSize     int     `mapstructure:"patch_size"`
}

// DefaultDetectorOptions returns the ORB parameters the original system
// compiles in (cv::ORB::create's own defaults).
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		ScaleFactor:   1.2,
		NLevels:       8,
		EdgeThreshold: 31,
		FirstLevel:    0,
		WTAK:          2,
		PatchSize:     31,
	}
}

// Detector is the capability spec.md Design Notes §9 calls a small trait
// instead of a deep hierarchy: one adaptive-threshold detector shared by
// both the Stereo and Depth generators.
type Detector struct {
	orb       gocv.ORB
	threshold int
	params    config.FramepointGeneration
	options   DetectorOptions
}

// NewDetector builds a Detector seeded at params.DetectorThreshold, with the
// remaining ORB parameters taken from options.
func NewDetector(params config.FramepointGeneration, options DetectorOptions) *Detector {
	return &Detector{
		orb: gocv.NewORBWithParams(params.TargetNumberOfKeypoints*2, options.ScaleFactor, options.NLevels,
			options.EdgeThreshold, options.FirstLevel, options.WTAK, gocv.ORBScoreTypeHarris, options.PatchSize, params.DetectorThreshold),
		threshold: params.DetectorThreshold,
		params:    params,
		options:   options,
	}
}

// Close releases the underlying OpenCV detector.
func (d *Detector) Close() error {
	return d.orb.Close()
}

// ComputeKeypointsAndDescriptors detects and describes keypoints in image,
// adaptively stepping the fast-threshold-like detectorThreshold by
// DetectorThresholdStepSize within [DetectorThresholdMinimum, ...] until the
// count lands within TargetKeypointsTolerance of TargetNumberOfKeypoints, or
// the step produces no further change (spec.md §4.1).
func (d *Detector) ComputeKeypointsAndDescriptors(image gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	target := float64(d.params.TargetNumberOfKeypoints)
	tolerance := target * d.params.TargetKeypointsTolerance

	var keypoints []gocv.KeyPoint
	var descriptors gocv.Mat
	for attempt := 0; attempt < 10; attempt++ {
		d.orb = gocv.NewORBWithParams(d.params.TargetNumberOfKeypoints*2, d.options.ScaleFactor, d.options.NLevels,
			d.options.EdgeThreshold, d.options.FirstLevel, d.options.WTAK, gocv.ORBScoreTypeHarris, d.options.PatchSize, d.threshold)
		keypoints, descriptors = d.orb.DetectAndCompute(image, gocv.NewMat())

		delta := float64(len(keypoints)) - target
		if delta > -tolerance && delta < tolerance {
			return keypoints, descriptors, nil
		}

		if delta < 0 {
			d.threshold -= int(d.params.DetectorThresholdStepSize)
		} else {
			d.threshold += int(d.params.DetectorThresholdStepSize)
		}
		if d.threshold < d.params.DetectorThresholdMinimum {
			d.threshold = d.params.DetectorThresholdMinimum
			break
		}
	}

	if len(keypoints) == 0 {
		return nil, descriptors, ErrNoKeypoints
	}
	return keypoints, descriptors, nil
}

// Generator is the per-variant half of the capability set: turning a pair
// of inputs (stereo images, or intensity+depth) into matched FramePoints
// already expressed in the owning Frame's camera-frame coordinates.
type Generator interface {
	Generate(frame *worldmap.Frame, imageLeft, imageRight gocv.Mat) error
	// MatchingDistanceTrackingThreshold returns the current adaptive
	// matching-distance threshold used when tracking (spec.md §4.1, last
	// paragraph); Tracker reads and adapts it every frame.
	MatchingDistanceTrackingThreshold() int
	AdaptMatchingDistanceTrackingThreshold(inlierRatio float64)
}

func pixelOf(kp gocv.KeyPoint) r2.Point {
	return r2.Point{X: kp.X, Y: kp.Y}
}
