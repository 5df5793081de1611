// Command proslam drives a visual-SLAM session from a recorded dataset:
// per spec.md §6, it reads a structured configuration document, overlays
// command-line flags onto it, and processes a sequence of stereo or
// intensity+depth acquisitions through the tracker, world map,
// relocalizer, and graph optimizer built from that configuration.
//
// The CLI idiom (flag.NewFlagSet, realMain(args []string) error, a single
// top-level logger.Fatal) follows viamrobotics-rdk/rimage/cmd/both/main.go.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/edaniels/golog"
	pkgerrors "github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/dataset"
	"github.com/Self-SLAM-Lab/proSLAM/framepoints"
	"github.com/Self-SLAM-Lab/proSLAM/graphoptimizer"
	"github.com/Self-SLAM-Lab/proSLAM/relocalization"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/tracking"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

var logger = golog.NewDevelopmentLogger("proslam")

// depthScaleMetersPerUnit converts the stored depth sample into meters
// before DepthGenerator.Generate reads it, the TUM RGB-D dataset's
// convention for its 16-bit depth PNGs (depth_meters = raw / 5000).
const depthScaleMetersPerUnit = 1.0 / 5000.0

func main() {
	if err := realMain(os.Args[1:]); err != nil {
		logger.Fatal(err)
	}
}

func realMain(args []string) error {
	cl, err := config.ParseCommandLine(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return err
	}
	if cl.DatasetFileName == "" {
		return fmt.Errorf("need to specify a dataset association file")
	}

	document, err := config.Load(cl.ConfigurationFile)
	if err != nil {
		return err
	}
	document.ApplyCommandLineOverrides(cl)
	if err := document.Validate(); err != nil {
		return err
	}
	document.Print(logger)

	return run(document)
}

// run builds the pipeline from document and processes every entry of its
// dataset association file in order.
func run(document *config.Document) error {
	cameraLeft, cameraRight, err := dataset.ReadCalibration(document.CommandLine.TopicCameraInfoLeft)
	if err != nil {
		return err
	}
	entries, err := dataset.ReadAssociations(document.CommandLine.DatasetFileName)
	if err != nil {
		return err
	}

	worldMap := worldmap.New(document.WorldMap, logger)
	optimizer := graphoptimizer.New(logger, worldMap, document.GraphOptimization)
	defer optimizer.Close()

	var relocalizer *relocalization.Relocalizer
	if document.CommandLine.UseRelocalization {
		matchingThreshold := document.BaseFramepointGeneration.MatchingDistanceTrackingThreshold
		relocalizer = relocalization.New(logger, worldMap, document.Relocalization, matchingThreshold)
	}

	tracker, closeGenerator, err := buildTracker(document, worldMap)
	if err != nil {
		return err
	}
	defer closeGenerator()

	for _, entry := range entries {
		if err := processEntry(document, worldMap, tracker, optimizer, relocalizer, cameraLeft, cameraRight, entry); err != nil {
			return err
		}
	}

	logger.Infow("session complete",
		"frames", len(entries), "local_maps", worldMap.LocalMapCount(),
		"closures", worldMap.NumberOfClosures(), "merged_landmarks", worldMap.NumberOfMergedLandmarks())
	return nil
}

// buildTracker constructs the tracker_mode-appropriate Tracker and returns a
// closer for the underlying OpenCV generator resources.
func buildTracker(document *config.Document, worldMap *worldmap.WorldMap) (tracking.Tracker, func() error, error) {
	detectorOptions := framepoints.DefaultDetectorOptions()
	if err := document.DecodeDetectorOptions(&detectorOptions); err != nil {
		return nil, nil, pkgerrors.Wrap(err, "decoding detector_options")
	}

	switch document.CommandLine.TrackerMode {
	case config.ModeRGBStereo:
		generator := framepoints.NewStereoGenerator(document.BaseFramepointGeneration, document.StereoFramepointGeneration, detectorOptions)
		tracker := tracking.NewStereoTracker(logger, worldMap, generator, document.BaseTracking, document.WorldMap.Landmark)
		return tracker, generator.Close, nil
	case config.ModeRGBDepth:
		generator := framepoints.NewDepthGenerator(document.BaseFramepointGeneration, document.DepthFramepointGeneration, detectorOptions)
		tracker := tracking.NewDepthTracker(logger, worldMap, generator, document.BaseTracking, document.WorldMap.Landmark)
		return tracker, generator.Close, nil
	default:
		return nil, nil, config.ErrInvalidTrackerMode
	}
}

// processEntry reads one acquisition's images, attaches calibration, tracks
// it, closes the local-map window when due, and drives relocalization and
// graph optimization on a newly closed window.
func processEntry(
	document *config.Document,
	worldMap *worldmap.WorldMap,
	tracker tracking.Tracker,
	optimizer *graphoptimizer.Optimizer,
	relocalizer *relocalization.Relocalizer,
	cameraLeft, cameraRight *worldmap.Camera,
	entry dataset.Entry,
) error {
	imageLeft := gocv.IMRead(entry.PathLeft, gocv.IMReadGrayScale)
	defer imageLeft.Close()
	if imageLeft.Empty() {
		return fmt.Errorf("unable to read left image %q", entry.PathLeft)
	}
	if document.CommandLine.EqualizeHistogram {
		gocv.EqualizeHist(imageLeft, &imageLeft)
	}

	imageRight, err := readSecondImage(document, entry)
	if err != nil {
		return err
	}
	defer imageRight.Close()

	initialPose := spatialmath.Identity()
	if predicted := worldMap.CurrentFrame(); predicted != nil {
		initialPose = predicted.RobotToWorld
	}

	frame := worldMap.CreateFrame(initialPose, entry.TimestampSeconds, maximumDepthNear(document))
	frame.CameraLeft = cameraLeft
	frame.CameraRight = cameraRight

	if _, err := tracker.Track(frame, imageLeft, imageRight); err != nil {
		return err
	}

	optimizer.NotifyFrameProcessed()
	if worldMap.TryCreateLocalMap(document.CommandLine.DropFramepoints) && relocalizer != nil {
		if err := tryRelocalize(worldMap, relocalizer, optimizer); err != nil {
			return err
		}
	}
	return nil
}

// maximumDepthNear returns the tracker_mode-appropriate near-depth cutoff
// stamped onto every created Frame (spec.md §3).
func maximumDepthNear(document *config.Document) float64 {
	if document.CommandLine.TrackerMode == config.ModeRGBDepth {
		return document.DepthFramepointGeneration.MaximumDepthNearMeters
	}
	return document.StereoFramepointGeneration.MaximumDepthNearMeters
}

// readSecondImage reads the right stereo image or the depth image,
// depending on tracker_mode, converting the latter into metric-depth
// float32 the way framepoints.DepthGenerator.Generate expects.
func readSecondImage(document *config.Document, entry dataset.Entry) (gocv.Mat, error) {
	if document.CommandLine.TrackerMode == config.ModeRGBDepth {
		raw := gocv.IMRead(entry.PathRight, gocv.IMReadAnyDepth)
		if raw.Empty() {
			return gocv.Mat{}, fmt.Errorf("unable to read depth image %q", entry.PathRight)
		}
		defer raw.Close()
		depthMeters := gocv.NewMat()
		raw.ConvertToWithParams(&depthMeters, gocv.MatTypeCV32F, depthScaleMetersPerUnit, 0)
		return depthMeters, nil
	}
	image := gocv.IMRead(entry.PathRight, gocv.IMReadGrayScale)
	if image.Empty() {
		return gocv.Mat{}, fmt.Errorf("unable to read right image %q", entry.PathRight)
	}
	if document.CommandLine.EqualizeHistogram {
		gocv.EqualizeHist(image, &image)
	}
	return image, nil
}

// tryRelocalize searches for a loop closure against the local map just
// closed and, if one verifies, records it and merges its duplicate
// landmarks in the same step (WorldMap.AddLoopClosure does not itself merge
// landmarks — spec.md §4.3 keeps that a separate call).
func tryRelocalize(worldMap *worldmap.WorldMap, relocalizer *relocalization.Relocalizer, optimizer *graphoptimizer.Optimizer) error {
	query := worldMap.CurrentLocalMap()
	if query == nil {
		return nil
	}
	result, ok := relocalizer.FindClosure(query)
	if !ok {
		return nil
	}

	worldMap.AddLoopClosure(query, result.Reference, result.RelativeTransform, result.Correspondences, result.Information)
	worldMap.MergeLandmarks([]worldmap.ClosureConstraint{{Correspondences: result.Correspondences}})
	optimizer.NotifyLoopClosure()
	return nil
}
