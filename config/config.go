// Package config loads the structured configuration document described in
// spec.md §6: a YAML file with one group per pipeline component. Missing
// keys retain the defaults returned by Default(). Parsing
// follows the idiom of viamrobotics-rdk/services/slam/orbslam_yaml.go
// (gopkg.in/yaml.v3 into tagged structs) and, for component-supplied
// free-form option blocks, the mapstructure decode idiom used across
// viamrobotics-rdk's component configs.
package config

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/edaniels/golog"
)

// TrackerMode selects the FramePoint generation/tracking variant.
type TrackerMode string

// The two supported tracker modes, named exactly as the `-dm` flag and the
// `tracker_mode` configuration key expect (spec.md §6).
const (
	ModeRGBStereo TrackerMode = "RGB_STEREO"
	ModeRGBDepth  TrackerMode = "RGB_DEPTH"
)

// ErrInvalidTrackerMode is returned when `tracker_mode` names neither
// RGB_STEREO nor RGB_DEPTH. This is a fatal configuration error per spec.md §7.
var ErrInvalidTrackerMode = errors.New("invalid tracker mode")

// CommandLine mirrors the `command_line` configuration group and the CLI
// flags of spec.md §6.
type CommandLine struct {
	ConfigurationFile     string      `yaml:"configuration_file_name"`
	TopicImageLeft        string      `yaml:"topic_image_left"`
	TopicImageRight       string      `yaml:"topic_image_right"`
	TopicCameraInfoLeft   string      `yaml:"topic_camera_info_left"`
	TopicCameraInfoRight  string      `yaml:"topic_camera_info_right"`
	DatasetFileName       string      `yaml:"dataset_file_name"`
	TrackerMode           TrackerMode `yaml:"tracker_mode"`
	UseGUI                bool        `yaml:"option_use_gui"`
	UseOdometry           bool        `yaml:"option_use_odometry"`
	UseRelocalization     bool        `yaml:"option_use_relocalization"`
	ShowTopViewer         bool        `yaml:"option_show_top_viewer"`
	DropFramepoints       bool        `yaml:"option_drop_framepoints"`
	EqualizeHistogram     bool        `yaml:"option_equalize_histogram"`
	UndistortAndRectify   bool        `yaml:"option_undistort_and_rectify"`
	RecoverLandmarks      bool        `yaml:"option_recover_landmarks"`
}

// WorldMap mirrors the `world_map` group, plus the nested `landmark` and
// `local_map` groups (spec.md §4.3, §4.4).
type WorldMap struct {
	MinimumDistanceTraveledForLocalMap float64 `yaml:"minimum_distance_traveled_for_local_map"`
	MinimumDegreesRotatedForLocalMap   float64 `yaml:"minimum_degrees_rotated_for_local_map"`
	MinimumFramesForLocalMap           uint64  `yaml:"minimum_number_of_frames_for_local_map"`
	Landmark                           Landmark
	LocalMap                           LocalMap `yaml:"local_map"`
}

// Landmark mirrors the `landmark` group.
type Landmark struct {
	MinimumForcedUpdates               uint64  `yaml:"minimum_number_of_forced_updates"`
	MaximumTranslationErrorToDepthRatio float64 `yaml:"maximum_translation_error_to_depth_ratio"`
}

// LocalMap mirrors the `local_map` group.
type LocalMap struct {
	MinimumLandmarks uint64 `yaml:"minimum_number_of_landmarks"`
}

// FramepointGeneration mirrors the `base_framepoint_generation` group,
// shared by both stereo and depth variants.
type FramepointGeneration struct {
	TargetKeypointsTolerance          float64 `yaml:"target_number_of_keypoints_tolerance"`
	TargetNumberOfKeypoints           int     `yaml:"target_number_of_keypoints"`
	DetectorThreshold                 int     `yaml:"detector_threshold"`
	DetectorThresholdMinimum          int     `yaml:"detector_threshold_minimum"`
	DetectorThresholdStepSize         float64 `yaml:"detector_threshold_step_size"`
	MatchingDistanceTrackingThreshold int     `yaml:"matching_distance_tracking_threshold"`
	MatchingDistanceTrackingMaximum   int     `yaml:"matching_distance_tracking_threshold_maximum"`
	MatchingDistanceTrackingMinimum   int     `yaml:"matching_distance_tracking_threshold_minimum"`
	MatchingDistanceTrackingStepSize  int     `yaml:"matching_distance_tracking_step_size"`
}

// StereoFramepointGeneration mirrors `stereo_framepoint_generation`.
type StereoFramepointGeneration struct {
	MaximumMatchingDistanceTriangulation int     `yaml:"maximum_matching_distance_triangulation"`
	BaselineFactor                       float64 `yaml:"baseline_factor"`
	MinimumDisparityPixels               float64 `yaml:"minimum_disparity_pixels"`
	EpipolarLineThicknessPixels          int     `yaml:"epipolar_line_thickness_pixels"`
	MaximumDepthNearMeters                float64 `yaml:"maximum_depth_near_meters"`
}

// DepthFramepointGeneration mirrors `depth_framepoint_generation`.
type DepthFramepointGeneration struct {
	MaximumDepthNearMeters float64 `yaml:"maximum_depth_near_meters"`
	MaximumDepthFarMeters  float64 `yaml:"maximum_depth_far_meters"`
}

// Aligner mirrors the nested `aligner` parameters reused by base_tracking
// and relocalization groups (spec.md §4.2, §4.5).
type Aligner struct {
	MaximumErrorKernel       float64 `yaml:"maximum_error_kernel"`
	Damping                  float64 `yaml:"damping"`
	ErrorDeltaForConvergence float64 `yaml:"error_delta_for_convergence"`
	MaximumIterations        uint64  `yaml:"maximum_number_of_iterations"`
	MinimumInliers           uint64  `yaml:"minimum_number_of_inliers"`
	MinimumInlierRatio       float64 `yaml:"minimum_inlier_ratio"`
}

// BaseTracking mirrors the `base_tracking` group (spec.md §4.2).
type BaseTracking struct {
	MinimumTrackLengthForLandmarkCreation uint64  `yaml:"minimum_track_length_for_landmark_creation"`
	MinimumLandmarksToTrack                uint64  `yaml:"minimum_number_of_landmarks_to_track"`
	MinimumThresholdDistanceTrackingPixels  int     `yaml:"minimum_threshold_distance_tracking_pixels"`
	MaximumThresholdDistanceTrackingPixels  int     `yaml:"maximum_threshold_distance_tracking_pixels"`
	EnableLandmarkRecovery                  bool    `yaml:"enable_landmark_recovery"`
	MaximumLandmarkRecoveries               uint64  `yaml:"maximum_number_of_landmark_recoveries"`
	BinSizePixels                           int     `yaml:"bin_size_pixels"`
	RatioKeypointsToBins                    float64 `yaml:"ratio_keypoints_to_bins"`
	Aligner                                 Aligner
}

// Relocalization mirrors the `relocalization` group (spec.md §4.5).
type Relocalization struct {
	PreliminaryMinimumInterspaceQueries uint64  `yaml:"preliminary_minimum_interspace_queries"`
	PreliminaryMinimumMatchingRatio     float64 `yaml:"preliminary_minimum_matching_ratio"`
	MinimumMatchesPerLandmark           uint64  `yaml:"minimum_number_of_matches_per_landmark"`
	MinimumMatchesPerCorrespondence     uint64  `yaml:"minimum_matches_per_correspondence"`
	Aligner                             Aligner
}

// GraphOptimization mirrors the `graph_optimization` group (spec.md §4.6).
type GraphOptimization struct {
	IdentifierSpace                           uint64  `yaml:"identifier_space"`
	FramesPerBundleAdjustment                 uint64  `yaml:"number_of_frames_per_bundle_adjustment"`
	BaseInformationFrame                      float64 `yaml:"base_information_frame"`
	EnableRobustKernelForLandmarkMeasurements bool    `yaml:"enable_robust_kernel_for_landmark_measurements"`
}

// Document is the fully parsed configuration, one field per group named in
// spec.md §6.
type Document struct {
	CommandLine                CommandLine `yaml:"command_line"`
	WorldMap                   WorldMap    `yaml:"world_map"`
	BaseFramepointGeneration   FramepointGeneration       `yaml:"base_framepoint_generation"`
	StereoFramepointGeneration StereoFramepointGeneration `yaml:"stereo_framepoint_generation"`
	DepthFramepointGeneration  DepthFramepointGeneration  `yaml:"depth_framepoint_generation"`
	BaseTracking               BaseTracking       `yaml:"base_tracking"`
	Relocalization             Relocalization     `yaml:"relocalization"`
	GraphOptimization          GraphOptimization  `yaml:"graph_optimization"`

	// ExtraDetectorOptions carries a free-form block (e.g. a custom detector
	// plugin's tuning knobs) decoded on demand via mapstructure, the way
	// viamrobotics-rdk components decode their `Attributes` maps.
	ExtraDetectorOptions map[string]interface{} `yaml:"detector_options"`
}

// Default returns a Document populated with the same defaults the original
// system compiles in (original_source/src/types/parameters.cpp,
// BaseTrackerParameters::BaseTrackerParameters()).
func Default() *Document {
	d := &Document{}
	d.CommandLine.TrackerMode = ModeRGBStereo
	d.CommandLine.UseRelocalization = true

	d.WorldMap.MinimumDistanceTraveledForLocalMap = 0.5
	d.WorldMap.MinimumDegreesRotatedForLocalMap = 10
	d.WorldMap.MinimumFramesForLocalMap = 10
	d.WorldMap.Landmark.MinimumForcedUpdates = 5
	d.WorldMap.Landmark.MaximumTranslationErrorToDepthRatio = 0.1
	d.WorldMap.LocalMap.MinimumLandmarks = 50

	base := FramepointGeneration{
		TargetKeypointsTolerance:          0.1,
		TargetNumberOfKeypoints:           1000,
		DetectorThreshold:                 20,
		DetectorThresholdMinimum:          5,
		DetectorThresholdStepSize:         1,
		MatchingDistanceTrackingThreshold: 50,
		MatchingDistanceTrackingMaximum:   100,
		MatchingDistanceTrackingMinimum:   25,
		MatchingDistanceTrackingStepSize:  1,
	}
	d.BaseFramepointGeneration = base
	d.StereoFramepointGeneration = StereoFramepointGeneration{
		MaximumMatchingDistanceTriangulation: 50,
		BaselineFactor:                       1,
		MinimumDisparityPixels:               1,
		EpipolarLineThicknessPixels:          2,
		MaximumDepthNearMeters:               5,
	}
	d.DepthFramepointGeneration = DepthFramepointGeneration{
		MaximumDepthNearMeters: 5,
		MaximumDepthFarMeters:  20,
	}

	aligner := Aligner{
		MaximumErrorKernel:       9,
		Damping:                  1,
		ErrorDeltaForConvergence: 1e-3,
		MaximumIterations:        1000,
		MinimumInliers:           15,
		MinimumInlierRatio:       0.5,
	}
	d.BaseTracking = BaseTracking{
		MinimumTrackLengthForLandmarkCreation: 5,
		MinimumLandmarksToTrack:                5,
		MinimumThresholdDistanceTrackingPixels:  4,
		MaximumThresholdDistanceTrackingPixels:  50,
		MaximumLandmarkRecoveries:               2,
		BinSizePixels:                            16,
		RatioKeypointsToBins:                     0.1,
		Aligner:                                  aligner,
	}
	d.Relocalization = Relocalization{
		PreliminaryMinimumInterspaceQueries: 5,
		PreliminaryMinimumMatchingRatio:     0.1,
		MinimumMatchesPerLandmark:           1,
		MinimumMatchesPerCorrespondence:     5,
		Aligner:                             aligner,
	}
	d.GraphOptimization = GraphOptimization{
		IdentifierSpace:            1_000_000,
		FramesPerBundleAdjustment:  10,
		BaseInformationFrame:       1000,
	}
	return d
}

// Load reads a YAML configuration document from path, overlaying it onto
// Default(). A missing/unreadable file or an invalid tracker_mode are fatal
// configuration errors per spec.md §7.
func Load(path string) (*Document, error) {
	document := Default()
	if path == "" {
		return document, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read configuration file %q", path)
	}
	if err := yaml.Unmarshal(raw, document); err != nil {
		return nil, errors.Wrapf(err, "unable to parse configuration file %q", path)
	}
	document.CommandLine.ConfigurationFile = path
	switch document.CommandLine.TrackerMode {
	case ModeRGBStereo, ModeRGBDepth:
	default:
		return nil, errors.Wrapf(ErrInvalidTrackerMode, "tracker_mode: %q", document.CommandLine.TrackerMode)
	}
	return document, nil
}

// ApplyCommandLineOverrides overlays the flag values parsed by
// ParseCommandLine onto a Document loaded from its configuration file. A
// flag left at its zero value never blanks out a value the configuration
// file already set; only a flag the user actually gave takes precedence,
// mirroring how BaseTrackerParameters::update() layers CLI arguments over
// a previously parsed file in original_source/src/types/parameters.cpp.
func (d *Document) ApplyCommandLineOverrides(cl *CommandLine) {
	if cl.TopicImageLeft != "" {
		d.CommandLine.TopicImageLeft = cl.TopicImageLeft
	}
	if cl.TopicImageRight != "" {
		d.CommandLine.TopicImageRight = cl.TopicImageRight
	}
	if cl.TopicCameraInfoLeft != "" {
		d.CommandLine.TopicCameraInfoLeft = cl.TopicCameraInfoLeft
	}
	if cl.TopicCameraInfoRight != "" {
		d.CommandLine.TopicCameraInfoRight = cl.TopicCameraInfoRight
	}
	if cl.DatasetFileName != "" {
		d.CommandLine.DatasetFileName = cl.DatasetFileName
	}
	if cl.TrackerMode == ModeRGBDepth {
		d.CommandLine.TrackerMode = ModeRGBDepth
	}
	if cl.UseGUI {
		d.CommandLine.UseGUI = true
	}
	if cl.UseOdometry {
		d.CommandLine.UseOdometry = true
	}
	if !cl.UseRelocalization {
		d.CommandLine.UseRelocalization = false
	}
	if cl.ShowTopViewer {
		d.CommandLine.ShowTopViewer = true
	}
	if cl.DropFramepoints {
		d.CommandLine.DropFramepoints = true
	}
	if cl.EqualizeHistogram {
		d.CommandLine.EqualizeHistogram = true
	}
	if cl.UndistortAndRectify {
		d.CommandLine.UndistortAndRectify = true
	}
	if cl.RecoverLandmarks {
		d.CommandLine.RecoverLandmarks = true
		d.BaseTracking.EnableLandmarkRecovery = true
	}
}

// Validate checks the invariants spec.md §6/§7 call fatal.
func (d *Document) Validate() error {
	switch d.CommandLine.TrackerMode {
	case ModeRGBStereo, ModeRGBDepth:
	default:
		return errors.Wrapf(ErrInvalidTrackerMode, "tracker_mode: %q", d.CommandLine.TrackerMode)
	}
	if d.CommandLine.TopicImageLeft == "" {
		return errors.New("empty value for required topic: topic_image_left")
	}
	if d.CommandLine.TopicImageRight == "" {
		return errors.New("empty value for required topic: topic_image_right")
	}
	return nil
}

// DecodeDetectorOptions decodes ExtraDetectorOptions into out via
// mapstructure, the idiom viamrobotics-rdk components use for free-form
// attribute blocks.
func (d *Document) DecodeDetectorOptions(out interface{}) error {
	if len(d.ExtraDetectorOptions) == 0 {
		return nil
	}
	return mapstructure.Decode(d.ExtraDetectorOptions, out)
}

// Print logs every configuration group, mirroring
// ParameterCollection::print() in original_source/src/types/parameters.cpp.
func (d *Document) Print(logger golog.Logger) {
	logger.Infow("command line", "topic_image_left", d.CommandLine.TopicImageLeft,
		"topic_image_right", d.CommandLine.TopicImageRight,
		"tracker_mode", d.CommandLine.TrackerMode,
		"use_odometry", d.CommandLine.UseOdometry,
		"open_loop", !d.CommandLine.UseRelocalization,
		"drop_framepoints", d.CommandLine.DropFramepoints)
	logger.Infow("world map", "minimum_distance_traveled_for_local_map", d.WorldMap.MinimumDistanceTraveledForLocalMap,
		"minimum_degrees_rotated_for_local_map", d.WorldMap.MinimumDegreesRotatedForLocalMap,
		"minimum_number_of_frames_for_local_map", d.WorldMap.MinimumFramesForLocalMap)
	logger.Infow("base tracking", "minimum_number_of_landmarks_to_track", d.BaseTracking.MinimumLandmarksToTrack,
		"maximum_number_of_landmark_recoveries", d.BaseTracking.MaximumLandmarkRecoveries)
	logger.Infow("relocalization", "preliminary_minimum_interspace_queries", d.Relocalization.PreliminaryMinimumInterspaceQueries,
		"minimum_number_of_matches_per_landmark", d.Relocalization.MinimumMatchesPerLandmark)
	logger.Infow("graph optimization", "number_of_frames_per_bundle_adjustment", d.GraphOptimization.FramesPerBundleAdjustment,
		"identifier_space", d.GraphOptimization.IdentifierSpace)
}
