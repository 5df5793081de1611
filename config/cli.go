package config

import (
	"flag"
	"fmt"
)

// Banner is printed for -h/--help, carried verbatim in spirit from
// ParameterCollection::banner in original_source/src/types/parameters.cpp.
const Banner = `proslam: stereo/depth visual SLAM
usage: proslam [options] <dataset>

<dataset>: path to a dataset directory or index file

[options]
  -configuration, -c            <string>  path to configuration file to load
  -topic-image-left, -il        <string>  left image topic name
  -topic-image-right, -ir       <string>  right image topic name
  -topic-camera-info-left, -cl  <string>  calibration file (left and right camera)
  -topic-camera-info-right, -cr <string>  right camera info topic (not read)
  -use-gui, -ug                           display GUI elements (accepted, no effect)
  -use-odometry, -uo                      use odometry instead of the inner motion model (accepted, no effect)
  -depth-mode, -dm                        depth tracking mode
  -open-loop, -ol                         disable relocalization and loop closing
  -show-top, -st                          enable the top map viewer (accepted, no effect)
  -drop-framepoints, -df                  deallocate past framepoints at runtime
  -equalize-histogram, -eh                equalize stereo image histograms before processing
  -undistort-rectify, -ur                 undistort and rectify input images (accepted, no effect)
  -recover-landmarks, -rl                 enable landmark track recovery
  -h, --help                              print this message`

// ParseCommandLine parses args (excluding the program name) into a
// CommandLine, following the flag idiom of
// viamrobotics-rdk/rimage/cmd/both/main.go: a single FlagSet, long and short
// aliases bound to the same variable, and a trailing positional dataset
// path. Unlike the original parser, configuration-file overlay is the
// caller's job (see Load); ParseCommandLine only produces the CommandLine
// overrides.
func ParseCommandLine(args []string) (*CommandLine, error) {
	cl := &CommandLine{TrackerMode: ModeRGBStereo, UseRelocalization: true}
	flags := flag.NewFlagSet("proslam", flag.ContinueOnError)

	bindStringAlias(flags, &cl.ConfigurationFile, "configuration", "c", "")
	bindStringAlias(flags, &cl.TopicImageLeft, "topic-image-left", "il", "")
	bindStringAlias(flags, &cl.TopicImageRight, "topic-image-right", "ir", "")
	bindStringAlias(flags, &cl.TopicCameraInfoLeft, "topic-camera-info-left", "cl", "")
	bindStringAlias(flags, &cl.TopicCameraInfoRight, "topic-camera-info-right", "cr", "")
	bindBoolAlias(flags, &cl.UseGUI, "use-gui", "ug")
	bindBoolAlias(flags, &cl.UseOdometry, "use-odometry", "uo")
	bindBoolAlias(flags, &cl.ShowTopViewer, "show-top", "st")
	bindBoolAlias(flags, &cl.DropFramepoints, "drop-framepoints", "df")
	bindBoolAlias(flags, &cl.EqualizeHistogram, "equalize-histogram", "eh")
	bindBoolAlias(flags, &cl.UndistortAndRectify, "undistort-rectify", "ur")
	bindBoolAlias(flags, &cl.RecoverLandmarks, "recover-landmarks", "rl")

	depthMode := false
	bindBoolAlias(flags, &depthMode, "depth-mode", "dm")
	openLoop := false
	bindBoolAlias(flags, &openLoop, "open-loop", "ol")

	flags.Usage = func() { fmt.Println(Banner) }
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if depthMode {
		cl.TrackerMode = ModeRGBDepth
	}
	cl.UseRelocalization = !openLoop
	if flags.NArg() > 0 {
		cl.DatasetFileName = flags.Arg(0)
	}
	return cl, nil
}

func bindStringAlias(flags *flag.FlagSet, dst *string, long, short, def string) {
	flags.StringVar(dst, long, def, "")
	flags.StringVar(dst, short, def, "")
}

func bindBoolAlias(flags *flag.FlagSet, dst *bool, long, short string) {
	flags.BoolVar(dst, long, false, "")
	flags.BoolVar(dst, short, false, "")
}
