package config

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestDefaultValidatesOnceTopicsSet(t *testing.T) {
	d := Default()
	d.CommandLine.TopicImageLeft = "/camera/left/image"
	d.CommandLine.TopicImageRight = "/camera/right/image"
	test.That(t, d.Validate(), test.ShouldBeNil)
}

func TestValidateRejectsMissingTopics(t *testing.T) {
	d := Default()
	test.That(t, d.Validate(), test.ShouldNotBeNil)
}

func TestValidateRejectsInvalidTrackerMode(t *testing.T) {
	d := Default()
	d.CommandLine.TopicImageLeft = "l"
	d.CommandLine.TopicImageRight = "r"
	d.CommandLine.TrackerMode = "RGB_MONO"
	err := d.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrInvalidTrackerMode), test.ShouldBeTrue)
}

func TestParseCommandLineAliasesAgree(t *testing.T) {
	cl, err := ParseCommandLine([]string{"-il", "left", "-ir", "right", "-dm", "-df", "dataset.txt"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cl.TopicImageLeft, test.ShouldEqual, "left")
	test.That(t, cl.TopicImageRight, test.ShouldEqual, "right")
	test.That(t, cl.TrackerMode, test.ShouldEqual, ModeRGBDepth)
	test.That(t, cl.DropFramepoints, test.ShouldBeTrue)
	test.That(t, cl.DatasetFileName, test.ShouldEqual, "dataset.txt")
}

func TestParseCommandLineOpenLoopDisablesRelocalization(t *testing.T) {
	cl, err := ParseCommandLine([]string{"-ol"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cl.UseRelocalization, test.ShouldBeFalse)
}

func TestApplyCommandLineOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	d := Default()
	d.CommandLine.TopicImageLeft = "/camera/left/image"
	d.CommandLine.TopicImageRight = "/camera/right/image"

	cl, err := ParseCommandLine([]string{"-rl", "dataset.txt"})
	test.That(t, err, test.ShouldBeNil)

	d.ApplyCommandLineOverrides(cl)
	test.That(t, d.CommandLine.TopicImageLeft, test.ShouldEqual, "/camera/left/image")
	test.That(t, d.CommandLine.TopicImageRight, test.ShouldEqual, "/camera/right/image")
	test.That(t, d.CommandLine.DatasetFileName, test.ShouldEqual, "dataset.txt")
	test.That(t, d.CommandLine.RecoverLandmarks, test.ShouldBeTrue)
	test.That(t, d.BaseTracking.EnableLandmarkRecovery, test.ShouldBeTrue)
}

func TestApplyCommandLineOverridesDepthModeOverridesConfiguredStereo(t *testing.T) {
	d := Default()
	cl, err := ParseCommandLine([]string{"-dm"})
	test.That(t, err, test.ShouldBeNil)

	d.ApplyCommandLineOverrides(cl)
	test.That(t, d.CommandLine.TrackerMode, test.ShouldEqual, ModeRGBDepth)
}
