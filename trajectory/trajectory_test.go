package trajectory

import (
	"bytes"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

func newTestWorldMapWithFrames(t *testing.T) *worldmap.WorldMap {
	w := worldmap.New(config.Default().WorldMap, golog.NewTestLogger(t))
	poses := []spatialmath.Pose{
		spatialmath.Identity(),
		spatialmath.NewPose(r3.Vector{X: 1, Y: 0.5, Z: -0.2}, quat.Number{Real: 0.98, Imag: 0.1, Jmag: 0.1, Kmag: 0.1}),
		spatialmath.NewPose(r3.Vector{X: 2.2, Y: -1.1, Z: 0.3}, quat.Number{Real: 0.9, Imag: 0.2, Jmag: 0.3, Kmag: 0.1}),
	}
	for i, pose := range poses {
		w.CreateFrame(pose, float64(i), 5)
	}
	return w
}

func TestWriteKITTIThenParseRoundTripsPose(t *testing.T) {
	w := newTestWorldMapWithFrames(t)

	var buf bytes.Buffer
	test.That(t, WriteKITTI(&buf, w), test.ShouldBeNil)

	entries, err := ParseKITTI(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 3)

	for _, id := range w.FrameIDsSorted() {
		frame, ok := w.Frame(id)
		test.That(t, ok, test.ShouldBeTrue)
		entry := entries[id-1]
		test.That(t, entry.RobotToWorld.AlmostEqual(frame.RobotToWorld, 1e-8), test.ShouldBeTrue)
	}
}

func TestWriteTUMThenParseRoundTripsPoseAndTimestamp(t *testing.T) {
	w := newTestWorldMapWithFrames(t)

	var buf bytes.Buffer
	test.That(t, WriteTUM(&buf, w), test.ShouldBeNil)

	entries, err := ParseTUM(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 3)

	for _, id := range w.FrameIDsSorted() {
		frame, ok := w.Frame(id)
		test.That(t, ok, test.ShouldBeTrue)
		entry := entries[id-1]
		test.That(t, entry.TimestampSeconds, test.ShouldAlmostEqual, frame.TimestampSeconds)
		test.That(t, entry.RobotToWorld.AlmostEqual(frame.RobotToWorld, 1e-8), test.ShouldBeTrue)
	}
}

func TestParseKITTIRejectsMalformedLine(t *testing.T) {
	_, err := ParseKITTI(bytes.NewBufferString("1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseTUMRejectsMalformedLine(t *testing.T) {
	_, err := ParseTUM(bytes.NewBufferString("1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
}
