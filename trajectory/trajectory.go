// Package trajectory implements spec.md §6's KITTI and TUM trajectory
// formats: one line per frame, fixed precision 9, space separated.
//
// Frames are iterated in identifier order, matching
// WorldMap::writeTrajectoryKITTI/TUM's iteration over `_frames` (a
// std::map<FrameIdentifier, Frame*>, hence sorted by key) rather than
// creation-discovery order — see SPEC_FULL.md §C.1 and
// worldmap.WorldMap.FrameIDsSorted, which this package relies on for that
// exact ordering guarantee.
package trajectory

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// Entry is one frame's trajectory sample: its timestamp and its pose in the
// global frame.
type Entry struct {
	TimestampSeconds float64
	RobotToWorld     spatialmath.Pose
}

// WriteKITTI writes one line per frame of w, in frame-identifier order: the
// row-major upper 3x4 of robot_to_world (rotation matrix columns followed
// by translation per row), space separated, fixed precision 9.
func WriteKITTI(out io.Writer, w *worldmap.WorldMap) error {
	buffered := bufio.NewWriter(out)
	for _, id := range w.FrameIDsSorted() {
		frame, ok := w.Frame(id)
		if !ok {
			continue
		}
		if err := writeKITTILine(buffered, frame.RobotToWorld); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

func writeKITTILine(out *bufio.Writer, pose spatialmath.Pose) error {
	rot := pose.RotationMatrix()
	t := pose.Translation
	values := []float64{
		rot.At(0, 0), rot.At(0, 1), rot.At(0, 2), t.X,
		rot.At(1, 0), rot.At(1, 1), rot.At(1, 2), t.Y,
		rot.At(2, 0), rot.At(2, 1), rot.At(2, 2), t.Z,
	}
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'f', 9, 64)
	}
	_, err := fmt.Fprintln(out, strings.Join(fields, " "))
	return err
}

// WriteTUM writes one line per frame of w, in frame-identifier order:
// `timestamp tx ty tz qx qy qz qw`, space separated, fixed precision 9.
func WriteTUM(out io.Writer, w *worldmap.WorldMap) error {
	buffered := bufio.NewWriter(out)
	for _, id := range w.FrameIDsSorted() {
		frame, ok := w.Frame(id)
		if !ok {
			continue
		}
		if err := writeTUMLine(buffered, frame.TimestampSeconds, frame.RobotToWorld); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

func writeTUMLine(out *bufio.Writer, timestamp float64, pose spatialmath.Pose) error {
	q := pose.Orientation
	t := pose.Translation
	values := []float64{timestamp, t.X, t.Y, t.Z, q.Imag, q.Jmag, q.Kmag, q.Real}
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'f', 9, 64)
	}
	_, err := fmt.Fprintln(out, strings.Join(fields, " "))
	return err
}

// ParseKITTI parses a KITTI-format trajectory written by WriteKITTI. Since
// KITTI carries no timestamp, every returned Entry's TimestampSeconds is 0.
func ParseKITTI(in io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(in)
	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 12 {
			return nil, errors.Errorf("kitti line has %d fields, want 12: %q", len(fields), line)
		}
		values := make([]float64, 12)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing kitti field %d", i)
			}
			values[i] = v
		}
		rotation := [3][3]float64{
			{values[0], values[1], values[2]},
			{values[4], values[5], values[6]},
			{values[8], values[9], values[10]},
		}
		orientation := quaternionFromRotationMatrix(rotation)
		translation := r3.Vector{X: values[3], Y: values[7], Z: values[11]}
		entries = append(entries, Entry{RobotToWorld: spatialmath.NewPose(translation, orientation)})
	}
	return entries, scanner.Err()
}

// ParseTUM parses a TUM-format trajectory written by WriteTUM.
func ParseTUM(in io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(in)
	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 8 {
			return nil, errors.Errorf("tum line has %d fields, want 8: %q", len(fields), line)
		}
		values := make([]float64, 8)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing tum field %d", i)
			}
			values[i] = v
		}
		translation := r3.Vector{X: values[1], Y: values[2], Z: values[3]}
		orientation := quat.Number{Imag: values[4], Jmag: values[5], Kmag: values[6], Real: values[7]}
		entries = append(entries, Entry{
			TimestampSeconds: values[0],
			RobotToWorld:     spatialmath.NewPose(translation, orientation),
		})
	}
	return entries, scanner.Err()
}

// quaternionFromRotationMatrix recovers a unit quaternion from a 3x3
// rotation matrix via Shepperd's method, the standard numerically stable
// inverse of spatialmath.Pose.RotationMatrix.
func quaternionFromRotationMatrix(r [3][3]float64) quat.Number {
	trace := r[0][0] + r[1][1] + r[2][2]
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		return quat.Number{
			Real: 0.25 * s,
			Imag: (r[2][1] - r[1][2]) / s,
			Jmag: (r[0][2] - r[2][0]) / s,
			Kmag: (r[1][0] - r[0][1]) / s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		return quat.Number{
			Real: (r[2][1] - r[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (r[0][1] + r[1][0]) / s,
			Kmag: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		return quat.Number{
			Real: (r[0][2] - r[2][0]) / s,
			Imag: (r[0][1] + r[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		return quat.Number{
			Real: (r[1][0] - r[0][1]) / s,
			Imag: (r[0][2] + r[2][0]) / s,
			Jmag: (r[1][2] + r[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}
}
