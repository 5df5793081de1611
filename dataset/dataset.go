// Package dataset reads an offline recording of a tracking session: a
// calibration file describing the left/right cameras and an association
// file listing one timestamped image pair per line. It stands in for the
// ROS topic subscriptions spec.md §6 names
// (-topic-image-left/-topic-camera-info-left and their stereo/right
// counterparts); live topic demultiplexing is explicit "thin I/O glue" that
// spec.md §1 scopes out, so cmd/proslam drives its processing loop from
// these flat files instead, reusing the same flag surface as file paths.
package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// Entry is one recorded acquisition: a timestamp plus the left image path
// and either the right stereo image or the depth image path, depending on
// the tracker mode driving the session.
type Entry struct {
	TimestampSeconds float64
	PathLeft         string
	PathRight        string
}

// ReadCalibration parses a calibration file: one line per camera,
// `label width height fx fy ppx ppy baseline_meters`. label is either
// "left" or "right"; a missing "right" line is not an error (the depth
// tracker mode has none).
func ReadCalibration(path string) (left, right *worldmap.Camera, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to open calibration file %q", path)
	}
	defer file.Close()

	cameras, err := parseCalibration(file)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parsing calibration file %q", path)
	}
	return cameras["left"], cameras["right"], nil
}

func parseCalibration(in io.Reader) (map[string]*worldmap.Camera, error) {
	cameras := make(map[string]*worldmap.Camera)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 8 {
			return nil, errors.Errorf("calibration line has %d fields, want 8: %q", len(fields), line)
		}
		width, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrap(err, "parsing width")
		}
		height, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrap(err, "parsing height")
		}
		values := make([]float64, 5)
		for i, f := range fields[3:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing calibration field %d", i+3)
			}
			values[i] = v
		}
		cameras[fields[0]] = &worldmap.Camera{
			Label:          fields[0],
			Width:          width,
			Height:         height,
			Fx:             values[0],
			Fy:             values[1],
			Ppx:            values[2],
			Ppy:            values[3],
			BaselineMeters: values[4],
			RobotToCamera:  spatialmath.Identity(),
		}
	}
	return cameras, scanner.Err()
}

// ReadAssociations parses an association file: one line per acquisition,
// `timestamp path_left path_right_or_depth`, in the TUM RGB-D
// association.py convention.
func ReadAssociations(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open dataset file %q", path)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("dataset line has %d fields, want 3: %q", len(fields), line)
		}
		timestamp, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parsing timestamp")
		}
		entries = append(entries, Entry{TimestampSeconds: timestamp, PathLeft: fields[1], PathRight: fields[2]})
	}
	return entries, scanner.Err()
}
