// Package relocalization implements spec.md §4.5: given the newest
// LocalMap, search historical local maps for one that plausibly shares the
// same place, verify the match geometrically, and hand the result to
// WorldMap.AddLoopClosure.
//
// This is an interface-only component in the spec; the original system
// exercises no C++ source captured for it, so the search/verification
// pipeline below follows spec.md's prose directly, reusing the same
// iterative-alignment machinery (package tracking) the tracker uses for
// frame-to-frame pose refinement, with its own parameter set
// (config.Relocalization.Aligner).
package relocalization

import (
	"github.com/edaniels/golog"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/tracking"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// Result is a verified loop closure, ready to be handed to
// WorldMap.AddLoopClosure.
type Result struct {
	Reference         *worldmap.LocalMap
	RelativeTransform spatialmath.Pose
	Correspondences   []worldmap.Correspondence
	Information       float64
}

// Relocalizer searches for and geometrically verifies loop closures.
type Relocalizer struct {
	logger   golog.Logger
	worldMap *worldmap.WorldMap
	params   config.Relocalization

	maxDescriptorDistance int
}

// New builds a Relocalizer. maxDescriptorDistance is the Hamming-distance
// threshold two ORB descriptors must fall within to count as a match; it is
// seeded from the tracker's own matching-distance threshold since
// relocalization matches the same descriptor family.
func New(logger golog.Logger, worldMap *worldmap.WorldMap, params config.Relocalization, maxDescriptorDistance int) *Relocalizer {
	return &Relocalizer{
		logger:                logger,
		worldMap:              worldMap,
		params:                params,
		maxDescriptorDistance: maxDescriptorDistance,
	}
}

// candidate is one query-landmark to reference-landmark pairing surviving
// the descriptor-matching pass, before geometric verification.
type candidate struct {
	query, reference identifier.ID
	count            uint64
}

// FindClosure searches for a historical LocalMap that closes a loop with
// query, per spec.md §4.5: skip the last PreliminaryMinimumInterspaceQueries
// local maps (to avoid trivially matching the map query itself is still
// part of), require a preliminary descriptor matching ratio, a per-landmark
// correspondence count, and finally geometric verification via the same
// iterative alignment the tracker uses.
func (r *Relocalizer) FindClosure(query *worldmap.LocalMap) (Result, bool) {
	ids := r.worldMap.LocalMapIDsOrdered()

	queryIndex := -1
	for i, id := range ids {
		if id == query.ID {
			queryIndex = i
			break
		}
	}
	if queryIndex < 0 {
		return Result{}, false
	}

	cutoff := queryIndex - int(r.params.PreliminaryMinimumInterspaceQueries)
	if cutoff <= 0 {
		return Result{}, false
	}

	for i := cutoff - 1; i >= 0; i-- {
		reference, ok := r.worldMap.LocalMap(ids[i])
		if !ok {
			continue
		}
		if result, ok := r.tryMatch(query, reference); ok {
			return result, true
		}
	}
	return Result{}, false
}

// tryMatch runs the full descriptor-match, ratio-check, correspondence-
// count-check, and geometric-verification pipeline against one candidate
// reference LocalMap.
func (r *Relocalizer) tryMatch(query, reference *worldmap.LocalMap) (Result, bool) {
	if len(query.Landmarks) == 0 {
		return Result{}, false
	}

	var candidates []candidate
	for queryID := range query.Landmarks {
		queryLandmark, ok := r.worldMap.Landmark(queryID)
		if !ok {
			continue
		}

		var best candidate
		for referenceID := range reference.Landmarks {
			referenceLandmark, ok := r.worldMap.Landmark(referenceID)
			if !ok {
				continue
			}
			count := matchCount(queryLandmark, referenceLandmark, r.maxDescriptorDistance)
			if count > best.count {
				best = candidate{query: queryID, reference: referenceID, count: count}
			}
		}
		if best.count >= r.params.MinimumMatchesPerLandmark {
			candidates = append(candidates, best)
		}
	}

	ratio := float64(len(candidates)) / float64(len(query.Landmarks))
	if ratio < r.params.PreliminaryMinimumMatchingRatio {
		return Result{}, false
	}
	if uint64(len(candidates)) < r.params.MinimumMatchesPerCorrespondence {
		return Result{}, false
	}

	alignmentCorrespondences := make([]tracking.Correspondence, 0, len(candidates))
	for _, c := range candidates {
		alignmentCorrespondences = append(alignmentCorrespondences, tracking.Correspondence{
			CameraPoint: query.Landmarks[c.query].PositionInLocalMap,
			WorldPoint:  reference.Landmarks[c.reference].PositionInLocalMap,
			IsNear:      true,
		})
	}

	alignment := tracking.Align(spatialmath.Identity(), alignmentCorrespondences, r.params.Aligner)
	if !alignment.Success(r.params.Aligner) {
		return Result{}, false
	}

	correspondences := make([]worldmap.Correspondence, 0, len(candidates))
	for _, c := range candidates {
		predicted := alignment.RobotToWorld.Transform(query.Landmarks[c.query].PositionInLocalMap)
		actual := reference.Landmarks[c.reference].PositionInLocalMap
		isInlier := predicted.Sub(actual).Norm() < r.params.Aligner.MaximumErrorKernel
		correspondences = append(correspondences, worldmap.Correspondence{
			Query:         c.query,
			Reference:     c.reference,
			MatchingCount: c.count,
			IsInlier:      isInlier,
		})
	}

	r.logger.Infow("relocalization candidate verified",
		"query_local_map", query.ID, "reference_local_map", reference.ID,
		"inliers", alignment.Inliers, "inlier_ratio", alignment.InlierRatio)

	return Result{
		Reference:         reference,
		RelativeTransform: alignment.RobotToWorld,
		Correspondences:   correspondences,
		Information:       float64(alignment.Inliers) * alignment.InlierRatio,
	}, true
}

// matchCount counts descriptor pairs between query's and reference's
// observers within maxDistance, the independent-match-support signal
// backing spec.md §4.5's per-landmark correspondence count.
func matchCount(query, reference *worldmap.Landmark, maxDistance int) uint64 {
	var count uint64
	for _, q := range query.Observers() {
		for _, ref := range reference.Observers() {
			if hammingDistance(q.DescriptorLeft, ref.DescriptorLeft) <= maxDistance {
				count++
			}
		}
	}
	return count
}

func hammingDistance(a, b gocv.Mat) int {
	if a.Empty() || b.Empty() || a.Cols() != b.Cols() {
		return int(^uint(0) >> 1)
	}
	distance := 0
	for col := 0; col < a.Cols(); col++ {
		distance += popcount(a.GetUCharAt(0, col) ^ b.GetUCharAt(0, col))
	}
	return distance
}

func popcount(b byte) int {
	count := 0
	for b != 0 {
		count += int(b & 1)
		b >>= 1
	}
	return count
}
