package worldmap

import "github.com/Self-SLAM-Lab/proSLAM/identifier"

// mergeCandidate is a candidate (query, reference) landmark merge with the
// matching count that won the duplicate-filtering pass of spec.md §4.3 step 2.
type mergeCandidate struct {
	reference identifier.ID
	query     identifier.ID
	count     uint64
}

// MergeLandmarks runs the landmark-merging algorithm of spec.md §4.3 over a
// batch of loop-closure constraints. It is transactional at the
// correspondence-batch granularity (§5): the shared-local-map check runs
// before any mutation for every surviving pair, so a rejected pair never
// partially merges. Matches WorldMap::mergeLandmarks in
// original_source/src/types/world_map.cpp, including its duplicate-filtering
// pass: a pair conflicts with an already-filtered pair only when it shares
// the exact query or the exact reference identifier with it, and the weaker
// (lower matching_count) of the two loses outright — it is not retried
// against any other partner.
func (w *WorldMap) MergeLandmarks(closures []ClosureConstraint) {
	w.mu.Lock()
	defer w.mu.Unlock()

	byQuery := make(map[identifier.ID]mergeCandidate)
	byReference := make(map[identifier.ID]mergeCandidate)

	for _, closure := range closures {
		for _, c := range closure.Correspondences {
			if !c.IsInlier {
				continue
			}
			q, r := c.Query, c.Reference
			if q < r {
				q, r = r, q
			}
			if q == r {
				continue
			}

			existingByQuery, hasQuery := byQuery[q]
			existingByReference, hasReference := byReference[r]

			switch {
			case !hasQuery && !hasReference:
				candidate := mergeCandidate{reference: r, query: q, count: c.MatchingCount}
				byQuery[q] = candidate
				byReference[r] = candidate

			case hasQuery && !hasReference:
				if c.MatchingCount > existingByQuery.count {
					delete(byReference, existingByQuery.reference)
					candidate := mergeCandidate{reference: r, query: q, count: c.MatchingCount}
					byQuery[q] = candidate
					byReference[r] = candidate
				}

			case !hasQuery && hasReference:
				if c.MatchingCount > existingByReference.count {
					delete(byQuery, existingByReference.query)
					candidate := mergeCandidate{reference: r, query: q, count: c.MatchingCount}
					byQuery[q] = candidate
					byReference[r] = candidate
				}

			default:
				// Both the query and the reference are already claimed by
				// other pairs; original_source leaves this case unhandled
				// and the correspondence is dropped.
			}
		}
	}

	// merged tracks every absorbed query's final absorbing landmark, so a
	// reference that was itself absorbed earlier in this same batch chains
	// through to the landmark still live in w.landmarks.
	merged := make(map[identifier.ID]identifier.ID)

	for q, candidate := range byQuery {
		query, ok := w.landmarks[q]
		if !ok {
			// q was already absorbed by an earlier pair in this batch.
			w.warningsOnMerge++
			w.logger.Warnw("merge skipped: query already merged", "query", q)
			continue
		}

		referenceID := candidate.reference
		reference, ok := w.landmarks[referenceID]
		if !ok {
			absorbingID, ok := merged[referenceID]
			if !ok {
				w.warningsOnMerge++
				w.logger.Warnw("merge skipped: reference not found", "reference", referenceID)
				continue
			}
			reference, ok = w.landmarks[absorbingID]
			if !ok {
				w.warningsOnMerge++
				w.logger.Warnw("merge skipped: reference not found", "reference", referenceID)
				continue
			}
		}

		if query.ID == reference.ID {
			continue
		}

		if query.SharesLocalMapWith(reference) {
			w.warningsOnMerge++
			w.logger.Warnw("merge skipped: query and reference share a local map", "query", q, "reference", reference.ID)
			continue
		}

		for i, id := range w.currentlyTrackedLandmarks {
			if id == query.ID || id == reference.ID {
				w.currentlyTrackedLandmarks[i] = reference.ID
			}
		}

		reference.Merge(query)
		merged[q] = reference.ID
		delete(w.landmarks, q)
		w.numberOfMergedLandmarks++
	}
}
