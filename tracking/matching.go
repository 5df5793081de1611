package tracking

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// projectedMatch is one successful current<->previous FramePoint pairing
// found by the matching policy of spec.md §4.2.
type projectedMatch struct {
	current  *worldmap.FramePoint
	previous *worldmap.FramePoint
}

// spatialBins partitions a Frame's active points into binSize x binSize
// pixel cells so a projected search only has to scan nearby candidates
// instead of the whole frame — the "binning policy" spec.md §4.2 names.
type spatialBins struct {
	binSize int
	cells   map[[2]int][]*worldmap.FramePoint
}

// newSpatialBins buckets points into binSize x binSize pixel cells and caps
// each cell at maxPerBin = max(1, ratio * binSize) entries, keeping only the
// strongest-Response keypoints (config.BaseTracking's ratio_keypoints_to_bins,
// spec.md §4.2's binning density enforcement). A cell left over capacity
// would let one crowded region of the image dominate every candidate search
// in its neighborhood at the expense of sparser regions.
func newSpatialBins(points []*worldmap.FramePoint, binSize int, ratio float64) *spatialBins {
	b := &spatialBins{binSize: binSize, cells: make(map[[2]int][]*worldmap.FramePoint)}
	for _, p := range points {
		key := b.cellOf(r2.Point{X: p.KeypointLeft.X, Y: p.KeypointLeft.Y})
		b.cells[key] = append(b.cells[key], p)
	}

	maxPerBin := int(ratio * float64(binSize))
	if maxPerBin < 1 {
		maxPerBin = 1
	}
	for key, cell := range b.cells {
		if len(cell) <= maxPerBin {
			continue
		}
		sort.Slice(cell, func(i, j int) bool {
			return cell[i].KeypointLeft.Response > cell[j].KeypointLeft.Response
		})
		b.cells[key] = cell[:maxPerBin]
	}
	return b
}

func (b *spatialBins) cellOf(pixel r2.Point) [2]int {
	return [2]int{int(pixel.X) / b.binSize, int(pixel.Y) / b.binSize}
}

// findBestMatch searches the 3x3 neighborhood of bins around projectedPixel
// for the current-frame point with the smallest combined
// pixel-distance-plus-descriptor-distance score, within radiusPixels and
// maxDescriptorDistance, skipping points present in claimed (callers put
// points matched earlier, and any they want excluded, into that set).
func (b *spatialBins) findBestMatch(
	projectedPixel r2.Point,
	descriptor gocv.Mat,
	radiusPixels float64,
	maxDescriptorDistance int,
	claimed map[*worldmap.FramePoint]bool,
) *worldmap.FramePoint {
	center := b.cellOf(projectedPixel)

	var best *worldmap.FramePoint
	bestScore := math.MaxFloat64

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, candidate := range b.cells[[2]int{center[0] + dx, center[1] + dy}] {
				if claimed[candidate] {
					continue
				}
				dist := math.Hypot(candidate.KeypointLeft.X-projectedPixel.X, candidate.KeypointLeft.Y-projectedPixel.Y)
				if dist > radiusPixels {
					continue
				}
				descriptorDistance := hammingDistance(descriptor, candidate.DescriptorLeft)
				if descriptorDistance > maxDescriptorDistance {
					continue
				}
				score := dist + float64(descriptorDistance)
				if score < bestScore {
					bestScore = score
					best = candidate
				}
			}
		}
	}
	return best
}

// hammingDistance computes the bitwise Hamming distance between two
// single-row binary descriptors, the metric ORB descriptors use for
// matching (as does the FramePoint generator's own gocv.BFMatcher).
func hammingDistance(a, b gocv.Mat) int {
	if a.Empty() || b.Empty() || a.Cols() != b.Cols() {
		return math.MaxInt32
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
