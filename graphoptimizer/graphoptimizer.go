// Package graphoptimizer implements spec.md §4.6: an incremental pose-graph
// correction triggered every number_of_frames_per_bundle_adjustment frames
// or on a loop closure. Full bundle adjustment from scratch is an explicit
// Non-goal; this computes a single rigid correction per loop-closure edge
// and propagates it forward to every frame pose and every landmark
// introduced after the query LocalMap, which is the incremental-update
// contract the spec calls for.
//
// Optimization runs on a worker goroutine (spec.md §5: "the graph optimizer
// MAY be invoked on a worker thread"), started with go.viam.com/utils'
// goutils.ManagedGo the way viamrobotics-rdk's board implementations manage
// their background loops (e.g. components/board/genericlinux/board.go's
// startSoftwarePWMLoop). Compute itself is a pure function over an
// immutable worldmap.Snapshot; only ApplyOptimization touches the live
// WorldMap, and it does so under WorldMap's own write lock — the
// snapshot-read/apply-under-lock split spec.md §5 requires.
package graphoptimizer

import (
	"context"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
	"github.com/Self-SLAM-Lab/proSLAM/worldmap"
)

// Optimizer runs pose-graph correction passes on a background worker,
// coalescing bursts of trigger calls into a single pending pass.
type Optimizer struct {
	logger   golog.Logger
	worldMap *worldmap.WorldMap
	params   config.GraphOptimization

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	trigger chan struct{}

	mu                 sync.Mutex
	framesSinceLastRun uint64
}

// New builds an Optimizer and starts its worker goroutine.
func New(logger golog.Logger, worldMap *worldmap.WorldMap, params config.GraphOptimization) *Optimizer {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	o := &Optimizer{
		logger:     logger,
		worldMap:   worldMap,
		params:     params,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		trigger:    make(chan struct{}, 1),
	}
	o.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		o.run(o.cancelCtx)
	}, o.activeBackgroundWorkers.Done)
	return o
}

func (o *Optimizer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.trigger:
			o.runOnce()
		}
	}
}

func (o *Optimizer) runOnce() {
	snapshot := o.worldMap.Snapshot()
	result := Compute(snapshot, o.params)
	o.worldMap.ApplyOptimization(result)
	if len(result.FramePoses) > 0 || len(result.LandmarkPositions) > 0 {
		o.logger.Infow("graph optimization pass applied",
			"frames_updated", len(result.FramePoses), "landmarks_updated", len(result.LandmarkPositions))
	}
}

// NotifyFrameProcessed should be called once per processed frame. Every
// FramesPerBundleAdjustment calls, it schedules an optimization pass.
func (o *Optimizer) NotifyFrameProcessed() {
	o.mu.Lock()
	o.framesSinceLastRun++
	due := o.framesSinceLastRun >= o.params.FramesPerBundleAdjustment
	if due {
		o.framesSinceLastRun = 0
	}
	o.mu.Unlock()
	if due {
		o.schedule()
	}
}

// NotifyLoopClosure schedules an optimization pass unconditionally — a loop
// closure always triggers a pass regardless of the frame-count trigger.
func (o *Optimizer) NotifyLoopClosure() {
	o.schedule()
}

func (o *Optimizer) schedule() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Close stops the worker goroutine, waiting for any in-flight pass to finish.
func (o *Optimizer) Close() {
	o.cancelFunc()
	o.activeBackgroundWorkers.Wait()
}

// Compute derives a worldmap.OptimizationResult from snapshot: for each
// closure edge, it computes the rigid correction that would make the query
// LocalMap's anchor pose satisfy the closure's relative transform against
// the reference LocalMap's anchor, then propagates that correction to every
// frame pose at or after the query anchor and every landmark introduced
// strictly within local maps created at or after the query LocalMap
// (landmarks shared with older local maps are left alone, since correcting
// them would move a part of the graph the closure gives no evidence about).
//
// Closures are applied in query-LocalMap order so a chain of closures
// composes correctly against the already-corrected poses, rather than each
// computing its correction against the stale snapshot.
func Compute(snapshot worldmap.Snapshot, params config.GraphOptimization) worldmap.OptimizationResult {
	poses := make(map[identifier.ID]spatialmath.Pose, len(snapshot.FramePoses))
	for id, pose := range snapshot.FramePoses {
		poses[id] = pose
	}
	positions := make(map[identifier.ID]r3.Vector, len(snapshot.LandmarkPositions))
	for id, position := range snapshot.LandmarkPositions {
		positions[id] = position
	}

	changedFrames := make(map[identifier.ID]bool)
	changedLandmarks := make(map[identifier.ID]bool)

	closures := make([]worldmap.ClosureSnapshot, len(snapshot.Closures))
	copy(closures, snapshot.Closures)
	sort.Slice(closures, func(i, j int) bool { return closures[i].Query < closures[j].Query })

	landmarkWeight := 1.0
	if params.EnableRobustKernelForLandmarkMeasurements {
		// Trust the denser frame-pose chain over sparse landmark
		// observations: damp how much of the correction landmarks absorb.
		landmarkWeight = 0.5
	}

	for _, closure := range closures {
		referenceAnchor, ok := snapshot.LocalMapAnchors[closure.Reference]
		if !ok {
			continue
		}
		queryAnchor, ok := snapshot.LocalMapAnchors[closure.Query]
		if !ok {
			continue
		}
		referenceAnchorPose, ok := poses[referenceAnchor]
		if !ok {
			continue
		}
		queryAnchorPose, ok := poses[queryAnchor]
		if !ok {
			continue
		}

		corrected := spatialmath.Compose(referenceAnchorPose, closure.RelativeTransform)
		delta := spatialmath.Compose(corrected, queryAnchorPose.Inverse())

		for _, frameID := range snapshot.FrameOrder {
			if frameID < queryAnchor {
				continue
			}
			poses[frameID] = spatialmath.Compose(delta, poses[frameID])
			changedFrames[frameID] = true
		}

		for landmarkID, localMaps := range snapshot.LandmarkLocalMaps {
			if !introducedAtOrAfter(localMaps, closure.Query) {
				continue
			}
			current := positions[landmarkID]
			corrected := delta.Transform(current)
			positions[landmarkID] = r3.Vector{
				X: current.X + landmarkWeight*(corrected.X-current.X),
				Y: current.Y + landmarkWeight*(corrected.Y-current.Y),
				Z: current.Z + landmarkWeight*(corrected.Z-current.Z),
			}
			changedLandmarks[landmarkID] = true
		}
	}

	result := worldmap.OptimizationResult{
		FramePoses:        make(map[identifier.ID]spatialmath.Pose, len(changedFrames)),
		LandmarkPositions: make(map[identifier.ID]r3.Vector, len(changedLandmarks)),
	}
	for id := range changedFrames {
		result.FramePoses[id] = poses[id]
	}
	for id := range changedLandmarks {
		result.LandmarkPositions[id] = positions[id]
	}
	return result
}

// introducedAtOrAfter reports whether every LocalMap a landmark belongs to
// was created at or after cutoff — i.e. the landmark has no observation
// anchored to the older, trusted side of a loop closure.
func introducedAtOrAfter(localMaps []identifier.ID, cutoff identifier.ID) bool {
	if len(localMaps) == 0 {
		return false
	}
	for _, id := range localMaps {
		if id < cutoff {
			return false
		}
	}
	return true
}
