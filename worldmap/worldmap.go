// Package worldmap implements spec.md §3-§4.4: the Frame/FramePoint/
// Landmark/LocalMap data model and the WorldMap aggregate that owns every
// instance and maintains the invariants of spec.md §3.
//
// Frames, Landmarks, and LocalMaps form a graph with back-edges (temporal
// previous/next, local-map previous/next, landmark<->local-map membership).
// Design Notes §9 recommends a central arena per kind with typed stable
// indices instead of raw shared-ownership pointers; WorldMap is that arena,
// keyed by identifier.ID, and Frame/Landmark/LocalMap cross-reference each
// other by ID rather than by pointer wherever the link can outlive a track
// break or a merge.
package worldmap

import (
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/Self-SLAM-Lab/proSLAM/config"
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// WorldMap is the root aggregate of spec.md §3: owner of every Frame,
// Landmark, and LocalMap, and the keeper of the current track/window state.
//
// mu serializes every mutating call, matching §5's concurrency model: the
// foreground pipeline writes the map, and a graph-optimizer worker thread
// (see package graphoptimizer) reads a Snapshot taken under this lock and
// writes its corrections back through ApplyOptimization under the same lock.
type WorldMap struct {
	logger golog.Logger
	params config.WorldMap

	mu sync.RWMutex

	frameIDs    *identifier.Generator
	landmarkIDs *identifier.Generator
	localMapIDs *identifier.Generator

	frames     map[identifier.ID]*Frame
	landmarks  map[identifier.ID]*Landmark
	localMaps  map[identifier.ID]*LocalMap
	localMapsOrdered []identifier.ID

	currentFrame  identifier.ID
	previousFrame identifier.ID
	rootFrame     identifier.ID

	// sessionRootFrame is the very first Frame ever created by this
	// WorldMap. Unlike rootFrame (which advances to the break point every
	// time BreakTrack runs), sessionRootFrame never changes; it is the
	// reference AddLoopClosure compares against to detect "we are on a
	// track that split off from the original one", matching
	// `_frames.at(0)->root()` in original_source/src/types/world_map.cpp
	// (identifier 0 there is always the first frame ever inserted into the
	// sorted frame map).
	sessionRootFrame identifier.ID

	currentLocalMap identifier.ID
	rootLocalMap    identifier.ID

	frameQueueForLocalMap []identifier.ID
	distanceTraveledWindow float64
	degreesRotatedWindow   float64

	currentlyTrackedLandmarks []identifier.ID

	lastFrameBeforeBreak    identifier.ID
	lastLocalMapBeforeBreak identifier.ID

	relocalized             bool
	numberOfClosures        uint64
	numberOfMergedLandmarks uint64
	warningsOnMerge         uint64
}

// New builds an empty WorldMap.
func New(params config.WorldMap, logger golog.Logger) *WorldMap {
	return &WorldMap{
		logger:      logger,
		params:      params,
		frameIDs:    identifier.NewGenerator(),
		landmarkIDs: identifier.NewGenerator(),
		localMapIDs: identifier.NewGenerator(),
		frames:      make(map[identifier.ID]*Frame),
		landmarks:   make(map[identifier.ID]*Landmark),
		localMaps:   make(map[identifier.ID]*LocalMap),
	}
}

// CreateFrame allocates a new Frame, links it to the previous frame (if any),
// assigns it a fresh root when it starts a track, and enqueues it for the
// pending local-map window. Matches WorldMap::createFrame in
// original_source/src/types/world_map.cpp.
func (w *WorldMap) CreateFrame(robotToWorld spatialmath.Pose, timestampSeconds, maximumDepthNear float64) *Frame {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.frameIDs.Next()
	frame := newFrame(id, robotToWorld, timestampSeconds, maximumDepthNear)
	w.frames[id] = frame

	w.previousFrame = w.currentFrame
	w.currentFrame = id

	if previous, ok := w.frames[w.previousFrame]; ok && w.previousFrame != identifier.None {
		previous.Next = id
		frame.Previous = w.previousFrame
		frame.Root = previous.Root
	} else {
		w.rootFrame = id
		frame.Root = id
	}

	if w.sessionRootFrame == identifier.None {
		w.sessionRootFrame = id
	}

	w.frameQueueForLocalMap = append(w.frameQueueForLocalMap, id)
	return frame
}

// CreateLandmark allocates a new Landmark seeded from origin.
func (w *WorldMap) CreateLandmark(origin *FramePoint) *Landmark {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.landmarkIDs.Next()
	landmark := newLandmark(id, origin)
	w.landmarks[id] = landmark
	return landmark
}

// Frame looks up a Frame by identifier.
func (w *WorldMap) Frame(id identifier.ID) (*Frame, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.frames[id]
	return f, ok
}

// Landmark looks up a Landmark by identifier.
func (w *WorldMap) Landmark(id identifier.ID) (*Landmark, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	l, ok := w.landmarks[id]
	return l, ok
}

// LocalMap looks up a LocalMap by identifier.
func (w *WorldMap) LocalMap(id identifier.ID) (*LocalMap, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	lm, ok := w.localMaps[id]
	return lm, ok
}

// CurrentFrame returns the most recently created Frame, or nil if none exists.
func (w *WorldMap) CurrentFrame() *Frame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frames[w.currentFrame]
}

// PreviousFrame returns the Frame created immediately before CurrentFrame, or
// nil if CurrentFrame is the first frame of a track.
func (w *WorldMap) PreviousFrame() *Frame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frames[w.previousFrame]
}

// CurrentLocalMap returns the most recently created LocalMap, or nil.
func (w *WorldMap) CurrentLocalMap() *LocalMap {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.localMaps[w.currentLocalMap]
}

// CurrentlyTrackedLandmarks returns the Tracker's cache of landmarks matched
// in the current frame, as last set via SetCurrentlyTrackedLandmarks (no
// tracker in this module calls it); WorldMap only needs it to redirect entries
// during a merge (spec.md §4.3 step 5).
func (w *WorldMap) CurrentlyTrackedLandmarks() []identifier.ID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]identifier.ID, len(w.currentlyTrackedLandmarks))
	copy(out, w.currentlyTrackedLandmarks)
	return out
}

// SetCurrentlyTrackedLandmarks replaces the cache of landmarks currently
// under track.
func (w *WorldMap) SetCurrentlyTrackedLandmarks(landmarks []identifier.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentlyTrackedLandmarks = landmarks
}

// NumberOfClosures returns the total loop closures integrated so far.
func (w *WorldMap) NumberOfClosures() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.numberOfClosures
}

// NumberOfMergedLandmarks returns the total landmarks absorbed by merges so far.
func (w *WorldMap) NumberOfMergedLandmarks() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.numberOfMergedLandmarks
}

// Relocalized reports whether the most recently processed frame triggered a
// loop closure.
func (w *WorldMap) Relocalized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.relocalized
}

// LandmarkCount returns how many Landmarks currently exist. Tracker uses
// this to tell a genuine bootstrap (no Landmark exists anywhere yet, so a
// frame with no landmark-backed correspondence is expected) from a real
// tracking loss (Landmarks exist but none matched this frame).
func (w *WorldMap) LandmarkCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.landmarks)
}

// LocalMapCount returns how many LocalMaps have been created.
func (w *WorldMap) LocalMapCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.localMapsOrdered)
}

// LocalMapIDsOrdered returns every LocalMap identifier in creation order,
// the order package relocalization walks when searching historical local
// maps for a query candidate.
func (w *WorldMap) LocalMapIDsOrdered() []identifier.ID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]identifier.ID, len(w.localMapsOrdered))
	copy(out, w.localMapsOrdered)
	return out
}

// ClosureSnapshot is one loop-closure edge as seen by package
// graphoptimizer: which LocalMap raised it (Query), which historical
// LocalMap it closes against (Reference), and the verified relative
// transform and information scalar relocalization attached to it.
type ClosureSnapshot struct {
	Query, Reference identifier.ID
	RelativeTransform spatialmath.Pose
	Information       float64
}

// Snapshot is a point-in-time, lock-free copy of everything package
// graphoptimizer needs to compute a pose-graph correction: every Frame's
// current pose in temporal order, every Landmark's current world position,
// every LocalMap's anchor frame, and every closure edge recorded so far.
// Taken under WorldMap's read lock per spec.md §5's snapshot-read/
// apply-under-lock concurrency model.
type Snapshot struct {
	FrameOrder        []identifier.ID
	FramePoses        map[identifier.ID]spatialmath.Pose
	LandmarkPositions map[identifier.ID]r3.Vector
	LandmarkLocalMaps map[identifier.ID][]identifier.ID
	LocalMapAnchors   map[identifier.ID]identifier.ID
	Closures          []ClosureSnapshot
}

// Snapshot builds a Snapshot of the current graph state.
func (w *WorldMap) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snapshot := Snapshot{
		FramePoses:        make(map[identifier.ID]spatialmath.Pose, len(w.frames)),
		LandmarkPositions: make(map[identifier.ID]r3.Vector, len(w.landmarks)),
		LandmarkLocalMaps: make(map[identifier.ID][]identifier.ID, len(w.landmarks)),
		LocalMapAnchors:   make(map[identifier.ID]identifier.ID, len(w.localMaps)),
	}

	for id := range w.frames {
		snapshot.FrameOrder = append(snapshot.FrameOrder, id)
	}
	sort.Slice(snapshot.FrameOrder, func(i, j int) bool { return snapshot.FrameOrder[i] < snapshot.FrameOrder[j] })
	for _, id := range snapshot.FrameOrder {
		snapshot.FramePoses[id] = w.frames[id].RobotToWorld
	}

	for id, landmark := range w.landmarks {
		snapshot.LandmarkPositions[id] = landmark.WorldCoordinates
		localMaps := make([]identifier.ID, 0, len(landmark.LocalMaps))
		for localMapID := range landmark.LocalMaps {
			localMaps = append(localMaps, localMapID)
		}
		sort.Slice(localMaps, func(i, j int) bool { return localMaps[i] < localMaps[j] })
		snapshot.LandmarkLocalMaps[id] = localMaps
	}

	for id, localMap := range w.localMaps {
		snapshot.LocalMapAnchors[id] = localMap.Anchor
		for _, closure := range localMap.Closures {
			snapshot.Closures = append(snapshot.Closures, ClosureSnapshot{
				Query:             id,
				Reference:         closure.Reference,
				RelativeTransform: closure.RelativeTransform,
				Information:       closure.Information,
			})
		}
	}
	return snapshot
}

// OptimizationResult is what package graphoptimizer hands back to
// ApplyOptimization: the subset of frame poses and landmark positions its
// pose-graph correction changed.
type OptimizationResult struct {
	FramePoses        map[identifier.ID]spatialmath.Pose
	LandmarkPositions map[identifier.ID]r3.Vector
}

// ApplyOptimization writes a graphoptimizer correction back onto the live
// Frame/Landmark values under the write lock, per spec.md §5: the
// optimizer computes against an immutable Snapshot, and only the result is
// applied here. Entries naming an identifier that no longer exists (a
// Landmark absorbed by a merge since the snapshot was taken) are silently
// skipped.
func (w *WorldMap) ApplyOptimization(result OptimizationResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, pose := range result.FramePoses {
		if frame, ok := w.frames[id]; ok {
			frame.SetRobotToWorld(pose)
			frame.UpdateActivePoints()
		}
	}
	for id, position := range result.LandmarkPositions {
		if landmark, ok := w.landmarks[id]; ok {
			landmark.WorldCoordinates = position
		}
	}
}

// FrameIDsSorted returns every live Frame identifier in ascending order, the
// iteration order trajectory.Write{KITTI,TUM} rely on (§C.1 of SPEC_FULL.md).
func (w *WorldMap) FrameIDsSorted() []identifier.ID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]identifier.ID, 0, len(w.frames))
	for id := range w.frames {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
