package worldmap

import (
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// BreakTrack ends the current track at frame: it records the pre-break
// frame/local-map (if this is the first break since the last relocalization),
// severs frame's previous link, makes frame the new root of both the frame
// and local-map chains, and resets the local-map window. Matches
// WorldMap::breakTrack in original_source/src/types/world_map.cpp.
func (w *WorldMap) BreakTrack(frame *Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.lastFrameBeforeBreak == identifier.None {
		w.lastFrameBeforeBreak = w.previousFrame
		w.lastLocalMapBeforeBreak = w.currentLocalMap
	}

	frame.Previous = identifier.None
	frame.Root = frame.ID
	frame.Status = Localizing

	w.previousFrame = identifier.None
	w.rootFrame = frame.ID
	w.rootLocalMap = identifier.None

	w.currentlyTrackedLandmarks = nil
	w.resetWindowForLocalMapCreation(false)

	w.logger.Warnw("track broken", "frame", frame.ID, "last_frame_before_break", w.lastFrameBeforeBreak)
}

// SetTrack stitches frame back into the track that broke, on a successful
// relocalization (spec.md §4.3, §9 Open Questions). It restores frame's and
// its LocalMap's root pointers to the pre-break track's root, links
// lastFrameBeforeBreak's Next to frame, and links the two LocalMaps both ways;
// frame's own Previous link is set as described below.
//
// Per the explicit Open Question in spec.md §9, the source
// (original_source/src/types/world_map.cpp:282) assigns
// `frame->setPrevious(frame)` — a self-link — rather than
// `lastFrameBeforeBreak`. That is preserved here verbatim rather than
// "corrected", since the spec directs implementers not to guess intent; see
// DESIGN.md for the accepted call. SetTrack is idempotent: once
// lastFrameBeforeBreak is cleared, a second call is a no-op, guarded by the
// same null-check the source uses.
func (w *WorldMap) SetTrack(frame *Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setTrackLocked(frame)
}

func (w *WorldMap) setTrackLocked(frame *Frame) {
	if w.lastFrameBeforeBreak == identifier.None || w.lastLocalMapBeforeBreak == identifier.None {
		return
	}
	lastFrame, ok := w.frames[w.lastFrameBeforeBreak]
	if !ok {
		return
	}
	lastLocalMap, ok := w.localMaps[w.lastLocalMapBeforeBreak]
	if !ok {
		return
	}
	if frame.LocalMap == identifier.None {
		return
	}
	frameLocalMap, ok := w.localMaps[frame.LocalMap]
	if !ok {
		return
	}

	w.rootFrame = lastFrame.Root
	frame.Root = w.rootFrame
	w.rootLocalMap = lastLocalMap.Root
	frameLocalMap.Root = w.rootLocalMap

	lastFrame.Next = frame.ID
	frame.Previous = frame.ID // see doc comment: source bug, preserved intentionally

	lastLocalMap.Next = frameLocalMap.ID
	frameLocalMap.Previous = lastLocalMap.ID

	w.logger.Infow("relocalized: connecting frame/local-map across track break",
		"last_frame_before_break", lastFrame.ID, "last_local_map_before_break", lastLocalMap.ID,
		"frame", frame.ID, "local_map", frameLocalMap.ID)

	w.lastFrameBeforeBreak = identifier.None
	w.lastLocalMapBeforeBreak = identifier.None
}

// AddLoopClosure records a closure edge from query to reference and, if the
// current track has not yet been reattached to the track that was running
// before the last break, stitches it via SetTrack. Matches
// WorldMap::addLoopClosure in original_source/src/types/world_map.cpp,
// which guards the SetTrack call with `_frames.at(0)->root() !=
// _current_frame->root()` — a comparison against the very first frame the
// session ever created, hence sessionRootFrame rather than rootFrame here.
func (w *WorldMap) AddLoopClosure(
	query, reference *LocalMap,
	relativeTransform spatialmath.Pose,
	correspondences []Correspondence,
	information float64,
) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if first, ok := w.frames[w.sessionRootFrame]; ok {
		if current, ok := w.frames[w.currentFrame]; ok && current.Root != first.Root {
			w.setTrackLocked(current)
		}
	}

	query.AddCorrespondence(reference.ID, relativeTransform, correspondences, information)
	w.relocalized = true
	w.numberOfClosures++
}
