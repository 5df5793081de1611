package worldmap

import (
	"github.com/Self-SLAM-Lab/proSLAM/identifier"
	"github.com/Self-SLAM-Lab/proSLAM/spatialmath"
)

// TryCreateLocalMap evaluates the pending frame window against the three
// OR'd triggers of spec.md §4.3/§8: accumulated rotation, accumulated
// translation with a minimum window size, or the bootstrap clause (fewer
// than 5 local maps exist yet). On success it builds a LocalMap from the
// window, marks the newest frame as its anchor/keyframe, links it into the
// LocalMap chain, and resets the window accumulators. Matches
// WorldMap::createLocalMap in original_source/src/types/world_map.cpp.
func (w *WorldMap) TryCreateLocalMap(dropFramepoints bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	previous, hasPrevious := w.frames[w.previousFrame]
	current, hasCurrent := w.frames[w.currentFrame]
	if !hasPrevious || !hasCurrent {
		return false
	}

	w.relocalized = false

	step := spatialmath.Compose(previous.WorldToRobot, current.RobotToWorld)
	w.distanceTraveledWindow += step.Translation.Norm()
	w.degreesRotatedWindow += step.RotationAngle()

	windowSize := uint64(len(w.frameQueueForLocalMap))
	triggeredByRotation := w.degreesRotatedWindow > w.params.MinimumDegreesRotatedForLocalMap
	triggeredByTranslation := w.distanceTraveledWindow > w.params.MinimumDistanceTraveledForLocalMap &&
		windowSize > w.params.MinimumFramesForLocalMap
	triggeredByBootstrap := windowSize > w.params.MinimumFramesForLocalMap && len(w.localMapsOrdered) < 5

	if !triggeredByRotation && !triggeredByTranslation && !triggeredByBootstrap {
		return false
	}

	window := make([]*Frame, 0, len(w.frameQueueForLocalMap))
	for _, id := range w.frameQueueForLocalMap {
		if frame, ok := w.frames[id]; ok {
			window = append(window, frame)
		}
	}

	id := w.localMapIDs.Next()
	localMap := newLocalMap(id, window, w.landmarks)
	w.localMaps[id] = localMap
	w.localMapsOrdered = append(w.localMapsOrdered, id)

	if previousLocalMap, ok := w.localMaps[w.currentLocalMap]; ok {
		previousLocalMap.Next = id
		localMap.Previous = w.currentLocalMap
		localMap.Root = previousLocalMap.Root
	}
	w.currentLocalMap = id

	if w.rootLocalMap == identifier.None {
		w.rootLocalMap = id
		localMap.Root = id
	}

	w.resetWindowForLocalMapCreation(dropFramepoints)
	return true
}

// resetWindowForLocalMapCreation clears the pending-frame window and its
// distance/rotation accumulators. When dropFramepoints is set, every frame
// in the closed window except the last two releases its FramePoints:
// the newest frame is needed for the next tracking step, the
// second-to-newest for optical-flow visualization (spec.md §4.3, scenario 6).
func (w *WorldMap) resetWindowForLocalMapCreation(dropFramepoints bool) {
	w.distanceTraveledWindow = 0
	w.degreesRotatedWindow = 0

	if dropFramepoints {
		queue := w.frameQueueForLocalMap
		if len(queue) > 2 {
			for _, id := range queue[:len(queue)-2] {
				if frame, ok := w.frames[id]; ok {
					frame.Clear()
				}
			}
		}
	}
	w.frameQueueForLocalMap = nil
}
