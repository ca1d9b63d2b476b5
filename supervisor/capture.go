package supervisor

import "github.com/agentrun/runtime/event"

// captureLog decides, per node id, whether a stream event is still eligible
// for history persistence (§4.7 "Per-node stream-event capture cap"). It
// does not hold the persisted events themselves — the driver appends
// whatever captureLog approves directly to the in-flight history write
// buffer — it only tracks the count and the capped-marker state.
type captureLog struct {
	cap      int
	perNode  map[string]int
	capped   map[string]bool
}

func newCaptureLog(cap int) *captureLog {
	return &captureLog{cap: cap, perNode: map[string]int{}, capped: map[string]bool{}}
}

// admitStreamEvent reports whether a multiAgentNodeStreamEvent for nodeID
// should be persisted, and whether this call is the first suppression for
// that node (in which case the driver appends the synthetic
// NodeStreamEventCappedEvent marker).
func (c *captureLog) admitStreamEvent(nodeID string) (admit bool, firstSuppression bool) {
	if c.capped[nodeID] {
		return false, false
	}
	c.perNode[nodeID]++
	if c.perNode[nodeID] <= c.cap {
		return true, false
	}
	c.capped[nodeID] = true
	return false, true
}

// eventLog accumulates the persisted event sequence for a run, applying the
// per-node cap to NodeStreamEvent while always admitting every other kind
// (§4.7: "All other event kinds are always persisted").
type eventLog struct {
	capture *captureLog
	events  []event.Event
}

func newEventLog(cap int) *eventLog {
	return &eventLog{capture: newCaptureLog(cap)}
}

// append records ev if it passes the node's persistence cap. When this call
// trips the cap for the first time, it records the synthetic capped-marker
// event in ev's place.
func (l *eventLog) append(runID string, ev event.Event) {
	se, isStream := ev.(event.NodeStreamEvent)
	if !isStream {
		l.events = append(l.events, ev)
		return
	}
	admit, first := l.capture.admitStreamEvent(se.NodeID)
	if admit {
		l.events = append(l.events, ev)
		return
	}
	if first {
		l.events = append(l.events, event.NewNodeStreamEventCappedEvent(runID, se.NodeID, l.capture.cap))
	}
}
