// Package signal provides clock-domain-crossing primitives for externally
// clocked inputs.
//
// The monitored clock for the timing channel toggles in its own clock
// domain; the pipeline samples it once per tick. A two-register delay line
// settles the sampled level before edge detection so that a level captured
// mid-transition cannot propagate into the period measurement.
package signal

// Synchronizer is a two-register delay line. Each Sample shifts the raw
// level one stage deeper and returns the settled (second-stage) level.
type Synchronizer struct {
	s1 bool
	s2 bool
}

// Sample clocks the raw level through the delay line and returns the
// synchronized level as of this tick.
func (s *Synchronizer) Sample(raw bool) bool {
	s.s2 = s.s1
	s.s1 = raw
	return s.s2
}

// Reset clears both stages to low.
func (s *Synchronizer) Reset() {
	s.s1 = false
	s.s2 = false
}

// EdgeDetector reports level transitions between consecutive ticks.
type EdgeDetector struct {
	prev bool
}

// Rising returns true when the level transitions low→high since the
// previous call.
func (e *EdgeDetector) Rising(level bool) bool {
	rising := level && !e.prev
	e.prev = level
	return rising
}

// Reset clears the remembered level to low.
func (e *EdgeDetector) Reset() {
	e.prev = false
}

// SyncEdge bundles a synchronizer and an edge detector, the standard front
// end for any externally clocked pulse or clock input.
type SyncEdge struct {
	sync Synchronizer
	edge EdgeDetector
}

// Rising samples the raw asynchronous level and reports a synchronized
// rising edge. The reported edge lags the physical edge by the two
// synchronizer stages.
func (se *SyncEdge) Rising(raw bool) bool {
	return se.edge.Rising(se.sync.Sample(raw))
}

// Reset clears all internal stages.
func (se *SyncEdge) Reset() {
	se.sync.Reset()
	se.edge.Reset()
}
