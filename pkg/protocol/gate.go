package protocol

import "time"

// DefaultTelemetryInterval is the minimum spacing between telemetry emissions.
const DefaultTelemetryInterval = 3 * time.Second

// cognitiveGate passes a state only when it differs from the last one emitted.
type cognitiveGate struct {
	last    CognitiveState
	emitted bool
}

func (g *cognitiveGate) admit(s CognitiveState) bool {
	if g.emitted && g.last == s {
		return false
	}
	g.last = s
	g.emitted = true
	return true
}

// telemetryGate additionally requires interval to have elapsed since the last
// emission. A suppressed snapshot does not move the emission clock.
type telemetryGate struct {
	interval time.Duration
	last     ExtendedTelemetry
	lastAt   time.Time
	emitted  bool
}

func (g *telemetryGate) admit(now time.Time, t ExtendedTelemetry) bool {
	if g.emitted {
		if now.Sub(g.lastAt) < g.interval {
			return false
		}
		if sameTelemetry(g.last, t) {
			return false
		}
	}
	t.Unknown = nil
	g.last = t
	g.lastAt = now
	g.emitted = true
	return true
}
