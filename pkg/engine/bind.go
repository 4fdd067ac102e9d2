package engine

import (
	"time"

	"brainlink/pkg/protocol"
)

type BindOptions struct {
	// Raw publishes every raw EEG sample. At 512 Hz this dominates the hub.
	Raw bool
	// Latest, when set, tracks the newest cognitive and telemetry snapshots.
	Latest *Latest
	Now    func() time.Time
}

// Bind returns parser options that publish every handler event to hub as a
// Reading.
func Bind(hub *Hub, opts BindOptions) []protocol.Option {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	publish := func(kind protocol.Kind, data any) {
		hub.TryPublish(protocol.Reading{Kind: kind, Timestamp: now(), Data: data})
	}

	out := []protocol.Option{
		protocol.WithCognitiveHandler(func(s protocol.CognitiveState) {
			if opts.Latest != nil {
				opts.Latest.setCognitive(s)
			}
			publish(protocol.KindCognitive, s)
		}),
		protocol.WithTelemetryHandler(func(t protocol.ExtendedTelemetry) {
			if opts.Latest != nil {
				opts.Latest.setTelemetry(t)
			}
			publish(protocol.KindTelemetry, t)
		}),
		protocol.WithGyroHandler(func(x, y, z int16) {
			publish(protocol.KindGyro, protocol.Gyro{X: x, Y: y, Z: z})
		}),
		protocol.WithRRHandler(func(a, b, c int) {
			publish(protocol.KindRR, protocol.RR{a, b, c})
		}),
	}
	if opts.Raw {
		out = append(out, protocol.WithRawHandler(func(v int16) {
			publish(protocol.KindRaw, protocol.RawSample(v))
		}))
	}
	return out
}
