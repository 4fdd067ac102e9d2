package protocol

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Parser decodes a headset byte stream. Feed it chunks of any size with Parse;
// handlers run synchronously on the caller's goroutine and must not block.
//
// A Parser is not safe for concurrent Parse calls. Stats may be read from any
// goroutine.
type Parser struct {
	buf     buffer
	state   CognitiveState
	ext     ExtendedTelemetry
	unknown unknownTracker
	hints   FieldHints

	cognitiveGate cognitiveGate
	telemetryGate telemetryGate
	now           func() time.Time

	onCognitive func(CognitiveState)
	onTelemetry func(ExtendedTelemetry)
	onGyro      func(x, y, z int16)
	onRR        func(a, b, c int)
	onRaw       func(int16)

	debug bool
	log   zerolog.Logger
	stats counters
}

type Option func(*Parser)

func WithCognitiveHandler(fn func(CognitiveState)) Option {
	return func(p *Parser) {
		p.onCognitive = fn
	}
}

func WithTelemetryHandler(fn func(ExtendedTelemetry)) Option {
	return func(p *Parser) {
		p.onTelemetry = fn
	}
}

func WithGyroHandler(fn func(x, y, z int16)) Option {
	return func(p *Parser) {
		p.onGyro = fn
	}
}

// WithRRHandler registers an R-R interval handler. Only a code hinted as
// FieldRR produces intervals.
func WithRRHandler(fn func(a, b, c int)) Option {
	return func(p *Parser) {
		p.onRR = fn
	}
}

func WithRawHandler(fn func(int16)) Option {
	return func(p *Parser) {
		p.onRaw = fn
	}
}

func WithTelemetryInterval(d time.Duration) Option {
	return func(p *Parser) {
		if d >= 0 {
			p.telemetryGate.interval = d
		}
	}
}

// WithClock replaces time.Now for the telemetry throttle.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Parser) {
		p.log = log
	}
}

// WithDebug enables debug logging of resyncs, checksum failures and unknown
// fields on the logger given by WithLogger.
func WithDebug(debug bool) Option {
	return func(p *Parser) {
		p.debug = debug
	}
}

// WithFieldHint binds an extended field code to kind. Invalid hints are ignored;
// use ValidateHint to check them up front.
func WithFieldHint(code byte, kind FieldKind) Option {
	return func(p *Parser) {
		_ = p.hints.Register(code, kind)
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		hints: make(FieldHints),
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	p.telemetryGate.interval = DefaultTelemetryInterval
	for _, opt := range opts {
		opt(p)
	}
	if !p.debug {
		p.log = zerolog.Nop()
	}
	return p
}

// Parse appends data to the stream buffer and decodes every complete frame.
func (p *Parser) Parse(data []byte) {
	if len(data) == 0 {
		return
	}
	p.stats.bytesIn.Add(uint64(len(data)))
	p.buf.write(data)

	for {
		payload, res, discarded := nextFrame(&p.buf)
		if discarded > 0 && res != rejected {
			p.stats.discarded.Add(uint64(discarded))
			p.log.Debug().Int("discarded", discarded).Msg("skipped bytes before sync")
		}
		switch res {
		case extracted:
			p.stats.frames.Add(1)
			p.emit(p.decodePayload(payload))
		case rejected:
			p.stats.discarded.Add(uint64(discarded))
			p.stats.checksumErrors.Add(1)
			p.log.Debug().Int("buffered", p.buf.len()).Msg("checksum mismatch, resyncing")
		default:
			return
		}
	}
}

func (p *Parser) emit(cognitive, telemetry bool) {
	if cognitive && p.onCognitive != nil && p.cognitiveGate.admit(p.state) {
		p.stats.cognitiveEmits.Add(1)
		p.onCognitive(p.state)
	}
	if telemetry && p.onTelemetry != nil && p.telemetryGate.admit(p.now(), p.ext) {
		p.stats.telemetryEmits.Add(1)
		p.onTelemetry(p.Telemetry())
	}
}

// State returns the last known cognitive state.
func (p *Parser) State() CognitiveState {
	return p.state
}

// Telemetry returns the last known extended telemetry including unknown field
// statistics.
func (p *Parser) Telemetry() ExtendedTelemetry {
	t := p.ext
	t.Unknown = p.unknown.snapshot()
	return t
}

// Unknown returns the unknown field statistics ordered by code.
func (p *Parser) Unknown() []UnknownFieldStat {
	return p.unknown.list()
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (p *Parser) Buffered() int {
	return p.buf.len()
}

// Stats is a point-in-time copy of the decoder counters.
type Stats struct {
	BytesIn        uint64 `json:"bytes_in"`
	Frames         uint64 `json:"frames"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Discarded      uint64 `json:"discarded"`
	UnknownFields  uint64 `json:"unknown_fields"`
	RawSamples     uint64 `json:"raw_samples"`
	CognitiveEmits uint64 `json:"cognitive_emits"`
	TelemetryEmits uint64 `json:"telemetry_emits"`
}

type counters struct {
	bytesIn        atomic.Uint64
	frames         atomic.Uint64
	checksumErrors atomic.Uint64
	discarded      atomic.Uint64
	unknownFields  atomic.Uint64
	rawSamples     atomic.Uint64
	cognitiveEmits atomic.Uint64
	telemetryEmits atomic.Uint64
}

func (p *Parser) Stats() Stats {
	return Stats{
		BytesIn:        p.stats.bytesIn.Load(),
		Frames:         p.stats.frames.Load(),
		ChecksumErrors: p.stats.checksumErrors.Load(),
		Discarded:      p.stats.discarded.Load(),
		UnknownFields:  p.stats.unknownFields.Load(),
		RawSamples:     p.stats.rawSamples.Load(),
		CognitiveEmits: p.stats.cognitiveEmits.Load(),
		TelemetryEmits: p.stats.telemetryEmits.Load(),
	}
}
