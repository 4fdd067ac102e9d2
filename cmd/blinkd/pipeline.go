package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"brainlink/pkg/config"
	"brainlink/pkg/engine"
	"brainlink/pkg/metrics"
	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"
)

// pipeline wires the headset link to the parser and the parser to the hub.
// Sinks subscribe to the hub between start and link.
type pipeline struct {
	cfg     config.Config
	log     zerolog.Logger
	hub     *engine.Hub
	latest  *engine.Latest
	parser  *protocol.Parser
	metrics *metrics.Metrics
	chunks  chan []byte
	onLink  []func(transport.ConnectionState)
}

func newPipeline(cfg config.Config, log zerolog.Logger) (*pipeline, error) {
	hints, err := cfg.FieldHints()
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:    cfg,
		log:    log,
		hub:    engine.NewHub(),
		latest: engine.NewLatest(),
		chunks: make(chan []byte, cfg.Device.ChunkBuf),
	}

	opts := engine.Bind(p.hub, engine.BindOptions{
		Raw:    cfg.Decoder.Raw || cfg.Record.ArchiveRaw,
		Latest: p.latest,
	})
	opts = append(opts,
		protocol.WithTelemetryInterval(cfg.TelemetryInterval()),
		protocol.WithDebug(cfg.Decoder.Debug),
		protocol.WithLogger(log.With().Str("component", "decoder").Logger()),
	)
	for code, kind := range hints {
		opts = append(opts, protocol.WithFieldHint(code, kind))
	}
	p.parser = protocol.NewParser(opts...)
	p.metrics = metrics.New(p.parser, p.hub)
	p.watchLink(p.metrics.ObserveLink)
	return p, nil
}

func (p *pipeline) watchLink(fn func(transport.ConnectionState)) {
	p.onLink = append(p.onLink, fn)
}

// start runs the hub. Subscribe sinks after start and before link.
func (p *pipeline) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		p.hub.Run(ctx)
		return nil
	})
}

// link dials the headset bridge and feeds the parser until ctx is done.
func (p *pipeline) link(ctx context.Context, g *errgroup.Group) {
	transport.StartListener(ctx, p.cfg.Device.Addr, p.chunks,
		transport.WithReconnectInterval(p.cfg.ReconnectInterval()),
		transport.WithReconnectMax(p.cfg.ReconnectMax()),
		transport.WithBufferSize(p.cfg.Device.ReadBuf),
		transport.WithErrorHandler(func(err error) {
			p.log.Warn().Err(err).Str("addr", p.cfg.Device.Addr).Msg("headset link error")
		}),
		transport.WithStateHandler(func(s transport.ConnectionState) {
			p.log.Info().Stringer("state", s).Str("addr", p.cfg.Device.Addr).Msg("headset link")
			for _, fn := range p.onLink {
				fn(s)
			}
		}),
	)
	g.Go(func() error {
		return p.decode(ctx)
	})
}

func (p *pipeline) decode(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-p.chunks:
			p.metrics.ObserveChunk(len(chunk))
			p.parser.Parse(chunk)
		}
	}
}

func (p *pipeline) logSummary(started time.Time) {
	st := p.parser.Stats()
	published, delivered := p.hub.Drops()
	p.log.Info().
		Dur("uptime", time.Since(started).Round(time.Second)).
		Uint64("bytes", st.BytesIn).
		Uint64("frames", st.Frames).
		Uint64("checksum_errors", st.ChecksumErrors).
		Uint64("discarded", st.Discarded).
		Uint64("publish_drops", published).
		Uint64("deliver_drops", delivered).
		Msg("decoder stopped")
}
