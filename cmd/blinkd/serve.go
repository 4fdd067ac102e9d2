package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"brainlink/pkg/api"
	"brainlink/pkg/bridge/foxglove"
	"brainlink/pkg/config"
	"brainlink/pkg/logger"
	"brainlink/pkg/protocol"
	"brainlink/pkg/store"
	"brainlink/pkg/transport"
)

type serveFlags struct {
	addr     string
	jsonl    string
	archive  string
	httpAddr string
	raw      bool
	foxglove bool
	noHTTP   bool
}

func (a *app) newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Decode the headset link and serve readings",
		Long: `Connect to the headset bridge and publish every decoded reading to the
configured sinks: JSONL file or stdout, pebble archive, Foxglove websocket and
the HTTP status API.

Examples:
  blinkd serve --addr 192.168.4.1:5331 --jsonl -
  blinkd serve --archive ./archive --foxglove`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "headset bridge address host:port")
	cmd.Flags().StringVar(&f.jsonl, "jsonl", "", "JSONL output path, - for stdout")
	cmd.Flags().StringVar(&f.archive, "archive", "", "pebble archive directory")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "", "HTTP status API address")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "publish raw EEG samples")
	cmd.Flags().BoolVar(&f.foxglove, "foxglove", false, "enable the Foxglove websocket bridge")
	cmd.Flags().BoolVar(&f.noHTTP, "no-http", false, "disable the HTTP status API")
	return cmd
}

// apply overrides config values with flags the user set explicitly.
func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Device.Addr = f.addr
	}
	if flags.Changed("jsonl") {
		cfg.Record.JSONL = f.jsonl
	}
	if flags.Changed("archive") {
		cfg.Record.ArchiveDir = f.archive
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = f.httpAddr
	}
	if flags.Changed("raw") {
		cfg.Decoder.Raw = f.raw
	}
	if flags.Changed("foxglove") {
		cfg.Foxglove.Enabled = f.foxglove
	}
	if flags.Changed("no-http") {
		cfg.HTTP.Enabled = !f.noHTTP
	}
}

func (a *app) serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}

	// Bind every sink before anything runs so a bad address fails fast.
	var jsonlOut io.Writer
	if cfg.Record.JSONL != "" {
		out, closeOut, err := openOutput(cfg.Record.JSONL, a.stdout)
		if err != nil {
			return err
		}
		defer closeOut()
		jsonlOut = out
	}

	var archive *store.Archive
	if cfg.Record.ArchiveDir != "" {
		opts := []store.Option{store.WithLogger(log.With().Str("component", "archive").Logger())}
		if cfg.Record.ArchiveRaw {
			opts = append(opts, store.WithKinds(
				protocol.KindCognitive, protocol.KindTelemetry, protocol.KindGyro, protocol.KindRR, protocol.KindRaw,
			))
		}
		archive, err = store.Open(cfg.Record.ArchiveDir, opts...)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				log.Warn().Err(err).Msg("close archive")
			}
		}()
	}

	var httpServer *api.Server
	if cfg.HTTP.Enabled {
		httpServer = api.NewServer(api.Config{Addr: cfg.HTTP.Addr, Name: cfg.Device.Name},
			api.WithLatest(p.latest),
			api.WithStats(p.parser, p.hub),
			api.WithMetrics(p.metrics),
			api.WithLogger(log.With().Str("component", "http").Logger()),
		)
		addr, err := httpServer.Listen()
		if err != nil {
			return fmt.Errorf("http: listen %s: %w", cfg.HTTP.Addr, err)
		}
		p.watchLink(httpServer.SetLinkState)
		log.Info().Stringer("addr", addr).Msg("http api listening")
	}

	var fox *foxglove.Server
	if cfg.Foxglove.Enabled {
		fox = foxglove.NewServer(foxglove.Config{
			WSAddr:      cfg.Foxglove.WSAddr,
			Name:        cfg.Device.Name,
			TopicPrefix: cfg.Foxglove.TopicPrefix,
			SendBuf:     cfg.Foxglove.SendBuf,
		}, p.hub, log.With().Str("component", "foxglove").Logger())
		addr, err := fox.Listen()
		if err != nil {
			return err
		}
		p.watchLink(func(s transport.ConnectionState) {
			level := foxglove.LogLevelInfo
			if s == transport.StateDisconnected {
				level = foxglove.LogLevelWarn
			}
			fox.PublishLog(level, "headset link "+s.String())
		})
		log.Info().Stringer("addr", addr).Str("prefix", cfg.Foxglove.TopicPrefix).Msg("foxglove bridge listening")
	}

	started := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	p.start(ctx, g)

	if jsonlOut != nil {
		w := logger.NewJSONLWriter(jsonlOut)
		sub := p.hub.Subscribe()
		g.Go(func() error {
			w.Consume(ctx, sub)
			if err := w.Err(); err != nil {
				return fmt.Errorf("jsonl: %w", err)
			}
			return nil
		})
	}
	if archive != nil {
		sub := p.hub.Subscribe()
		g.Go(func() error {
			return archive.Consume(ctx, sub)
		})
	}
	if httpServer != nil {
		g.Go(func() error {
			return httpServer.Run(ctx)
		})
	}
	if fox != nil {
		g.Go(func() error {
			return fox.Run(ctx)
		})
	}

	p.link(ctx, g)
	log.Info().
		Str("addr", cfg.Device.Addr).
		Bool("raw", cfg.Decoder.Raw).
		Int("hints", len(cfg.Decoder.Hints)).
		Msg("decoder started")

	err = g.Wait()
	p.logSummary(started)
	return err
}

// openOutput opens path for writing; "-" is w.
func openOutput(path string, w io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return w, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, func() { _ = file.Close() }, nil
}
