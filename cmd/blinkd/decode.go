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

	"brainlink/pkg/config"
	"brainlink/pkg/logger"
	"brainlink/pkg/protocol"
	"brainlink/pkg/store"
	"brainlink/pkg/transport"
)

func (a *app) newDecodeCmd() *cobra.Command {
	var (
		raw      bool
		kinds    []string
		chunk    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "decode <capture>",
		Short: "Decode a raw byte capture to JSONL on stdout",
		Long: `Replay a capture of the headset byte stream through the decoder and print
one JSON line per reading. Use - to read from stdin.

Examples:
  blinkd decode session.bin
  nc 192.168.4.1 5331 | blinkd decode - --kind cognitive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			cfg.Decoder.Raw = raw
			if cmd.Flags().Changed("telemetry-interval") {
				cfg.Decoder.TelemetryInterval = interval.String()
			}

			in, closeIn, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer closeIn()

			return decodeCapture(cmd.Context(), cfg, log, in, logger.NewJSONLWriter(a.stdout, filter...), chunk)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", true, "include raw EEG samples")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only print these kinds (cognitive, telemetry, gyro, rr, raw)")
	cmd.Flags().IntVar(&chunk, "chunk", 4*1024, "read size in bytes")
	cmd.Flags().DurationVar(&interval, "telemetry-interval", 0, "telemetry throttle, wall clock (default decoder.telemetry_interval)")
	return cmd
}

// decodeCapture runs the parser synchronously; unlike the live path nothing is
// dropped.
func decodeCapture(ctx context.Context, cfg config.Config, log zerolog.Logger, in io.Reader, w *logger.JSONLWriter, chunk int) error {
	hints, err := cfg.FieldHints()
	if err != nil {
		return err
	}
	emit := func(kind protocol.Kind, data any) {
		_ = w.Write(protocol.Reading{Kind: kind, Timestamp: time.Now(), Data: data})
	}
	opts := []protocol.Option{
		protocol.WithCognitiveHandler(func(s protocol.CognitiveState) {
			emit(protocol.KindCognitive, s)
		}),
		protocol.WithTelemetryHandler(func(t protocol.ExtendedTelemetry) {
			emit(protocol.KindTelemetry, t)
		}),
		protocol.WithGyroHandler(func(x, y, z int16) {
			emit(protocol.KindGyro, protocol.Gyro{X: x, Y: y, Z: z})
		}),
		protocol.WithRRHandler(func(a, b, c int) {
			emit(protocol.KindRR, protocol.RR{a, b, c})
		}),
		protocol.WithTelemetryInterval(cfg.TelemetryInterval()),
		protocol.WithDebug(cfg.Decoder.Debug),
		protocol.WithLogger(log),
	}
	if cfg.Decoder.Raw {
		opts = append(opts, protocol.WithRawHandler(func(v int16) {
			emit(protocol.KindRaw, protocol.RawSample(v))
		}))
	}
	for code, kind := range hints {
		opts = append(opts, protocol.WithFieldHint(code, kind))
	}
	parser := protocol.NewParser(opts...)

	chunks := make(chan []byte, 16)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		return transport.ReadChunks(ctx, in, chunks, chunk)
	})
	g.Go(func() error {
		for c := range chunks {
			parser.Parse(c)
			if err := w.Err(); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	st := parser.Stats()
	log.Info().
		Uint64("bytes", st.BytesIn).
		Uint64("frames", st.Frames).
		Uint64("checksum_errors", st.ChecksumErrors).
		Uint64("unknown_fields", st.UnknownFields).
		Msg("capture decoded")
	return nil
}

func (a *app) newExportCmd() *cobra.Command {
	var (
		dir      string
		from, to string
		kinds    []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump a reading archive as JSONL",
		Long: `Print archived readings in time order as JSONL. --from and --to take
RFC 3339 timestamps and bound the range to [from, to).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			fromTS, err := parseTime("from", from)
			if err != nil {
				return err
			}
			toTS, err := parseTime("to", to)
			if err != nil {
				return err
			}
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Record.ArchiveDir
			}
			if dir == "" {
				return usagef("no archive: pass --archive or set record.archive_dir")
			}
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("archive %s: %w", dir, err)
			}

			archive, err := store.Open(dir)
			if err != nil {
				return err
			}
			defer archive.Close()

			w := logger.NewJSONLWriter(a.stdout, filter...)
			return archive.ScanRange(fromTS, toTS, func(e store.Entry) error {
				return w.Write(e.Reading())
			})
		},
	}
	cmd.Flags().StringVar(&dir, "archive", "", "archive directory (default record.archive_dir)")
	cmd.Flags().StringVar(&from, "from", "", "first timestamp, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last timestamp, exclusive")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only export these kinds")
	return cmd
}

func parseKinds(names []string) ([]protocol.Kind, error) {
	kinds := make([]protocol.Kind, 0, len(names))
	for _, name := range names {
		k, err := protocol.ParseKind(name)
		if err != nil {
			return nil, usageError{err: err}
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, usagef("invalid --%s: %v", name, err)
	}
	return ts, nil
}

// openInput opens path for reading; "-" is r.
func openInput(path string, r io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return r, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, func() { _ = file.Close() }, nil
}
