package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"brainlink/pkg/monitor"
)

func (a *app) newMonitorCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal dashboard of the headset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Device.Addr = addr
			}
			// Log lines would tear the dashboard.
			p, err := newPipeline(cfg, zerolog.Nop())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			p.start(ctx, g)

			prog := monitor.NewProgram(
				monitor.NewModel(cfg.Device.Name, monitor.WithStats(p.parser.Stats, time.Second)),
				tea.WithOutput(a.stdout),
				tea.WithAltScreen(),
			)
			p.watchLink(prog.SetLink)
			sub := p.hub.Subscribe()
			g.Go(func() error {
				defer cancel()
				return prog.Run(ctx, sub)
			})
			p.link(ctx, g)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "headset bridge address host:port")
	return cmd
}
