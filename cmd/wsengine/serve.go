// File: cmd/wsengine/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/adapters"
	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/server"
)

func newServeCmd() *cobra.Command {
	var (
		listen       string
		paths        []string
		pingInterval time.Duration
		statsEvery   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("path") {
				cfg.Paths = paths
			}
			if cmd.Flags().Changed("ping-interval") {
				cfg.PingInterval = pingInterval
			}

			ctrl := adapters.NewControlAdapter(nil)
			var obs api.Observer = adapters.MetricsObserver{Control: ctrl}
			if flagVerbose {
				obs = adapters.Observers(obs, adapters.NewLogObserver(log.Default()))
			}
			handler := adapters.Chain(server.EchoHandler{},
				adapters.RecoveryMiddleware,
				adapters.LoggingMiddleware,
				adapters.MetricsMiddleware(ctrl),
			)

			srv, err := server.New(cfg, handler, server.WithControl(ctrl), server.WithObserver(obs))
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if statsEvery > 0 {
				go reportStats(ctx, srv, statsEvery)
			}
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9000", "TCP listen address")
	cmd.Flags().StringSliceVar(&paths, "path", []string{"*"}, `served request paths ("*" for any)`)
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", 0, "keepalive ping interval (0 disables)")
	cmd.Flags().DurationVar(&statsEvery, "stats", 0, "log server stats at this interval")
	return cmd
}

func reportStats(ctx context.Context, srv *server.Server, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := srv.Stats()
			log.Printf("[server] sessions=%d accepted=%d messages=%d in=%dB out=%dB",
				st.NumSessions, st.NumAccepted, st.NumMessages, st.InboundTraffic, st.OutboundTraffic)
		}
	}
}
