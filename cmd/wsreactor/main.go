// File: cmd/wsreactor/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// wsreactor serves WebSocket echo connections from a single epoll reactor.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/logging"
	"github.com/momentics/wsreactor/pool"
	"github.com/momentics/wsreactor/reactor"
	"github.com/momentics/wsreactor/server"
	"github.com/momentics/wsreactor/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "wsreactor:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "wsreactor [flags]",
		Short:         "Single-reactor WebSocket echo server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := control.Load(configFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	def := control.Default()
	fs := cmd.Flags()
	fs.StringVarP(&configFile, "config", "c", "", "JSON configuration file")
	fs.String("addr", def.Addr, "address to listen on")
	fs.Int("backlog", def.Backlog, "listen backlog")
	fs.Int64("max-frame-payload", def.MaxFramePayload, "largest accepted frame payload in bytes, 0 for no limit")
	fs.Int("read-buffer-size", def.ReadBufferSize, "socket read chunk size in bytes")
	fs.Int("max-events", def.MaxEvents, "readiness events handled per reactor wait")
	fs.Duration("poll-interval", def.PollInterval.Std(), "longest single reactor wait")
	fs.Duration("idle-timeout", def.IdleTimeout.Std(), "drop connections idle this long, 0 to disable")
	fs.String("log-level", def.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.String("log-format", def.LogFormat, "log format (text or json)")
	fs.String("metrics-addr", def.MetricsAddr, "address for /metrics and /debug/state, empty to disable")
	return cmd
}

// applyFlags copies flags that were set explicitly on top of cfg, so the
// command line wins over the file and the environment.
func applyFlags(fs *pflag.FlagSet, cfg *control.Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "addr":
			cfg.Addr, err = fs.GetString(f.Name)
		case "backlog":
			cfg.Backlog, err = fs.GetInt(f.Name)
		case "max-frame-payload":
			cfg.MaxFramePayload, err = fs.GetInt64(f.Name)
		case "read-buffer-size":
			cfg.ReadBufferSize, err = fs.GetInt(f.Name)
		case "max-events":
			cfg.MaxEvents, err = fs.GetInt(f.Name)
		case "poll-interval":
			var d time.Duration
			d, err = fs.GetDuration(f.Name)
			cfg.PollInterval = control.Duration(d)
		case "idle-timeout":
			var d time.Duration
			d, err = fs.GetDuration(f.Name)
			cfg.IdleTimeout = control.Duration(d)
		case "log-level":
			cfg.LogLevel, err = fs.GetString(f.Name)
		case "log-format":
			cfg.LogFormat, err = fs.GetString(f.Name)
		case "metrics-addr":
			cfg.MetricsAddr, err = fs.GetString(f.Name)
		}
	})
	return errors.Wrap(err, "flags")
}

func run(ctx context.Context, cfg *control.Config, logOut io.Writer) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	ln, err := transport.Listen(cfg.Addr, transport.ListenConfig{Backlog: cfg.Backlog, NoDelay: true})
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	r, err := reactor.New()
	if err != nil {
		ln.Close()
		return err
	}
	defer r.Close()

	metrics := control.NewMetrics()
	probes := control.NewDebugProbes()
	probes.RegisterProbe("config", func() any { return cfg })

	srv, err := server.New(ln, r,
		server.WithLogger(log),
		server.WithMetrics(metrics),
		server.WithDebug(probes),
		server.WithMaxPayload(cfg.MaxFramePayload),
		server.WithBytePool(pool.NewBytePool(cfg.ReadBufferSize)),
		server.WithMaxEvents(cfg.MaxEvents),
		server.WithPollInterval(cfg.PollInterval.Std()),
		server.WithIdleTimeout(cfg.IdleTimeout.Std()),
	)
	if err != nil {
		ln.Close()
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/debug/state", probes)
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hs.Shutdown(sctx)
		}()
	}

	return srv.Run(ctx)
}
