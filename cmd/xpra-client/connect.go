// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tenthirtyam/go-xpra"
)

type connectOptions struct {
	configPath    string
	passwordFile  string
	logLevel      string
	metricsListen string
	ping          time.Duration
	swapKeys      bool
}

func connectCmd() *cobra.Command {
	var o connectOptions

	cmd := &cobra.Command{
		Use:   "connect [ws://host:port/]",
		Short: "Connect to a server and mirror its windows",
		Long: `Connect to an xpra server and keep the session open until interrupted.

Every window is kept in an offscreen framebuffer and every paint is
acknowledged. With --metrics, Prometheus metrics are served on /metrics
and the current surfaces on /surfaces.

Examples:
  xpra-client connect ws://localhost:10000/
  xpra-client connect --config client.yaml --metrics 127.0.0.1:9102
  xpra-client connect ws://host:10000/ --password-file ~/.xpra-password --ping 5s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), o, args)
		},
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "Client configuration file")
	cmd.Flags().StringVar(&o.passwordFile, "password-file", "", "File holding the session password")
	cmd.Flags().StringVarP(&o.logLevel, "log-level", "l", "", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&o.metricsListen, "metrics", "", "Address to serve metrics on")
	cmd.Flags().DurationVar(&o.ping, "ping", 0, "Ping interval (0 disables)")
	cmd.Flags().BoolVar(&o.swapKeys, "swap-keys", false, "Swap the control and meta keys")

	return cmd
}

func runConnect(ctx context.Context, o connectOptions, args []string) error {
	cfg := &xpra.FileConfig{}
	if o.configPath != "" {
		loaded, err := xpra.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Flags override the file.
	if len(args) == 1 {
		cfg.Server = args[0]
	}
	if o.passwordFile != "" {
		cfg.Password, cfg.PasswordFile = "", o.passwordFile
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.metricsListen != "" {
		cfg.Metrics.Listen = o.metricsListen
	}
	if o.ping > 0 {
		cfg.PingInterval = xpra.Duration(o.ping)
	}
	if o.swapKeys {
		cfg.SwapKeys = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Server == "" {
		return errors.New("no server given")
	}

	level := xpra.LevelInfo
	if cfg.LogLevel != "" {
		parsed, err := xpra.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		level = parsed
	}
	logger := xpra.NewStandardLogger(level)

	password, err := cfg.ReadPassword()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	namespace := cfg.Metrics.Namespace
	if namespace == "" {
		namespace = "xpra"
	}
	metrics := xpra.NewPrometheusMetrics(
		xpra.WithMetricsNamespace(namespace),
		xpra.WithMetricsRegistry(registry),
	)

	events := make(chan xpra.Event, 256)
	opts := append(cfg.Options(),
		xpra.WithLogger(logger),
		xpra.WithMetrics(metrics),
		xpra.WithEventChannel(events),
		xpra.WithPassword(password),
	)
	client := xpra.NewClient(opts...)
	defer client.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           newStatusRouter(client, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", xpra.Field{Key: "error", Value: err})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Events must be read until the disconnect is delivered, or the
	// handshake and teardown stall on a full channel.
	quit := make(chan struct{})
	defer close(quit)
	finished := make(chan error, 1)
	go func() { finished <- consumeEvents(quit, logger, events) }()

	if err := client.Connect(ctx, cfg.Server); err != nil {
		return err
	}
	if n, ok := client.Negotiated(); ok {
		fmt.Printf("Connected to %s (server %s, %d encodings, audio %q)\n",
			cfg.Server, n.ServerVersion, len(n.Encodings), n.AudioCodec)
	}

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		return client.Disconnect()
	}
}

// consumeEvents logs events until the session reports its disconnect or
// quit is closed.
func consumeEvents(quit <-chan struct{}, logger xpra.Logger, events <-chan xpra.Event) error {
	for {
		select {
		case <-quit:
			return nil
		case ev := <-events:
			switch e := ev.(type) {
			case *xpra.SurfaceCreatedEvent:
				logger.Info("Surface created",
					xpra.Field{Key: "wid", Value: e.Surface.ID},
					xpra.Field{Key: "title", Value: e.Surface.Metadata.Title()},
					xpra.Field{Key: "size", Value: fmt.Sprintf("%dx%d", e.Surface.Geometry.Width, e.Surface.Geometry.Height)})
			case *xpra.SurfaceDestroyedEvent:
				logger.Info("Surface destroyed", xpra.Field{Key: "wid", Value: e.ID}, xpra.Field{Key: "reason", Value: e.Reason})
			case *xpra.AudioEvent:
				logger.Info("Audio", xpra.Field{Key: "state", Value: e.State}, xpra.Field{Key: "codec", Value: e.Codec})
			case *xpra.DisconnectedEvent:
				return e.Err
			default:
				logger.Debug("Event", xpra.Field{Key: "name", Value: ev.Name()})
			}
		}
	}
}

// newStatusRouter serves metrics, a liveness probe and the surface list.
func newStatusRouter(client *xpra.Client, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := client.Negotiated(); !ok {
			http.Error(w, "not connected", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/surfaces", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		if err := enc.Encode(client.Surfaces()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	r.Get("/surfaces/{wid}", func(w http.ResponseWriter, req *http.Request) {
		var wid int
		if _, err := fmt.Sscanf(chi.URLParam(req, "wid"), "%d", &wid); err != nil {
			http.Error(w, "invalid surface id", http.StatusBadRequest)
			return
		}
		info, ok := client.Surface(wid)
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		_ = enc.Encode(info)
	})
	return r
}
