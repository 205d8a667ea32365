package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nimbus/internal/experiments/handler"
	"nimbus/internal/experiments/metrics"
	"nimbus/internal/platform/httpserver"
	platformmetrics "nimbus/internal/platform/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Enroll if needed and serve the read API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the read API")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "separate listen address for /metrics; empty serves it on --addr")
	return cmd
}

func (a *app) serve(ctx context.Context, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, cleanup, err := a.newEngine(ctx, metrics.New(reg))
	if err != nil {
		return err
	}
	defer cleanup()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if metricsAddr == "" {
		router.Handle("/metrics", metricsHandler)
	}
	handler.New(engine, a.logger, platformmetrics.NewHTTP(reg)).Register(router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "serving read API", "addr", a.cfg.Server.Addr)
		return httpserver.Run(gctx, httpserver.New(a.cfg.Server.Addr, router))
	})
	if metricsAddr != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler)
			a.logger.InfoContext(gctx, "serving metrics", "addr", metricsAddr)
			return httpserver.Run(gctx, httpserver.New(metricsAddr, mux))
		})
	}
	return g.Wait()
}
