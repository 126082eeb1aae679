package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"flowgate/internal/adapter/cdp"
	"flowgate/internal/capture"
	"flowgate/internal/channel"
	"flowgate/internal/config"
	"flowgate/internal/intercept"
	"flowgate/internal/logger"
	"flowgate/internal/poller"
	"flowgate/internal/recorder"
	"flowgate/internal/scope"
	"flowgate/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func captureCmd(configPath *string) *cobra.Command {
	var devtools, target string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Attach to a browser, record traffic and hold flows on command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if devtools != "" {
				cfg.Capture.DevToolsURL = devtools
			}
			if target != "" {
				cfg.Capture.Target = target
			}
			return runCapture(cfg, l.With("proc", "capture"))
		},
	}
	cmd.Flags().StringVar(&devtools, "devtools", "", "DevTools URL, overrides capture.devToolsURL")
	cmd.Flags().StringVar(&target, "target", "", "target ID or URL fragment, overrides capture.target")
	return cmd
}

func runCapture(cfg *config.Config, l logger.Logger) error {
	st, err := openStores(cfg, l)
	if err != nil {
		return err
	}
	defer st.Close()

	matcher, err := scope.New(cfg.Capture.Scope)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ch := channel.NewStore(storage.NewStateRepo(st.main), storage.NewHeldFlowRepo(st.ns), l)
	coord := intercept.New(ch, intercept.Options{
		SwitchPolicy: cfg.Capture.OnProjectSwitch,
		Scope:        matcher,
		Metrics:      intercept.NewMetrics(reg),
		Logger:       l.With("component", "intercept"),
	})
	rec := recorder.New(storage.NewRequestRepo(st.ns), l.With("component", "recorder"))
	h := capture.New(coord, rec, l)

	ctx, stop := signalContext()
	defer stop()

	engine := cdp.New(cdp.Config{
		DevToolsURL: cfg.Capture.DevToolsURL,
		Target:      cfg.Capture.Target,
		Logger:      l.With("component", "cdp"),
	}, h)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Capture.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Capture.MetricsAddr, reg, l)
	}

	p := poller.New(cfg.PollInterval(), coord.Tick,
		poller.WithLogger(l.With("component", "poller")),
		poller.WithRegisterer(reg),
	)
	l.Info("捕获进程启动", "devtools", cfg.Capture.DevToolsURL, "interval", cfg.PollInterval().String())
	p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := coord.Shutdown(shutdownCtx); n > 0 {
		l.Info("退出前放行挂起流", "count", n)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, l logger.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	l.Info("指标服务监听", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Err(err, "指标服务退出")
	}
}
