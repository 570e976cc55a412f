package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/paygate/internal/api"
	"github.com/alecgard/paygate/internal/config"
	"github.com/alecgard/paygate/internal/facilitator"
	"github.com/alecgard/paygate/internal/metering"
	"github.com/alecgard/paygate/internal/metrics"
	"github.com/alecgard/paygate/internal/proxy"
	"github.com/alecgard/paygate/internal/ratelimit"
	"github.com/alecgard/paygate/internal/router"
	"github.com/alecgard/paygate/internal/telemetry"
	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the paygate proxy server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	networks, err := cfg.Networks()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	m := metrics.New()
	m.RegisterDBCollector(cfg.Database.Driver, st.stats)

	collector := metering.NewCollector(st.usage, cfg.Metering.BatchSize, cfg.Metering.FlushInterval)
	collectorDone := make(chan struct{})
	go func() {
		collector.Start(ctx)
		close(collectorDone)
	}()

	fac, err := newFacilitator(cfg)
	if err != nil {
		return err
	}
	extras := facilitatorExtras(ctx, fac)

	mcpRouter := router.New(
		tenant.NewCache(st.tenants, cfg.Proxy.ConfigTTL),
		router.DialerConnector(upstream.NewDialer(nil)),
		fac,
		networks,
		cfg.BaseURL(),
	)
	mcpRouter.SetMetrics(m)
	tracer := telemetry.Tracer("github.com/alecgard/paygate/internal/proxy")
	mcpRouter.SetHandlerOptions(func(h *proxy.Handler) {
		h.SetCollector(collector)
		h.SetMetrics(m)
		h.SetTracer(tracer)
		h.SetNetworkExtra(extras)
		h.SetMaxTimeoutSeconds(cfg.Proxy.MaxTimeoutSeconds)
		h.SetMaxRequestSize(cfg.Proxy.MaxRequestSize)
		h.SetUpstreamTimeout(cfg.Proxy.UpstreamTimeout)
	})
	defer mcpRouter.Close()

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
	go sweepLimiter(ctx, limiter, cfg.RateLimit.Window)

	handler := api.NewRouter(api.RouterDeps{
		MCP:            mcpRouter,
		Limiter:        limiter,
		RateOverrides:  cfg.RateLimit.Tenants,
		Metrics:        m,
		Networks:       networks,
		Port:           cfg.Server.Port,
		Version:        version,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting",
			"addr", cfg.Addr(),
			"public_url", cfg.BaseURL(),
			"facilitator", fac.BaseURL(),
			"networks", networks.IDs(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	collector.Stop()
	<-collectorDone
	return err
}

// newFacilitator builds the facilitator client, signing requests with a CDP
// API key when one is configured.
func newFacilitator(cfg *config.Config) (*facilitator.Client, error) {
	var opts []facilitator.Option
	if cfg.Facilitator.CDPAPIKeyID != "" {
		auth, err := facilitator.NewCDPAuth(cfg.Facilitator.CDPAPIKeyID, cfg.Facilitator.CDPAPIKeySecret, cfg.Facilitator.URL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, facilitator.WithAuthProvider(auth))
	}
	return facilitator.New(cfg.Facilitator.URL, cfg.Facilitator.Timeout, opts...), nil
}

// facilitatorExtras fetches per-network requirement extras from the
// facilitator. Failure is not fatal; Solana offers then lack a fee payer.
func facilitatorExtras(ctx context.Context, fac *facilitator.Client) map[string]map[string]any {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	supported, err := fac.Supported(ctx)
	if err != nil {
		slog.Warn("could not fetch facilitator capabilities", "facilitator", fac.BaseURL(), "error", err)
		return nil
	}
	extras := supported.NetworkExtras()
	for id := range extras {
		slog.Info("facilitator network extras loaded", "network", id)
	}
	return extras
}

func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limit buckets swept", "count", n)
			}
		}
	}
}
