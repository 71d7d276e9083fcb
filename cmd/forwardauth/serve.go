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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/accessjwt/forwardauth"
	"github.com/accessjwt/forwardauth/internal/config"
	"github.com/accessjwt/forwardauth/jwks"
	"github.com/accessjwt/forwardauth/metrics"
	redisstore "github.com/accessjwt/forwardauth/storage/redis"
	"github.com/accessjwt/forwardauth/validator"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forward-auth server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "address to listen on (default 0.0.0.0:8080)")
	flags.Duration("refresh-interval", 0, "periodic key-set refresh interval (default 12h)")
	flags.Duration("clock-skew", 0, "tolerance applied to token expiry")
	flags.String("redis-addr", "", "mirror the key set in this Redis instance")
	flags.Bool("metrics", true, "serve Prometheus metrics on /metrics")
	bindFlags(a.v, flags, map[string]string{
		config.ListenAddrKey:      "listen",
		config.RefreshIntervalKey: "refresh-interval",
		config.ClockSkewKey:       "clock-skew",
		config.RedisAddrKey:       "redis-addr",
		config.MetricsEnabledKey:  "metrics",
	})
	return cmd
}

func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	logger := a.logger
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return err
	}

	var (
		m        metrics.Metrics = &metrics.NoopMetrics{}
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewPrometheusMetrics(registry)
	}

	fetcher, err := jwks.NewFetcher(endpoints.CertsURL,
		jwks.WithHTTPClient(jwks.NewHTTPClient(cfg.ConnectTimeout, cfg.FetchTimeout)),
		jwks.WithFetcherLogger(logger),
	)
	if err != nil {
		return err
	}

	coordinatorOpts := []jwks.CoordinatorOption{
		jwks.WithRefreshInterval(cfg.RefreshInterval),
		jwks.WithFetchTimeout(cfg.FetchTimeout),
		jwks.WithLogger(logger),
		jwks.WithMetrics(m),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		coordinatorOpts = append(coordinatorOpts, jwks.WithMirror(redisstore.NewKeySetMirror(rdb, cfg.Redis.Key, cfg.Redis.TTL)))
		logger.WithField("addr", cfg.Redis.Addr).Info("mirroring key set in redis")
	}
	coordinator, err := jwks.NewCoordinator(fetcher, coordinatorOpts...)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"issuer":    endpoints.Issuer,
		"certs_url": endpoints.CertsURL,
	}).Info("starting forwardauth")
	if err := coordinator.Bootstrap(ctx); err != nil {
		logger.WithError(err).Warn("initial key set fetch failed; keys will be fetched on the first token")
	}
	if err := coordinator.Start(); err != nil {
		return err
	}

	v, err := validator.New(
		validator.WithKeyProvider(coordinator),
		validator.WithIssuer(endpoints.Issuer),
		validator.WithAllowedClockSkew(cfg.ClockSkew),
		validator.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	h, err := forwardauth.New(
		forwardauth.WithValidator(v),
		forwardauth.WithKeyManager(coordinator),
		forwardauth.WithLogger(logger),
		forwardauth.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := forwardauth.NewRouter(h, logger)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		_ = coordinator.Stop(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := coordinator.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("periodic refresh did not stop in time")
	}
	logger.Info("server exited")
	return nil
}
