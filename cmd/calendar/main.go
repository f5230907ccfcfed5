package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/staffbook/scheduling/internal/api/router"
	"github.com/staffbook/scheduling/internal/authority"
	"github.com/staffbook/scheduling/internal/calendarview"
	"github.com/staffbook/scheduling/internal/calendarview/wsurface"
	appconfig "github.com/staffbook/scheduling/internal/config"
	"github.com/staffbook/scheduling/internal/observability/metrics"
	"github.com/staffbook/scheduling/internal/schedule"
	"github.com/staffbook/scheduling/internal/slots"
	"github.com/staffbook/scheduling/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling calendar server",
		"env", cfg.Env,
		"port", cfg.Port,
		"authority", cfg.AuthorityBaseURL,
	)

	schedMetrics := metrics.NewSchedulingMetrics(nil)

	client := authority.NewClient(
		cfg.AuthorityBaseURL,
		authority.StaticToken(cfg.AuthorityCSRFToken),
		logger.Component("authority"),
		authority.WithTimeout(cfg.AuthorityTimeout),
	)

	var coordClient schedule.AuthorityClient = client
	if redisClient := buildRedisClient(context.Background(), cfg, logger); redisClient != nil {
		cache := authority.NewScheduleCache(redisClient, cfg.ScheduleCacheTTL)
		coordClient = authority.NewCachedClient(client, cache, logger.Component("schedule_cache"))
		logger.Info("day-schedule cache enabled", "ttl", cfg.ScheduleCacheTTL.String())
	}

	coordinator := schedule.NewCoordinator(coordClient, logger.Component("schedule"), schedMetrics, nil)
	surface := wsurface.NewHandler(nil, logger.Component("wsurface"))
	adapter := calendarview.NewAdapter(coordinator, surface, logger.Component("calendarview"), schedMetrics)
	surface.BindView(adapter)
	coordinator.SetListener(adapter.Listener)

	engine := slots.NewEngine(client, logger.Component("slots"), nil)
	surface.BindBookingFlow(func() *slots.Picker { return slots.NewPicker(engine) }, client)

	// Seed the view with today's schedule; clients can navigate from there.
	loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.AuthorityTimeout)
	if _, err := coordinator.LoadDay(loadCtx, time.Now()); err != nil {
		logger.Warn("initial day load failed, serving empty view", "error", err.Error())
	}
	loadCancel()

	r := router.New(&router.Config{
		Logger:          logger,
		CalendarSurface: surface,
		MetricsHandler:  promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildRedisClient returns a configured Redis client or nil when disabled.
// The cache is optional: without redis every day load hits the authority.
func buildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, running without schedule cache", "error", err.Error())
		return nil
	}
	return client
}
