package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wx-station-poller/internal/circuitbreaker"
	"github.com/kjstillabower/wx-station-poller/internal/config"
	httphandler "github.com/kjstillabower/wx-station-poller/internal/http"
	"github.com/kjstillabower/wx-station-poller/internal/lifecycle"
	"github.com/kjstillabower/wx-station-poller/internal/observability"
	"github.com/kjstillabower/wx-station-poller/internal/poller"
	"github.com/kjstillabower/wx-station-poller/internal/publish"
	"github.com/kjstillabower/wx-station-poller/internal/station"
	"github.com/kjstillabower/wx-station-poller/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger("wx-station-poller")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	fileWriter, err := publish.NewFileWriter(cfg.OutputFile, cfg.OutputMode)
	if err != nil {
		logger.Fatal("output file", zap.Error(err))
	}
	latest := publish.NewLatest()
	publishers := []publish.Publisher{fileWriter, latest}
	logger.Info("starting",
		zap.String("station", cfg.StationAddress),
		zap.String("output_file", fileWriter.Path()),
		zap.Duration("interval", cfg.PollInterval),
		zap.Int("readings_per_cycle", cfg.PollCount),
	)

	var memcached *publish.Memcached
	if cfg.MemcachedAddrs != "" {
		memcached, err = publish.NewMemcached(cfg.MemcachedAddrs, cfg.MemcachedKey, cfg.MemcachedTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached publisher", zap.Error(err))
		}
		publishers = append(publishers, memcached)
		logger.Info("memcached publisher enabled", zap.String("addrs", cfg.MemcachedAddrs), zap.String("key", cfg.MemcachedKey))
	}

	var mqttPub *publish.MQTT
	if cfg.MQTTBroker != "" {
		mqttPub, err = publish.NewMQTT(publish.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      byte(cfg.MQTTQoS),
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("mqtt publisher", zap.Error(err))
		}
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mqttPub.Connect(connectCtx); err != nil {
			logger.Warn("mqtt initial connect failed, retrying in background", zap.Error(err))
		}
		connectCancel()
		publishers = append(publishers, mqttPub)
		logger.Info("mqtt publisher enabled", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.MQTTTopic))
	}

	queue := poller.NewChannelSink(cfg.QueueSize)
	observability.RegisterQueueDepth(queue.Depth)
	dispatcher := publish.NewDispatcher(logger.Named("publish"), cfg.PublishTimeout, publishers...)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(queue)
	}()

	links := poller.StationLinks(station.Config{
		Address:        cfg.StationAddress,
		ConnectTimeout: cfg.ConnectTimeout,
		WakeupTimeout:  cfg.WakeupTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		DrainTimeout:   cfg.DrainTimeout,
		WakeupAttempts: cfg.WakeupAttempts,
	}, logger.Named("station"))
	cycle, err := poller.NewCycle(links, cfg.PollCount, logger.Named("poller"))
	if err != nil {
		logger.Fatal("poll cycle", zap.Error(err))
	}

	outcomes := traffic.NewTracker()
	schedCfg := poller.SchedulerConfig{Interval: cfg.PollInterval, Outcomes: outcomes}
	if cfg.BreakerEnabled {
		schedCfg.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(from.String(), to.String(), int(to))
				logger.Info("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.BreakerFailureThreshold), zap.Duration("timeout", cfg.BreakerTimeout))
	}
	scheduler := poller.NewScheduler(cycle, queue, schedCfg, logger.Named("poller"))

	state := lifecycle.New()
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}
	if memcached != nil {
		healthConfig.MemcachedPing = memcached.Ping
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(latest, outcomes, state, healthConfig, logger)
	if memcached != nil {
		handler.SetLatestFallback(memcached)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, limiter, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = scheduler.Run(ctx)
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	deadline := time.NewTimer(cfg.ShutdownTimeout)
	defer deadline.Stop()

	// The queue may only be closed once the scheduler can no longer send on it.
	select {
	case <-schedDone:
		close(queue)
		select {
		case <-dispatchDone:
		case <-deadline.C:
			logger.Warn("reading queue not drained", zap.Int("remaining", queue.Depth()))
		}
	case <-deadline.C:
		logger.Warn("poll cycle still running at shutdown deadline")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if mqttPub != nil {
		mqttPub.Close()
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
