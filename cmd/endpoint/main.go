// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package main runs the MQTT endpoint service: the downstream Kafka sender,
// the command dispatcher, the device authorization client, and the session
// factory the protocol transports mount their connections on. It serves an
// HTTP ingress for publishing, an HTTP API for injecting commands, and the
// usual metrics and health endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fogrise/mqttgate/pkg/auth"
	"github.com/fogrise/mqttgate/pkg/breaker"
	"github.com/fogrise/mqttgate/pkg/command"
	mqerrors "github.com/fogrise/mqttgate/pkg/errors"
	"github.com/fogrise/mqttgate/pkg/health"
	"github.com/fogrise/mqttgate/pkg/metrics"
	"github.com/fogrise/mqttgate/pkg/sender"
	"github.com/fogrise/mqttgate/pkg/session"
)

// Config holds the service configuration.
type Config struct {
	// Observability
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`

	// HTTP API (publish ingress + command injection)
	APIPort int `env:"API_PORT" envDefault:"8081"`

	// Device authorization service
	AuthURL     string        `env:"AUTH_URL"     envDefault:"http://localhost:8089"`
	AuthTimeout time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`

	// Circuit breaker guarding the authorization service
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Downstream Kafka event stream
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"device-events"`

	// Session tuning
	CacheCapacity       int   `env:"AUTH_CACHE_CAPACITY"   envDefault:"128"`
	PublishRateCapacity int64 `env:"PUBLISH_RATE_CAPACITY" envDefault:"0"`
	PublishRateRefill   int64 `env:"PUBLISH_RATE_REFILL"   envDefault:"0"`

	MaxGoroutines   int           `env:"MAX_GOROUTINES"   envDefault:"50000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func main() {
	// .env file is optional
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting MQTT endpoint",
		slog.String("auth_url", cfg.AuthURL),
		slog.String("kafka_topic", cfg.KafkaTopic),
		slog.Int("cache_capacity", cfg.CacheCapacity))

	m := metrics.New("mqttgate")

	cb := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("authorizer circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	authorizer := auth.NewBreakerAuthorizer(auth.NewClient(auth.ClientConfig{
		URL:     cfg.AuthURL,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	}), cb)

	kafkaSender := sender.NewKafka(sender.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		Logger:  logger,
	})
	defer kafkaSender.Close()

	dispatcher := command.NewDispatcher(logger)
	defer dispatcher.Close()

	factory := session.NewFactory(session.FactoryConfig{
		Sender:              kafkaSender,
		Source:              dispatcher,
		Authorizer:          authorizer,
		CacheCapacity:       cfg.CacheCapacity,
		PublishRateCapacity: cfg.PublishRateCapacity,
		PublishRateRefill:   cfg.PublishRateRefill,
		Logger:              logger,
		Metrics:             m,
	})

	checker := health.NewChecker(10 * time.Second)
	checker.Register("authorizer", func(context.Context) error {
		if cb.State() == breaker.StateOpen {
			return errors.New("authorizer circuit breaker is open")
		}
		return nil
	})
	checker.Register("goroutines", func(context.Context) error {
		if count := runtime.NumGoroutine(); count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	ingress := newIngress(factory, logger)
	defer ingress.closeAll()

	startServer(ctx, g, cfg.ShutdownTimeout, fmt.Sprintf(":%d", cfg.MetricsPort), metricsMux(), logger, "metrics")
	startServer(ctx, g, cfg.ShutdownTimeout, fmt.Sprintf(":%d", cfg.HealthPort), healthMux(checker), logger, "health")
	startServer(ctx, g, cfg.ShutdownTimeout, fmt.Sprintf(":%d", cfg.APIPort), apiMux(ingress, dispatcher, logger), logger, "api")

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("endpoint terminated", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("endpoint stopped")
}

// setupLogger creates a structured logger with the given level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func healthMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	return mux
}

// apiMux mounts the publish ingress and the command injection API.
func apiMux(ing *ingress, dispatcher *command.Dispatcher, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Publish ingress: one shared session per application/device pair.
	// The "as" query parameter publishes on behalf of a proxied device.
	mux.HandleFunc("POST /api/v1/publish/{application}/{device}/{channel}", ing.handlePublish)

	// Command injection: deliver a command to every matching inbox
	// subscription. The optional "gateway" query parameter routes a
	// command for an indirectly connected device via its gateway.
	mux.HandleFunc("POST /api/v1/commands/{application}/{device}/{command}", func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read payload", http.StatusBadRequest)
			return
		}

		delivered := dispatcher.Dispatch(command.Command{
			Application: r.PathValue("application"),
			Device:      r.PathValue("device"),
			Gateway:     r.URL.Query().Get("gateway"),
			Name:        r.PathValue("command"),
			ContentType: r.Header.Get("Content-Type"),
			Payload:     payload,
		})

		logger.Debug("command dispatched",
			slog.String("application", r.PathValue("application")),
			slog.String("device", r.PathValue("device")),
			slog.String("command", r.PathValue("command")),
			slog.Int("delivered", delivered))

		if delivered == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// startServer runs an HTTP server until ctx is cancelled, then shuts it
// down gracefully within the timeout.
func startServer(ctx context.Context, g *errgroup.Group, timeout time.Duration, addr string, mux *http.ServeMux, logger *slog.Logger, name string) {
	srv := &http.Server{Addr: addr, Handler: mux}

	g.Go(func() error {
		logger.Info("server started", slog.String("name", name), slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server failed: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

// ingress serves HTTP publishes through the session core, sharing one
// session per application/device pair so the authorization cache and rate
// limit apply exactly as they do for a long-lived connection.
type ingress struct {
	factory  *session.Factory
	logger   *slog.Logger
	mu       sync.Mutex
	sessions map[session.ID]*session.Session
}

func newIngress(factory *session.Factory, logger *slog.Logger) *ingress {
	return &ingress{
		factory:  factory,
		logger:   logger,
		sessions: make(map[session.ID]*session.Session),
	}
}

// discardSink drops command deliveries: HTTP ingress devices have no
// connection to receive commands on.
type discardSink struct{}

func (discardSink) Send(context.Context, string, []byte) error { return nil }

func (i *ingress) session(application, device string) (*session.Session, error) {
	id := session.ID{Application: application, Device: device}

	i.mu.Lock()
	defer i.mu.Unlock()

	if s, ok := i.sessions[id]; ok {
		return s, nil
	}
	s, err := i.factory.New(application, auth.Device{Name: device}, discardSink{})
	if err != nil {
		return nil, err
	}
	i.sessions[id] = s
	return s, nil
}

func (i *ingress) handlePublish(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	s, err := i.session(r.PathValue("application"), r.PathValue("device"))
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	topic := r.PathValue("channel")
	if as := r.URL.Query().Get("as"); as != "" {
		topic = topic + "/" + as
	}

	err = s.Publish(r.Context(), session.PublishRequest{
		Topic:       topic,
		ContentType: r.Header.Get("Content-Type"),
		Payload:     payload,
	})
	w.WriteHeader(publishStatus(err))
	if err != nil {
		fmt.Fprintln(w, err.Error())
	}
}

func (i *ingress) closeAll() {
	i.mu.Lock()
	sessions := i.sessions
	i.sessions = make(map[session.ID]*session.Session)
	i.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close(context.Background())
	}
}

// publishStatus maps a session publish error onto an HTTP status.
func publishStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusAccepted
	case errors.Is(err, mqerrors.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, mqerrors.ErrTopicNameInvalid):
		return http.StatusBadRequest
	case errors.Is(err, mqerrors.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
