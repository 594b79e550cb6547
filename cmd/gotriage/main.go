package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shortontech/gotriage/internal/alert"
	"github.com/shortontech/gotriage/internal/event/detection"
	httpx "github.com/shortontech/gotriage/internal/http"
	"github.com/shortontech/gotriage/internal/logging"
	"github.com/shortontech/gotriage/internal/logsource"
	"github.com/shortontech/gotriage/internal/metrics"
	"github.com/shortontech/gotriage/internal/sink"
	"github.com/shortontech/gotriage/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		host, port := healthCheckTarget(cfg.ServerAddr)
		if err := performHealthCheck(host, port); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("gotriage exited", zap.Error(err))
	}
}

// run wires every component and blocks until ctx is cancelled or the API
// server fails.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	appMetrics := metrics.InitMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig(), appMetrics, logger)
	if err := metricsServer.Start(ctx); err != nil {
		return err
	}

	source, err := logsource.New(cfg)
	if err != nil {
		_ = metricsServer.Shutdown(context.Background())
		return fmt.Errorf("log source: %w", err)
	}
	logger.Info("log source ready", zap.String("source", source.Name()))

	sinks, ws := initializeSinks(ctx, cfg.Outputs, logger)
	emit := createEmitFunc(sinks, appMetrics, logger)

	pipeline := detection.NewPipeline(detection.WithConcurrentExtraction(cfg.PipelineConcurrent))

	env := httpx.Env{
		Cfg:      cfg,
		Pipeline: pipeline,
		Source:   source,
		Mock:     mockSource(cfg),
		Emit:     emit,
		HMACAuth: initializeHMACAuth(cfg, logger),
		Metrics:  appMetrics,
		Logger:   logger,
	}
	if ws != nil {
		env.Alerts = ws
	}

	if cfg.TestMode {
		runTestMode(pipeline, emit, logger)
	}

	srv := httpx.NewServer(cfg.ServerAddr, httpx.NewRouter(env))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(srv, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		return waitForShutdown(srv, metricsServer, sinks, source, logger)
	})
	return g.Wait()
}

func serve(srv *http.Server, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	logger.Info("gotriage listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// initializeSinks starts every configured output. Unknown outputs and sinks
// that fail to start are logged and skipped. The websocket sink is also
// returned on its own so the router can mount it.
func initializeSinks(ctx context.Context, outputs []string, logger *zap.Logger) ([]sink.Sink, *sink.WSSink) {
	var sinks []sink.Sink
	var ws *sink.WSSink

	for _, out := range outputs {
		var s sink.Sink
		switch strings.ToLower(out) {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv().WithLogger(logger)
		case "ws":
			if ws != nil {
				continue
			}
			ws = sink.NewWSSink(logger)
			s = ws
		default:
			logger.Warn("unknown output, skipping", zap.String("output", out))
			continue
		}

		if err := s.Start(ctx); err != nil {
			logger.Error("failed to start sink", zap.String("sink", s.Name()), zap.Error(err))
			if s == ws {
				ws = nil
			}
			continue
		}
		logger.Info("sink started", zap.String("sink", s.Name()))
		sinks = append(sinks, s)
	}
	return sinks, ws
}

// initializeHMACAuth returns nil when signatures are neither configured nor
// required.
func initializeHMACAuth(cfg config.Config, logger *zap.Logger) *httpx.HMACAuth {
	if cfg.HMACSecret == "" && !cfg.RequireHMAC {
		return nil
	}
	if cfg.RequireHMAC && cfg.HMACSecret == "" {
		logger.Warn("REQUIRE_HMAC is set without HMAC_SECRET; signed submissions will be rejected")
	}
	return httpx.NewHMACAuth(cfg.HMACSecret, cfg.RequireHMAC, logger)
}

// createEmitFunc fans an alert out to every sink. A failing sink does not
// stop delivery to the others.
func createEmitFunc(sinks []sink.Sink, m *metrics.Metrics, logger *zap.Logger) func(alert.Alert) {
	return func(a alert.Alert) {
		for _, s := range sinks {
			if err := s.Enqueue(a); err != nil {
				m.IncrementSinkErrors(s.Name(), "enqueue")
				logger.Error("sink enqueue failed",
					zap.String("sink", s.Name()),
					zap.String("alert_id", a.AlertID),
					zap.Error(err))
				continue
			}
			m.IncrementAlertsEmitted(s.Name())
		}
	}
}

// mockSource backs /logs: the configured file when set, else the embedded
// batch.
func mockSource(cfg config.Config) logsource.Source {
	if cfg.SourceFile != "" {
		return logsource.NewFileSource(cfg.SourceFile)
	}
	return logsource.NewStaticSource()
}

// waitForShutdown stops the servers, then closes sinks and the source.
func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink, source logsource.Source, logger *zap.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server: %w", err))
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	if c, ok := source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close log source", zap.String("source", source.Name()), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// healthCheckTarget derives the address to check from SERVER_ADDR.
func healthCheckTarget(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", "19890"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port
}

// performHealthCheck calls /healthz, for container health checks.
func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("unexpected health check response: %q", body)
	}
	return nil
}
