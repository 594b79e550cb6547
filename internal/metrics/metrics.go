package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all the Prometheus metrics for gotriage
type Metrics struct {
	// Counters
	Analyses          *prometheus.CounterVec
	Alerts            *prometheus.CounterVec
	SourceFetchErrors *prometheus.CounterVec
	AlertsEmitted     *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec

	// Histograms
	RiskScore        prometheus.Histogram
	PipelineDuration prometheus.Histogram
	HTTPDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled     bool
	Addr        string
	TLSCert     string
	TLSKey      string
	ClientCA    string
	RequireTLS  bool
	RequireAuth bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:     getBool("METRICS_ENABLED", false),
		Addr:        getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:     getOr("METRICS_TLS_CERT", ""),
		TLSKey:      getOr("METRICS_TLS_KEY", ""),
		ClientCA:    getOr("METRICS_CLIENT_CA", ""),
		RequireTLS:  getBool("METRICS_REQUIRE_TLS", false),
		RequireAuth: getBool("METRICS_REQUIRE_AUTH", false),
	}
}

// NewMetrics creates all gotriage metrics and registers them with the
// default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry registers the metrics with reg and serves them
// from g.
func NewMetricsWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_analyses_total",
				Help: "Total pipeline runs by analysis mode",
			},
			[]string{"mode"},
		),

		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_alerts_total",
				Help: "Total analyses that selected an alert, by alert type",
			},
			[]string{"alert_type"},
		),

		SourceFetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_source_fetch_errors_total",
				Help: "Total failures fetching a batch from a log source",
			},
			[]string{"source"},
		),

		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_alerts_emitted_total",
				Help: "Total alerts delivered by sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gotriage_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gotriage_risk_score",
				Help:    "Distribution of aggregated risk scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.25, 1.5},
			},
		),

		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gotriage_pipeline_duration_seconds",
				Help:    "Time spent running the analysis pipeline",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gotriage_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),

		gatherer: g,
	}

	// Register all metrics
	reg.MustRegister(
		m.Analyses,
		m.Alerts,
		m.SourceFetchErrors,
		m.AlertsEmitted,
		m.SinkErrors,
		m.HTTPRequests,
		m.RiskScore,
		m.PipelineDuration,
		m.HTTPDuration,
	)

	return m
}

// Handler serves the registry the metrics were created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
	logger *zap.Logger
}

// NewServer creates a new metrics server
func NewServer(config Config, m *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	// Add a simple health check endpoint for the metrics server
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) // Ignore write errors for health check
	})

	srv := &http.Server{
		Addr:    config.Addr,
		Handler: mux,
		// Security: Set timeouts to prevent resource exhaustion
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// Configure mTLS if client CA is provided
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logger.Warn("metrics: failed to load client CA", zap.Error(err))
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logger.Info("metrics: mTLS enabled", zap.String("client_ca", config.ClientCA))
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{
		server: srv,
		config: config,
		logger: logger,
	}
}

func (s *Server) useTLS() bool {
	return s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != ""
}

// Start binds the listener and serves in a separate goroutine. Bind errors
// are returned directly.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.config.Addr, err)
	}

	go func() {
		var err error
		if s.useTLS() {
			s.logger.Info("metrics: HTTPS server listening", zap.String("addr", ln.Addr().String()))
			err = s.server.ServeTLS(ln, s.config.TLSCert, s.config.TLSKey)
		} else {
			s.logger.Info("metrics: HTTP server listening", zap.String("addr", ln.Addr().String()))
			err = s.server.Serve(ln)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics: server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("metrics: shutting down server")
	return s.server.Shutdown(ctx)
}

// Helper functions
func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// loadCertPool reads PEM certificates from certFile.
func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// InitMetrics initializes the process-wide metrics instance on the default
// registry.
func InitMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// Convenience methods for common operations. All of them accept a nil
// receiver so callers can run without metrics.

// ObserveAnalysis records one pipeline run.
func (m *Metrics) ObserveAnalysis(mode, alertType string, risk float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(mode).Inc()
	if alertType != "" {
		m.Alerts.WithLabelValues(alertType).Inc()
	}
	m.RiskScore.Observe(risk)
	m.PipelineDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncrementSourceFetchErrors(source string) {
	if m == nil {
		return
	}
	m.SourceFetchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementAlertsEmitted(sink string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
