package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/shortontech/gotriage/internal/alert"
	"github.com/shortontech/gotriage/internal/event"
	"github.com/shortontech/gotriage/internal/event/detection"
	"github.com/shortontech/gotriage/internal/logsource"
	"github.com/shortontech/gotriage/internal/metrics"
	cfg "github.com/shortontech/gotriage/pkg/config"
)

// AnalysisIDHeader names the response header carrying the analysis id. When
// the analysis raised an alert, the id equals the alert's alert_id.
const AnalysisIDHeader = "X-Analysis-Id"

const defaultMaxBodyBytes = 1 << 20

type Env struct {
	Cfg      cfg.Config
	Pipeline *detection.Pipeline
	Source   logsource.Source // batch source for /analyze/source
	Mock     logsource.Source // what /logs serves
	Emit     func(alert.Alert) // injected sink fan-out
	HMACAuth *HMACAuth
	Alerts   http.Handler // websocket alert stream, nil when disabled
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Env) pipeline() *detection.Pipeline {
	if e.Pipeline == nil {
		return detection.NewPipeline()
	}
	return e.Pipeline
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// GET /logs serves the mock access-log batch.
func (e Env) Logs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	src := e.Mock
	if src == nil {
		src = logsource.NewStaticSource()
	}
	data, err := logsource.Raw(src)
	if err != nil {
		e.logger().Error("serve mock logs", zap.String("source", src.Name()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "mock logs unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

// POST /analyze accepts a JSON array of events or {"events": [...], "query": "..."}.
// A query URL parameter overrides the one in the body.
func (e Env) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	limit := e.Cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !e.HMACAuth.VerifyHMAC(r, body) {
		writeError(w, http.StatusUnauthorized, "invalid or missing signature")
		return
	}

	events, query, err := decodeSubmission(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q := r.URL.Query(); q.Has("query") {
		query = q.Get("query")
	}

	id, result := e.analyze("api", query, events)
	writeResult(w, id, result)
}

// GET /analyze/source fetches a batch from the configured source and
// analyzes it.
func (e Env) AnalyzeSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "no log source configured")
		return
	}

	ctx := r.Context()
	if e.Cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Cfg.SourceTimeout)
		defer cancel()
	}

	events, err := e.Source.Fetch(ctx)
	if err != nil {
		e.Metrics.IncrementSourceFetchErrors(e.Source.Name())
		e.logger().Warn("log source fetch failed", zap.String("source", e.Source.Name()), zap.Error(err))
		if errors.Is(err, logsource.ErrFetch) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "log source failed")
		return
	}

	id, result := e.analyze(e.Source.Name(), r.URL.Query().Get("query"), events)
	writeResult(w, id, result)
}

// analyze runs the pipeline, records metrics and emits an alert when a label
// was selected.
func (e Env) analyze(source, query string, events []event.Event) (string, detection.AnalysisResult) {
	start := time.Now()
	result := e.pipeline().Analyze(events, query)
	e.Metrics.ObserveAnalysis(string(result.Mode), string(result.AlertType), result.RiskScore, time.Since(start))

	id := uuid.NewString()
	if alert.ShouldEmit(result) && e.Emit != nil {
		a := alert.New(source, query, len(events), result)
		a.AlertID = id
		e.Emit(a)
	}
	return id, result
}

// decodeSubmission accepts either a bare batch or an object wrapping one.
func decodeSubmission(body []byte) ([]event.Event, string, error) {
	if !gjson.ValidBytes(body) {
		return nil, "", errors.New("invalid json")
	}
	root := gjson.ParseBytes(body)
	switch {
	case root.IsArray():
		events, err := event.DecodeBatch(body)
		if err != nil {
			return nil, "", fmt.Errorf("invalid events: %w", err)
		}
		return events, "", nil
	case root.IsObject():
		raw := root.Get("events")
		if !raw.Exists() {
			return nil, "", errors.New(`missing "events"`)
		}
		events, err := event.DecodeBatch([]byte(raw.Raw))
		if err != nil {
			return nil, "", fmt.Errorf("invalid events: %w", err)
		}
		query := ""
		if q := root.Get("query"); q.Type == gjson.String {
			query = q.Str
		}
		return events, query, nil
	}
	return nil, "", errors.New("expected a JSON array or object")
}

func writeResult(w http.ResponseWriter, id string, result detection.AnalysisResult) {
	w.Header().Set(AnalysisIDHeader, id)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
