package main

import (
	"go.uber.org/zap"

	"github.com/shortontech/gotriage/internal/alert"
	"github.com/shortontech/gotriage/internal/event"
	"github.com/shortontech/gotriage/internal/event/detection"
)

// testBatch is one built-in scenario.
type testBatch struct {
	Name   string
	Query  string
	Events []event.Event
}

func userID(id int64) *int64 { return &id }

// generateTestBatches creates sample attack and benign batches for
// exercising the sinks.
func generateTestBatches() []testBatch {
	const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	return []testBatch{
		{
			Name:  "credential stuffing",
			Query: "why are logins failing",
			Events: []event.Event{
				{Method: "POST", IP: "203.0.113.42", Endpoint: "/api/login", ResponseCode: 401,
					Body: event.Payload(`{"username":"alice","password":"123456"}`), UserAgent: "python-requests/2.31"},
				{Method: "POST", IP: "203.0.113.42", Endpoint: "/api/login", ResponseCode: 401,
					Body: event.Payload(`{"username":"bob","password":"password"}`), UserAgent: "python-requests/2.31"},
				{Method: "POST", IP: "203.0.113.42", Endpoint: "/api/login", ResponseCode: 401,
					Body: event.Payload(`{"username":"carol","password":"qwerty"}`), UserAgent: "python-requests/2.31"},
			},
		},
		{
			Name: "sql injection",
			Events: []event.Event{
				{Method: "GET", IP: "198.51.100.7", Endpoint: "/api/search", ResponseCode: 500,
					Params: event.TextPayload("q=1' OR 1=1 --"), UserAgent: "sqlmap/1.7.2#stable"},
				{Method: "GET", IP: "198.51.100.7", Endpoint: "/api/search", ResponseCode: 200,
					Params: event.TextPayload("q=1 UNION SELECT username, password FROM users"), UserAgent: "sqlmap/1.7.2#stable"},
			},
		},
		{
			Name:  "object walk with order replay",
			Query: "explain the behavior",
			Events: []event.Event{
				{Method: "GET", Endpoint: "/api/users/41", ResponseCode: 200, UserID: userID(456), UserAgent: browserUA},
				{Method: "GET", Endpoint: "/api/users/42", ResponseCode: 200, UserID: userID(456), UserAgent: browserUA},
				{Method: "POST", Endpoint: "/api/orders", ResponseCode: 201, UserID: userID(456), UserAgent: browserUA},
			},
		},
		{
			Name: "benign browsing",
			Events: []event.Event{
				{Method: "GET", Endpoint: "/api/products", ResponseCode: 200, UserID: userID(7), UserAgent: browserUA},
				{Method: "GET", Endpoint: "/api/cart", ResponseCode: 200, UserID: userID(7), UserAgent: browserUA},
			},
		},
	}
}

// runTestMode analyzes every built-in batch and emits the resulting alerts.
// It returns the number of alerts emitted.
func runTestMode(p *detection.Pipeline, emit func(alert.Alert), logger *zap.Logger) int {
	logger.Info("test mode: analyzing built-in batches")

	emitted := 0
	for _, b := range generateTestBatches() {
		result := p.Analyze(b.Events, b.Query)
		logger.Info("test mode: batch analyzed",
			zap.String("batch", b.Name),
			zap.String("alert_type", string(result.AlertType)),
			zap.Float64("risk_score", result.RiskScore),
			zap.Float64("alert_confidence", result.AlertConfidence),
		)
		if !alert.ShouldEmit(result) {
			continue
		}
		emit(alert.New("testmode", b.Query, len(b.Events), result))
		emitted++
	}

	logger.Info("test mode: done", zap.Int("alerts", emitted))
	return emitted
}
