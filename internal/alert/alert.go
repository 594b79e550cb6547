package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/gotriage/internal/event/detection"
)

// Alert is the envelope delivered to sinks when an analysis selects a label.
type Alert struct {
	AlertID    string                   `json:"alert_id"`
	TS         string                   `json:"ts"`
	Source     string                   `json:"source"`
	Query      string                   `json:"query,omitempty"`
	EventCount int                      `json:"event_count"`
	Result     detection.AnalysisResult `json:"result"`
}

// New wraps a result in an envelope with a fresh id and timestamp.
func New(source, query string, eventCount int, result detection.AnalysisResult) Alert {
	return Alert{
		AlertID:    uuid.NewString(),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		Source:     source,
		Query:      query,
		EventCount: eventCount,
		Result:     result,
	}
}

// Type is the label that triggered the alert.
func (a Alert) Type() string {
	return string(a.Result.AlertType)
}

// ShouldEmit reports whether a result carries an alert worth delivering.
func ShouldEmit(result detection.AnalysisResult) bool {
	return result.AlertType != detection.AlertNone
}
