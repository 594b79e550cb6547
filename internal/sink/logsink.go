package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shortontech/gotriage/internal/alert"
)

// LogSink appends one JSON alert per line to LOG_PATH, or to stdout when
// LOG_PATH is "stdout".
type LogSink struct {
	dst string

	mu sync.Mutex
	f  *os.File
	w  io.Writer
}

func NewLogSink() *LogSink {
	return &LogSink{dst: getEnvOr("LOG_PATH", "alerts.ndjson")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dst == "stdout" {
		s.w = os.Stdout
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log %s: %w", s.dst, err)
	}
	s.f = f
	s.w = f
	return nil
}

func (s *LogSink) Enqueue(a alert.Alert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to serialize alert: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("log sink not started")
	}
	_, err = s.w.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
