package logsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shortontech/gotriage/internal/event"
	"github.com/shortontech/gotriage/pkg/config"
)

// ErrFetch marks every failure to obtain a batch from a log source.
var ErrFetch = errors.New("log fetch failed")

// Source yields the event batch to analyze.
type Source interface {
	Fetch(ctx context.Context) ([]event.Event, error)
	Name() string // Returns the source name for metrics and logging
}

// fetchErr wraps err so that it matches both ErrFetch and err.
func fetchErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFetch, op, err)
}

// New builds the source selected by cfg.LogSource.
func New(cfg config.Config) (Source, error) {
	switch cfg.LogSource {
	case "", "static":
		return NewStaticSource(), nil
	case "file":
		if cfg.SourceFile == "" {
			return nil, errors.New("LOG_SOURCE_FILE is required for the file source")
		}
		return NewFileSource(cfg.SourceFile), nil
	case "http":
		return NewHTTPSource(cfg.SourceURL, cfg.SourceTimeout), nil
	case "postgres":
		if cfg.PGDSN == "" {
			return nil, errors.New("PG_DSN is required for the postgres source")
		}
		db, err := sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		src, err := NewPGSourceWithDB(db, cfg.PGTable, int(cfg.PGLimit))
		if err != nil {
			db.Close()
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown log source %q", cfg.LogSource)
	}
}
