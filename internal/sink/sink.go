package sink

import (
	"context"

	"github.com/shortontech/gotriage/internal/alert"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(a alert.Alert) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
