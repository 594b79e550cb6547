package detection

import (
	"sync"

	"github.com/shortontech/gotriage/internal/event"
)

// Pipeline runs the fixed stage sequence over a batch. A Pipeline holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	concurrent bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrentExtraction runs the three feature extractors on separate
// goroutines. Results are identical either way.
func WithConcurrentExtraction(enabled bool) Option {
	return func(p *Pipeline) { p.concurrent = enabled }
}

// NewPipeline builds a pipeline. Extraction is concurrent by default.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{concurrent: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes every stage and returns the full analysis record.
func (p *Pipeline) Run(events []event.Event, query string) Analysis {
	a := RouteIntent(Analysis{Query: query, Events: events})
	a = p.extract(a)
	a = AggregateRisk(a)
	return ClassifyHypotheses(a)
}

// Analyze executes the pipeline and returns the output projection.
func (p *Pipeline) Analyze(events []event.Event, query string) AnalysisResult {
	return p.Run(events, query).Result()
}

// extract runs the sequence, payload and behavior stages. None of them reads
// another's output so they may run in any order.
func (p *Pipeline) extract(a Analysis) Analysis {
	if !p.concurrent {
		a = AnalyzeSequence(a)
		a = InspectPayload(a)
		return ProfileBehavior(a)
	}

	var seq, payload, behavior FeatureSet
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		seq = analyzeSequence(a.Events)
	}()
	go func() {
		defer wg.Done()
		payload = inspectPayload(a.Events)
	}()
	go func() {
		defer wg.Done()
		behavior = profileBehavior(a.Events)
	}()
	wg.Wait()

	a.Sequence = seq
	a.Payload = payload
	a.Behavior = behavior
	return a
}
