package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/diligencelabs/dialer/internal/events"
)

// Subscriber delivers pipeline events.
type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// RunnerOptions tune how stages are scheduled.
type RunnerOptions struct {
	// MaxStageAttempts bounds how often a retriable stage result is re-run.
	MaxStageAttempts int
	// RetryBaseDelay is the first backoff step between stage attempts.
	RetryBaseDelay time.Duration
	// TranscriptionConcurrency caps concurrent transcription runs, which
	// hold recordings in memory.
	TranscriptionConcurrency int
	// TriangulationConcurrency caps concurrent triangulation runs.
	TriangulationConcurrency int
	// TriangulationDebounce coalesces bursts of triangulation triggers for
	// the same hypothesis into one run.
	TriangulationDebounce time.Duration
}

// Runner subscribes the pipeline stages to their subjects and schedules each
// delivery: bounded retries for retriable failures, concurrency caps for the
// expensive stages, and per-hypothesis debounce for triangulation.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger
	opts     RunnerOptions

	transcribeSem  chan struct{}
	triangulateSem chan struct{}
	debounce       *debouncer
}

func NewRunner(p *Pipeline, opts RunnerOptions, logger *slog.Logger) *Runner {
	if opts.MaxStageAttempts <= 0 {
		opts.MaxStageAttempts = 4
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.TranscriptionConcurrency <= 0 {
		opts.TranscriptionConcurrency = 4
	}
	if opts.TriangulationConcurrency <= 0 {
		opts.TriangulationConcurrency = 2
	}
	if opts.TriangulationDebounce <= 0 {
		opts.TriangulationDebounce = 10 * time.Second
	}
	return &Runner{
		pipeline:       p,
		logger:         logger,
		opts:           opts,
		transcribeSem:  make(chan struct{}, opts.TranscriptionConcurrency),
		triangulateSem: make(chan struct{}, opts.TriangulationConcurrency),
		debounce:       newDebouncer(opts.TriangulationDebounce),
	}
}

// Start wires every stage to its subject. Handlers run until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context, bus Subscriber) error {
	if err := bus.Subscribe(events.SubjectOrchestrate, func(_ string, data []byte) {
		go handle(ctx, r, "orchestrate", data, r.pipeline.Orchestrate)
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(events.SubjectTranscribe, func(_ string, data []byte) {
		go func() {
			select {
			case r.transcribeSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-r.transcribeSem }()
			handle(ctx, r, "transcribe", data, r.pipeline.Transcribe)
		}()
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(events.SubjectExtract, func(_ string, data []byte) {
		go handle(ctx, r, "extract", data, r.pipeline.Extract)
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(events.SubjectValidate, func(_ string, data []byte) {
		var ev events.ValidateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Error("bad event payload", "stage", "triangulate", "error", err)
			return
		}
		// Debounce per hypothesis so a burst of extractions produces one
		// triangulation pass over the full evidence.
		r.debounce.trigger(ev.HypothesisID, func() {
			select {
			case r.triangulateSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-r.triangulateSem }()
			r.run(ctx, "triangulate", func(c context.Context) Result {
				return r.pipeline.Triangulate(c, ev)
			})
		})
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(events.SubjectRedact, func(_ string, data []byte) {
		go handle(ctx, r, "redact", data, r.pipeline.Redact)
	}); err != nil {
		return err
	}

	return nil
}

// handle decodes a payload and runs its stage with the runner's retry
// policy.
func handle[T any](ctx context.Context, r *Runner, stage string, data []byte, fn func(context.Context, T) Result) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Error("bad event payload", "stage", stage, "error", err)
		return
	}
	r.run(ctx, stage, func(c context.Context) Result {
		return fn(c, ev)
	})
}

// run executes a stage, re-running retriable results with exponential
// backoff until they resolve or attempts run out.
func (r *Runner) run(ctx context.Context, stage string, fn func(context.Context) Result) {
	var res Result
	for attempt := 1; attempt <= r.opts.MaxStageAttempts; attempt++ {
		res = fn(ctx)
		if res.Disposition != Retriable {
			break
		}
		if attempt == r.opts.MaxStageAttempts || ctx.Err() != nil {
			break
		}

		wait := r.opts.RetryBaseDelay * (1 << uint(attempt-1))
		r.logger.Warn("stage retrying",
			"stage", stage,
			"attempt", attempt,
			"backoff", wait,
			"error", res.Err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	switch res.Disposition {
	case Completed:
		r.logger.Info("stage completed", "stage", stage)
	case Skipped:
		r.logger.Info("stage skipped", "stage", stage, "reason", res.Reason)
	case Retriable:
		r.logger.Error("stage gave up after retries", "stage", stage, "error", res.Err)
	case Terminal:
		r.logger.Error("stage failed", "stage", stage, "error", res.Err)
	}
}

// debouncer coalesces rapid triggers for the same key into a single delayed
// invocation.
type debouncer struct {
	mu     sync.Mutex
	wait   time.Duration
	timers map[string]*time.Timer
}

func newDebouncer(wait time.Duration) *debouncer {
	return &debouncer{wait: wait, timers: map[string]*time.Timer{}}
}

func (d *debouncer) trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Reset(d.wait)
		return
	}
	d.timers[key] = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}
