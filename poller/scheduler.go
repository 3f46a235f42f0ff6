// Package poller keeps the dashboard state fresh by polling every backend
// endpoint of the active variant on its own period.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mjasion/balena-home/dashboard/pkg/metrics"
	"github.com/mjasion/balena-home/dashboard/pkg/telemetry"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/mjasion/balena-home/dashboard/state"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options tunes a Scheduler
type Options struct {
	// RequestTimeout bounds a single poll. Zero means no extra bound beyond
	// the backend client's own timeout.
	RequestTimeout time.Duration
	// Sink receives the readings of every applied poll
	Sink func([]*types.Reading)
}

// Scheduler runs all poll jobs from a single cron instance. Each job runs
// once right away, then on its period, and never overlaps with itself.
type Scheduler struct {
	cron   *cron.Cron
	store  *state.Store
	jobs   []Job
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	lastSuccess time.Time
}

// New creates a scheduler for jobs
func New(store *state.Store, jobs []Job, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(newCronLogger(logger, false))),
		store:  store,
		jobs:   jobs,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("poller"),
	}
}

// Start schedules every job and fires each once immediately
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	chain := cron.NewChain(
		cron.Recover(newCronLogger(s.logger, true)),
		cron.SkipIfStillRunning(newCronLogger(s.logger, true)),
	)

	for _, job := range s.jobs {
		wrapped := chain.Then(cron.FuncJob(func() { s.tick(s.ctx, job) }))
		s.cron.Schedule(every(job.Period), wrapped)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			wrapped.Run()
		}()

		s.logger.Info("scheduled poll job",
			zap.String("job", job.Name),
			zap.Duration("period", job.Period),
		)
	}

	s.cron.Start()
}

// Stop cancels in-flight polls and waits for them to finish
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("poller stopped")
}

// LastSuccess returns when any poll last succeeded
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess
}

// LongestPeriod returns the period of the slowest job
func (s *Scheduler) LongestPeriod() time.Duration {
	var longest time.Duration
	for _, job := range s.jobs {
		longest = max(longest, job.Period)
	}
	return longest
}

// tick runs one poll. Errors are recorded in the store and never escape.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	seq := s.store.Ticket()
	ctx, span := s.tracer.Start(ctx, "poll."+job.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("poll.job", job.Name),
			attribute.Int64("poll.seq", int64(seq)),
		),
	)
	defer span.End()

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := job.Poll(ctx, seq)
	metrics.PollDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// shutting down
			return
		}
		metrics.PollsTotal.WithLabelValues(job.Name, metrics.OutcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")

		health := state.HealthConnectionError
		var sensorErr *SensorError
		if errors.As(err, &sensorErr) {
			health = state.HealthSensorError
		}
		for _, metric := range job.Metrics {
			s.store.Fail(metric, seq, health)
		}

		telemetry.WarnWithTrace(ctx, s.logger, "poll failed",
			zap.String("job", job.Name),
			zap.Uint64("seq", seq),
			zap.Stringer("health", health),
			zap.Error(err),
		)
		return
	}

	metrics.PollsTotal.WithLabelValues(job.Name, metrics.OutcomeSuccess).Inc()
	span.SetStatus(codes.Ok, "polled")

	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()

	if result.Stale {
		metrics.StaleResultsTotal.WithLabelValues(job.Name).Inc()
		span.SetAttributes(attribute.Bool("poll.stale", true))
		telemetry.DebugWithTrace(ctx, s.logger, "discarded stale poll result",
			zap.String("job", job.Name),
			zap.Uint64("seq", seq),
		)
	}

	if len(result.Readings) > 0 && s.opts.Sink != nil {
		s.opts.Sink(result.Readings)
	}
}
