package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
	"github.com/gdsec-test/dcu-middleware/internal/pipeline"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
)

const (
	pollTimeout     = 5 * time.Second
	popErrorBackoff = time.Second
	pushAttempts    = 3
)

// Task outcome labels recorded in metrics.
const (
	OutcomeProcessed   = "processed"
	OutcomeRedelivered = "redelivered"
	OutcomeDropped     = "dropped"
)

// Dependencies bundles collaborators for the pool.
type Dependencies struct {
	Queue   queue.Queue
	Handler *Handler
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Pool consumes the intake queue with a fixed number of workers.
type Pool struct {
	queue     queue.Queue
	handler   *Handler
	metrics   *observability.Metrics
	logger    *zap.Logger
	queueName string
	cfg       config.PipelineConfig

	pending sync.WaitGroup
}

// NewPool builds a pool reading from queueName.
func NewPool(deps *Dependencies, queueName string, cfg config.PipelineConfig) *Pool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:     deps.Queue,
		handler:   deps.Handler,
		metrics:   deps.Metrics,
		logger:    logger,
		queueName: queueName,
		cfg:       cfg,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight tasks and
// scheduled redeliveries.
func (p *Pool) Run(ctx context.Context) error {
	workers := p.cfg.WorkerConcurrency
	if workers <= 0 {
		workers = 1
	}
	p.logger.Info("worker pool started", zap.Int("workers", workers), zap.String("queue", p.queueName))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			return p.consume(gctx, id)
		})
	}
	err := g.Wait()
	p.pending.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, id int) error {
	logger := p.logger.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		task, err := queue.PopTask(ctx, p.queue, p.queueName, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var decodeErr *queue.DecodeError
			if errors.As(err, &decodeErr) {
				logger.Error("dropping undecodable task", zap.ByteString("payload", decodeErr.Payload), zap.Error(err))
				p.metrics.RecordTask(OutcomeDropped)
				continue
			}
			logger.Warn("queue pop failed", zap.Error(err))
			sleep(ctx, popErrorBackoff)
			continue
		}
		if task == nil {
			continue
		}
		p.Execute(ctx, *task)
	}
	return nil
}

// Execute handles one task and schedules its redelivery when the failure is
// recoverable.
func (p *Pool) Execute(ctx context.Context, task queue.Task) {
	logger := p.logger.With(zap.String("ticket_id", task.ID()), zap.String("task", string(task.Kind)), zap.Int("attempt", task.Attempt))

	outcome, err := p.handler.Handle(ctx, task)
	switch {
	case err != nil && !redeliverable(err):
		logger.Error("task failed permanently", zap.Error(err))
		p.metrics.RecordTask(OutcomeDropped)
	case err != nil:
		logger.Warn("task failed", zap.Error(err))
		p.redeliver(ctx, task, err)
	case outcome.RoutingFailed:
		logger.Warn("routing partially failed")
		p.redeliver(ctx, task, nil)
	default:
		logger.Info("task processed",
			zap.Bool("skipped", outcome.Skipped),
			zap.Bool("closed", outcome.Closed),
			zap.String("status", string(outcome.Status)),
			zap.Bool("failed_enrichment", outcome.FailedEnrichment))
		p.metrics.RecordTask(OutcomeProcessed)
	}
}

// redeliver pushes a follow-up task after the redelivery delay. Once the
// incident is stored the follow-up is always a process task.
func (p *Pool) redeliver(ctx context.Context, task queue.Task, cause error) {
	logger := p.logger.With(zap.String("ticket_id", task.ID()))
	if task.Attempt >= p.cfg.MaxRedeliveries {
		logger.Error("redeliveries exhausted, dropping task", zap.Int("attempt", task.Attempt), zap.Error(cause))
		p.metrics.RecordTask(OutcomeDropped)
		return
	}

	next := task
	next.Attempt++
	var intakeErr *IntakeError
	if task.Kind == queue.TaskIntake && !errors.As(cause, &intakeErr) {
		next = queue.Task{Kind: queue.TaskProcess, TicketID: task.ID(), Attempt: task.Attempt + 1}
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		// The push outlives shutdown so a cancelled worker does not lose the task.
		pushCtx := context.WithoutCancel(ctx)
		sleep(ctx, p.cfg.RedeliveryDelay)

		_, err := backoff.Retry(pushCtx, func() (struct{}, error) {
			return struct{}{}, queue.PushTask(pushCtx, p.queue, p.queueName, next)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(popErrorBackoff)),
			backoff.WithMaxTries(pushAttempts),
		)
		if err != nil {
			logger.Error("redelivery push failed, task lost", zap.Error(err))
			p.metrics.RecordTask(OutcomeDropped)
			return
		}
		logger.Info("task redelivered", zap.Int("attempt", next.Attempt))
		p.metrics.RecordTask(OutcomeRedelivered)
	}()
}

func redeliverable(err error) bool {
	var intakeErr *IntakeError
	if errors.As(err, &intakeErr) {
		return true
	}
	if errors.Is(err, ErrInvalidTask) {
		return false
	}
	return pipeline.Redeliverable(err)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
