package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/engine"
	"github.com/smallbiznis/bankcore/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
)

// Poller is the single bridge between the durable outbox and the in-memory
// pipeline. Exactly one instance runs per node; its loop claims a batch of
// pending rows and publishes it into the ring, blocking under backpressure.
type Poller struct {
	repo     outboxdomain.Repository
	pipeline *engine.Pipeline
	holder   *config.EngineConfigHolder
	metrics  *metrics.Metrics
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	repo outboxdomain.Repository,
	pipeline *engine.Pipeline,
	holder *config.EngineConfigHolder,
	m *metrics.Metrics,
	log *zap.Logger,
) *Poller {
	return &Poller{
		repo:     repo,
		pipeline: pipeline,
		holder:   holder,
		metrics:  m,
		log:      log.Named("poller"),
	}
}

// Start launches the polling loop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	p.log.Info("poller started")
}

// Stop cancels the loop and waits for it to finish its current iteration.
// Call before closing the pipeline so no publish races the ring shutdown.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		cfg := p.holder.Get()

		cmds, err := p.repo.FetchAndLockBatch(ctx, cfg.PollBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("outbox fetch failed", zap.Error(err))
			if !p.park(ctx, cfg.ErrorBackoff) {
				return
			}
			continue
		}
		if len(cmds) == 0 {
			if !p.park(ctx, cfg.EmptyPark) {
				return
			}
			continue
		}

		p.metrics.ObserveOutboxBatch(len(cmds))
		if err := p.publish(ctx, cmds, cfg.MaxPublishFailures); err != nil {
			if errors.Is(err, engine.ErrRingClosed) {
				return
			}
			p.log.Error("publish failed", zap.Error(err))
			if !p.park(ctx, cfg.ErrorBackoff) {
				return
			}
		}
	}
}

// publish pushes the batch into the ring. A failed publish bumps each row's
// failure count; rows that keep failing are moved to the dead letter table
// so one poisoned batch cannot stall the queue forever.
func (p *Poller) publish(ctx context.Context, cmds []command.Command, maxFailures int) error {
	err := p.pipeline.Publish(cmds)
	if err == nil {
		p.metrics.AddPublished(len(cmds))
		return nil
	}
	if errors.Is(err, engine.ErrRingClosed) {
		return err
	}

	for _, cmd := range cmds {
		if ferr := p.repo.IncrementFailureCount(ctx, cmd.IdempotencyKey); ferr != nil {
			p.log.Error("failed to bump failure count",
				zap.Stringer("idempotency_key", cmd.IdempotencyKey),
				zap.Error(ferr),
			)
			continue
		}
		count, ferr := p.repo.GetFailureCount(ctx, cmd.IdempotencyKey)
		if ferr != nil {
			p.log.Error("failed to read failure count",
				zap.Stringer("idempotency_key", cmd.IdempotencyKey),
				zap.Error(ferr),
			)
			continue
		}
		if count >= maxFailures {
			if derr := p.repo.MoveToDeadLetter(ctx, cmd.IdempotencyKey, "exceeded max publish failures: "+err.Error()); derr != nil {
				p.log.Error("failed to dead-letter command",
					zap.Stringer("idempotency_key", cmd.IdempotencyKey),
					zap.Error(derr),
				)
				continue
			}
			p.metrics.AddDeadLettered(1)
		}
	}
	return err
}

// park sleeps for d or until the context is cancelled. Returns false on
// cancellation.
func (p *Poller) park(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
