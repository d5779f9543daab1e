package engine

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/clock"
	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/idempotency"
	"github.com/smallbiznis/bankcore/internal/observability/metrics"
)

// Stage cursor names, exposed for tests and diagnostics.
const (
	StageIdempotency = "idempotency"
	StageBusiness    = "business"
	StagePersistence = "persistence"
)

// Pipeline owns the ring and its three stages in their fixed order:
// idempotency, business rules, batched persistence.
type Pipeline struct {
	ring *Ring
	log  *zap.Logger
}

type PipelineParams struct {
	fx.In

	Holder     *config.EngineConfigHolder
	State      *state.Store
	Cache      *idempotency.Cache
	Persister  Persister
	Replicator Replicator
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Logger     *zap.Logger
}

func NewPipeline(p PipelineParams) *Pipeline {
	cfg := p.Holder.Get()
	log := p.Logger.Named("engine")

	ring := NewRing(cfg.RingSize, NewWaitStrategy(cfg.WaitStrategy), log)
	ring.AddStage(StageIdempotency, NewIdempotencyStage(p.Cache, p.Logger))
	ring.AddStage(StageBusiness, NewBusinessStage(p.State, p.Logger))
	ring.AddStage(StagePersistence, NewPersistenceStage(
		p.Persister, p.Replicator, p.Cache, p.Metrics, p.Clock, p.Logger,
	))

	return &Pipeline{ring: ring, log: log}
}

// Start launches the stage goroutines.
func (p *Pipeline) Start() {
	p.ring.Start()
	p.log.Info("pipeline started")
}

// Publish hands a batch of commands to the ring. It blocks under
// backpressure and fails only when the pipeline is shutting down or the
// batch exceeds the ring capacity.
func (p *Pipeline) Publish(cmds []command.Command) error {
	return p.ring.PublishBatch(cmds)
}

// Close drains the ring and stops the stages. Safe to call more than once.
func (p *Pipeline) Close() {
	p.ring.Close()
	p.log.Info("pipeline stopped")
}

// Cursor reports a stage's last consumed sequence.
func (p *Pipeline) Cursor(stage string) int64 {
	return p.ring.Cursor(stage)
}

// Published reports the highest published sequence.
func (p *Pipeline) Published() int64 {
	return p.ring.Published()
}
