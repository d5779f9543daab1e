package engine

import "go.uber.org/fx"

func newReplicator() Replicator { return NoopReplicator{} }

var Module = fx.Module("engine",
	fx.Provide(
		newReplicator,
		NewPipeline,
	),
)
