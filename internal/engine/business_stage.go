package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/command"
)

// BusinessStage is the second consumer. It applies each command against
// cloned account snapshots and swaps the clones into the state store only
// when the whole command succeeded, so a rejected transfer never leaves one
// leg applied.
type BusinessStage struct {
	state *state.Store
	log   *zap.Logger
}

func NewBusinessStage(st *state.Store, log *zap.Logger) *BusinessStage {
	return &BusinessStage{
		state: st,
		log:   log.Named("stage.business"),
	}
}

func (s *BusinessStage) OnEvent(ev *Event, seq int64, endOfBatch bool) {
	if !ev.ShouldProcess {
		return
	}
	if err := s.apply(ev); err != nil {
		ev.Err = err
		s.log.Warn("command rejected",
			zap.String("action", string(ev.Command.Action)),
			zap.Stringer("account_id", ev.Command.AccountID),
			zap.Stringer("idempotency_key", ev.Command.IdempotencyKey),
			zap.Error(err),
		)
	}
}

func (s *BusinessStage) apply(ev *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic applying command: %v", rec)
		}
	}()

	cmd := ev.Command

	source, err := s.state.Get(cmd.AccountID)
	if err != nil {
		return err
	}
	src := source.Clone()

	if cmd.Action == command.ActionTransfer {
		if cmd.TargetAccountID == nil {
			return command.ErrWrongArity
		}
		target, err := s.state.Get(*cmd.TargetAccountID)
		if err != nil {
			return err
		}
		dst := target.Clone()
		if err := command.ApplyTransfer(cmd, src, dst); err != nil {
			return err
		}
		s.commit(ev, src, dst)
		return nil
	}

	if err := command.ApplySingle(cmd, src); err != nil {
		return err
	}
	s.commit(ev, src)
	return nil
}

// commit swaps the mutated clones into the state store and records them on
// the event for the persistence stage. Stored snapshots are never mutated
// after this point, so readers need no copy.
func (s *BusinessStage) commit(ev *Event, accounts ...*domain.Account) {
	for _, a := range accounts {
		s.state.CreateOrUpdate(a)
		ev.ModifiedAccounts = append(ev.ModifiedAccounts, a)
	}
}
