package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	accountrepo "github.com/smallbiznis/bankcore/internal/account/repository"
	"github.com/smallbiznis/bankcore/internal/account/state"
	"github.com/smallbiznis/bankcore/internal/command"
	"github.com/smallbiznis/bankcore/internal/journal"
	outboxdomain "github.com/smallbiznis/bankcore/internal/outbox/domain"
)

// Service is the write-side and query-side facade. Submissions only stage a
// command in the outbox; the returned accepted flag is false when the
// idempotency key was seen before, which is a success from the caller's
// point of view.
type Service struct {
	node     *snowflake.Node
	outbox   outboxdomain.Repository
	accounts *accountrepo.Repository
	journal  *journal.Repository
	state    *state.Store
	log      *zap.Logger
}

func New(
	node *snowflake.Node,
	outbox outboxdomain.Repository,
	accounts *accountrepo.Repository,
	jr *journal.Repository,
	st *state.Store,
	log *zap.Logger,
) *Service {
	return &Service{
		node:     node,
		outbox:   outbox,
		accounts: accounts,
		journal:  jr,
		state:    st,
		log:      log.Named("service"),
	}
}

// OpenAccount creates a new active account with the given opening balance,
// durable first, then visible in memory.
func (s *Service) OpenAccount(ctx context.Context, balance decimal.Decimal) (*domain.Account, error) {
	if balance.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	account := domain.New(uuid.New(), balance)
	if err := s.accounts.Insert(ctx, account); err != nil {
		return nil, err
	}
	s.state.CreateOrUpdate(account)
	s.log.Info("account opened",
		zap.Stringer("account_id", account.ID),
		zap.String("balance", balance.String()),
	)
	return account, nil
}

func (s *Service) Deposit(ctx context.Context, key, accountID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.ErrInvalidAmount
	}
	return s.submit(ctx, command.NewDeposit(s.node, key, accountID, amount))
}

func (s *Service) Withdraw(ctx context.Context, key, accountID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.ErrInvalidAmount
	}
	return s.submit(ctx, command.NewWithdraw(s.node, key, accountID, amount))
}

func (s *Service) Transfer(ctx context.Context, key, from, to uuid.UUID, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.ErrInvalidAmount
	}
	if from == to {
		return false, domain.ErrSelfTransfer
	}
	return s.submit(ctx, command.NewTransfer(s.node, key, from, to, amount))
}

func (s *Service) Freeze(ctx context.Context, key, accountID uuid.UUID) (bool, error) {
	return s.submit(ctx, command.NewFreeze(s.node, key, accountID))
}

func (s *Service) Unfreeze(ctx context.Context, key, accountID uuid.UUID) (bool, error) {
	return s.submit(ctx, command.NewUnfreeze(s.node, key, accountID))
}

func (s *Service) CloseAccount(ctx context.Context, key, accountID uuid.UUID) (bool, error) {
	return s.submit(ctx, command.NewClose(s.node, key, accountID))
}

func (s *Service) submit(ctx context.Context, cmd command.Command) (bool, error) {
	accepted, err := s.outbox.Save(ctx, cmd)
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// GetBalance reads from the in-memory snapshot, not the database.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	account, err := s.state.Get(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (s *Service) GetAccountStatus(ctx context.Context, accountID uuid.UUID) (domain.Status, error) {
	account, err := s.state.Get(accountID)
	if err != nil {
		return "", err
	}
	return account.Status, nil
}

// GetAccount returns the current immutable snapshot of an account.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.state.Get(accountID)
}

// GetTransactionStatus resolves a key against the journal, the dead letter
// table and the outbox, in that order.
func (s *Service) GetTransactionStatus(ctx context.Context, key uuid.UUID) (TransactionStatus, error) {
	journaled, err := s.journal.HasEntry(ctx, key)
	if err != nil {
		return "", err
	}
	if journaled {
		return StatusCompleted, nil
	}

	dead, err := s.outbox.HasDeadLetter(ctx, key)
	if err != nil {
		return "", err
	}
	if dead {
		return StatusError, nil
	}

	staged, err := s.outbox.HasEntry(ctx, key)
	if err != nil {
		return "", err
	}
	if staged {
		return StatusPending, nil
	}
	return StatusNotFound, nil
}

// History returns the journaled operations touching an account.
func (s *Service) History(ctx context.Context, accountID uuid.UUID) ([]journal.Entry, error) {
	return s.journal.ForAccount(ctx, accountID)
}
