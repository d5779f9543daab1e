package command

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bankcore/internal/account/domain"
)

// ApplySingle runs the state transition for a single-account command against
// the given account. The caller passes a clone and only publishes it when the
// transition succeeds, so a rejected command never leaves a partial mutation.
func ApplySingle(cmd Command, account *domain.Account) error {
	switch cmd.Action {
	case ActionDeposit:
		amount, err := requireAmount(cmd)
		if err != nil {
			return err
		}
		return account.Deposit(amount)
	case ActionWithdraw:
		amount, err := requireAmount(cmd)
		if err != nil {
			return err
		}
		return account.Withdraw(amount)
	case ActionFreeze:
		return account.Freeze()
	case ActionUnfreeze:
		return account.Unfreeze()
	case ActionClose:
		account.Close()
		return nil
	case ActionTransfer:
		return fmt.Errorf("transfer requires two accounts: %w", ErrWrongArity)
	default:
		return fmt.Errorf("%q: %w", cmd.Action, ErrUnknownAction)
	}
}

// ApplyTransfer debits source and credits target as one unit. Both accounts
// are validated before either is touched, so a failure cannot leave the
// source debited without the matching credit.
func ApplyTransfer(cmd Command, source, target *domain.Account) error {
	if cmd.Action != ActionTransfer {
		return fmt.Errorf("%q: %w", cmd.Action, ErrUnknownAction)
	}
	if cmd.TargetAccountID == nil {
		return fmt.Errorf("transfer %s has no target account: %w", cmd.TransactionID, ErrWrongArity)
	}
	if source.ID == target.ID {
		return fmt.Errorf("account %s: %w", source.ID, domain.ErrSelfTransfer)
	}

	amount, err := requireAmount(cmd)
	if err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("transfer of %s: %w", amount, domain.ErrInvalidAmount)
	}
	if source.Status != domain.StatusActive {
		return fmt.Errorf("source account %s is %s: %w", source.ID, source.Status, domain.ErrAccountNotActive)
	}
	if target.Status != domain.StatusActive {
		return fmt.Errorf("target account %s is %s: %w", target.ID, target.Status, domain.ErrAccountNotActive)
	}
	if source.Balance.LessThan(amount) {
		return fmt.Errorf("source account %s balance %s below %s: %w", source.ID, source.Balance, amount, domain.ErrInsufficientFunds)
	}

	if err := source.Withdraw(amount); err != nil {
		return err
	}
	return target.Deposit(amount)
}

func requireAmount(cmd Command) (decimal.Decimal, error) {
	if cmd.Amount == nil {
		return decimal.Zero, fmt.Errorf("%s command %s has no amount: %w", cmd.Action, cmd.TransactionID, ErrMissingAmount)
	}
	return *cmd.Amount, nil
}
