package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/bankcore/internal/account/domain"
)

// Store is the authoritative in-memory view of all accounts. During steady
// state only the business stage writes to it; reads may come from any
// goroutine. Stored *Account values are treated as immutable snapshots and
// replaced wholesale on update.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.Account
}

func NewStore() *Store {
	return &Store{accounts: make(map[uuid.UUID]*domain.Account)}
}

func (s *Store) Get(id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (s *Store) CreateOrUpdate(account *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

// LoadAll replaces the whole map, used at startup and by test resets.
func (s *Store) LoadAll(accounts []*domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[uuid.UUID]*domain.Account, len(accounts))
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
