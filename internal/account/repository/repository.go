package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/bankcore/internal/account/domain"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindAll loads every account row, used to restore the state store at startup.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	if err := r.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) Insert(ctx context.Context, account *domain.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}
