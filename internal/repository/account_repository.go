package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository interface {
	// Get returns (nil, nil) when the wallet has no row.
	Get(ctx context.Context, wallet string) (*model.Account, error)
	// CreateIfAbsent inserts acc unless a row already exists; it reports whether it inserted.
	CreateIfAbsent(ctx context.Context, acc *model.Account) (bool, error)
	// CompareAndSwap writes next only if the stored balance still equals expectedBalance.
	// Points and total_tokens_spent only move forward: the stored value wins when it is larger.
	CompareAndSwap(ctx context.Context, wallet string, expectedBalance int64, next *model.Account) (bool, error)
	List(ctx context.Context, limit, offset int) ([]model.Account, int64, error)
	SetDB(db *gorm.DB)
}

type accountRepository struct {
	*conn
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{conn: newConn(db)}
}

func (r *accountRepository) Get(ctx context.Context, wallet string) (*model.Account, error) {
	db, err := r.get()
	if err != nil {
		return nil, err
	}
	var acc model.Account
	if err := db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Take(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

func (r *accountRepository) CreateIfAbsent(ctx context.Context, acc *model.Account) (bool, error) {
	db, err := r.get()
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			DoNothing: true,
		}).
		Create(acc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *accountRepository) CompareAndSwap(ctx context.Context, wallet string, expectedBalance int64, next *model.Account) (bool, error) {
	db, err := r.get()
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).
		Model(&model.Account{}).
		Where("wallet_address = ? AND balance = ?", wallet, expectedBalance).
		Updates(map[string]interface{}{
			"balance":            next.Balance,
			"points":             greatest(db, "points", next.Points.Int64()),
			"total_tokens_spent": greatest(db, "total_tokens_spent", next.TotalTokensSpent.Int64()),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// greatest keeps a counter column from going backwards when the balance guard
// passes on a row whose counters moved since it was read.
func greatest(db *gorm.DB, column string, v int64) clause.Expr {
	if db.Dialector.Name() == "sqlite" {
		// sqlite orders text above numbers; a malformed cell counts as 0.
		return gorm.Expr("MAX(CAST("+column+" AS INTEGER), ?)", v)
	}
	return gorm.Expr("GREATEST("+column+", ?)", v)
}

func (r *accountRepository) List(ctx context.Context, limit, offset int) ([]model.Account, int64, error) {
	db, err := r.get()
	if err != nil {
		return nil, 0, err
	}
	var (
		list  []model.Account
		total int64
	)
	if err := db.WithContext(ctx).Model(&model.Account{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.WithContext(ctx).
		Order("wallet_address").
		Limit(limit).
		Offset(offset).
		Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
