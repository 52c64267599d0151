package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MintRepository interface {
	Exists(ctx context.Context, wallet string) (bool, error)
	FindByWallet(ctx context.Context, wallet string) (*model.MintRecord, error)
	Upsert(ctx context.Context, rec *model.MintRecord) error
	SetDB(db *gorm.DB)
}

type mintRepository struct {
	*conn
}

func NewMintRepository(db *gorm.DB) MintRepository {
	return &mintRepository{conn: newConn(db)}
}

func (r *mintRepository) Exists(ctx context.Context, wallet string) (bool, error) {
	db, err := r.get()
	if err != nil {
		return false, err
	}
	var cnt int64
	if err := db.WithContext(ctx).
		Model(&model.MintRecord{}).
		Where("wallet_address = ?", wallet).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *mintRepository) FindByWallet(ctx context.Context, wallet string) (*model.MintRecord, error) {
	db, err := r.get()
	if err != nil {
		return nil, err
	}
	var rec model.MintRecord
	if err := db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *mintRepository) Upsert(ctx context.Context, rec *model.MintRecord) error {
	db, err := r.get()
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_id", "tx_hash", "minted_at"}),
	}).Create(rec).Error
}
