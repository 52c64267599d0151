package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	// CreatePending inserts p unless its nonce was already recorded; it reports whether it inserted.
	CreatePending(ctx context.Context, p *model.Payment) (bool, error)
	FindByNonce(ctx context.Context, nonce string) (*model.Payment, error)
	MarkStatus(ctx context.Context, id uint64, status model.PaymentStatus, txHash, reason string) error
	ListByWallet(ctx context.Context, wallet string, limit int) ([]model.Payment, error)
	SetDB(db *gorm.DB)
}

type paymentRepository struct {
	*conn
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{conn: newConn(db)}
}

func (r *paymentRepository) CreatePending(ctx context.Context, p *model.Payment) (bool, error) {
	db, err := r.get()
	if err != nil {
		return false, err
	}
	p.Status = model.PaymentStatusPending
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "nonce"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentRepository) FindByNonce(ctx context.Context, nonce string) (*model.Payment, error) {
	db, err := r.get()
	if err != nil {
		return nil, err
	}
	var p model.Payment
	if err := db.WithContext(ctx).
		Where("nonce = ?", nonce).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) MarkStatus(ctx context.Context, id uint64, status model.PaymentStatus, txHash, reason string) error {
	db, err := r.get()
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": status}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	return db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *paymentRepository) ListByWallet(ctx context.Context, wallet string, limit int) ([]model.Payment, error) {
	db, err := r.get()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var list []model.Payment
	if err := db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
