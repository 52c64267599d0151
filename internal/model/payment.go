package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSettled  PaymentStatus = "settled"
	PaymentStatusCredited PaymentStatus = "credited"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// Payment records one x402 top-up, keyed by the authorization nonce.
type Payment struct {
	ID            uint64        `gorm:"primaryKey;autoIncrement"`
	Nonce         string        `gorm:"column:nonce;size:80;uniqueIndex;not null"`
	WalletAddress string        `gorm:"column:wallet_address;size:128;index;not null"`
	Payer         string        `gorm:"column:payer;size:128"`
	AmountAtomic  string        `gorm:"column:amount_atomic;size:64;not null"`
	Credits       int64         `gorm:"column:credits;not null"`
	Network       string        `gorm:"column:network;size:32"`
	TxHash        string        `gorm:"column:tx_hash;size:128"`
	Status        PaymentStatus `gorm:"column:status;size:16;not null"`
	FailureReason string        `gorm:"column:failure_reason;size:255"`
	CreatedAt     time.Time     `gorm:"autoCreateTime"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime"`
}

func (Payment) TableName() string {
	return "x402_payments"
}

// All lists every model the service migrates.
func All() []interface{} {
	return []interface{}{&Account{}, &MintRecord{}, &Payment{}}
}
