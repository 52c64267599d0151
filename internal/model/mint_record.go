package model

import "time"

// MintRecord marks a wallet that completed the one-time NFT mint.
type MintRecord struct {
	WalletAddress string    `gorm:"column:wallet_address;primaryKey;size:128"`
	TokenID       string    `gorm:"column:token_id;size:128"`
	TxHash        string    `gorm:"column:tx_hash;size:128"`
	MintedAt      time.Time `gorm:"column:minted_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (MintRecord) TableName() string {
	return "nft_mints"
}
