package model

import "time"

// Account stores the chat credit balance and usage counters of one wallet.
type Account struct {
	WalletAddress    string    `gorm:"column:wallet_address;primaryKey;size:128"`
	Balance          Credits   `gorm:"column:balance;type:bigint;not null;default:0"`
	Points           Credits   `gorm:"column:points;type:bigint;not null;default:0"`
	TotalTokensSpent Credits   `gorm:"column:total_tokens_spent;type:bigint;not null;default:0"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (Account) TableName() string {
	return "chat_token_balances"
}
