package service

import "errors"

var (
	ErrInvalidWallet = errors.New("invalid_wallet")
	ErrInvalidAmount = errors.New("invalid_amount")
)
