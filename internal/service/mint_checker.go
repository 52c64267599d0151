package service

import (
	"context"

	"github.com/shinyyama/chat-ledger-backend/internal/repository"
)

// MintChecker reports whether a wallet completed the one-time mint.
type MintChecker interface {
	HasMinted(ctx context.Context, wallet string) (bool, error)
}

type tableMintChecker struct {
	repo repository.MintRepository
}

// NewTableMintChecker checks the nft_mints table.
func NewTableMintChecker(repo repository.MintRepository) MintChecker {
	return &tableMintChecker{repo: repo}
}

func (c *tableMintChecker) HasMinted(ctx context.Context, wallet string) (bool, error) {
	return c.repo.Exists(ctx, wallet)
}

// MintCheckerFunc adapts a function to MintChecker.
type MintCheckerFunc func(ctx context.Context, wallet string) (bool, error)

func (f MintCheckerFunc) HasMinted(ctx context.Context, wallet string) (bool, error) {
	return f(ctx, wallet)
}

// AllowAllMints treats every wallet as minted.
var AllowAllMints MintChecker = MintCheckerFunc(func(context.Context, string) (bool, error) {
	return true, nil
})
