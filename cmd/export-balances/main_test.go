package main

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shinyyama/chat-ledger-backend/internal/db"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"gorm.io/gorm"
)

func TestCollectPagesThroughAccounts(t *testing.T) {
	ctx := context.Background()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.NewAccountRepository(conn)
	for _, w := range []string{"0xa1", "0xa2", "0xa3", "0xa4", "0xa5"} {
		if _, err := repo.CreateIfAbsent(ctx, &model.Account{WalletAddress: w, Balance: 10}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap, err := collect(ctx, repo, 2, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if snap.Count != 5 || snap.Balances[4].Wallet != "0xa5" || snap.Balances[0].Balance != 10 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.GeneratedAt != "2025-03-01T12:00:00Z" {
		t.Fatalf("generatedAt=%s", snap.GeneratedAt)
	}
	if got := objectPath("exports/balances", now); got != "exports/balances/20250301T120000Z.json" {
		t.Fatalf("objectPath=%s", got)
	}
}
