package scheduler

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestFallbackAudit_RunOnce(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewAccountRepository(newTestDB(t))
	for _, acc := range []*model.Account{
		{WalletAddress: "0xaaa", Balance: 100},
		{WalletAddress: "0xbbb", Balance: 50},
	} {
		if _, err := accounts.CreateIfAbsent(ctx, acc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	cache := service.NewFallbackCache()
	cache.Set("0xaaa", service.FallbackEntry{Balance: 100})
	cache.Set("0xbbb", service.FallbackEntry{Balance: 20})
	cache.Set("0xccc", service.FallbackEntry{Balance: 5})

	report := NewFallbackAuditScheduler(cache, accounts, "").RunOnce(ctx)
	if report.Entries != 3 || report.Drifted != 2 || report.Unreachable != 0 {
		t.Fatalf("report=%+v", report)
	}
}

func TestFallbackAudit_StoreNotReady(t *testing.T) {
	cache := service.NewFallbackCache()
	cache.Set("0xaaa", service.FallbackEntry{Balance: 1})
	report := NewFallbackAuditScheduler(cache, repository.NewAccountRepository(nil), "@every 1m").RunOnce(context.Background())
	if report.Unreachable != 1 {
		t.Fatalf("report=%+v", report)
	}
}

func TestFallbackAudit_StartRejectsBadSpec(t *testing.T) {
	s := NewFallbackAuditScheduler(service.NewFallbackCache(), repository.NewAccountRepository(nil), "not a cron spec")
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("expected error for invalid spec")
	}
}
