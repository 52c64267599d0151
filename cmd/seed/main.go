package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/db"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
)

var defaultWallets = []string{
	"0x1000000000000000000000000000000000000001",
	"0x1000000000000000000000000000000000000002",
	"0x1000000000000000000000000000000000000003",
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() (err error) {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("sql db: %w", err)
	}

	wallets, err := seedWallets(os.Getenv("SEED_WALLETS"))
	if err != nil {
		return err
	}
	balance := int64(100000)
	if v := os.Getenv("SEED_BALANCE"); v != "" {
		if balance, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("SEED_BALANCE: %w", err)
		}
	}

	canSeed, err := shouldSeed(ctx, sqlDB)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("balances already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now()
	for i, w := range wallets {
		if err = resetWallet(ctx, tx, w); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO nft_mints (wallet_address, token_id, tx_hash, minted_at, created_at) VALUES (?, ?, ?, ?, ?)`,
			w, strconv.Itoa(i+1), "", now, now,
		); err != nil {
			return fmt.Errorf("insert mint %s: %w", w, err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_token_balances (wallet_address, balance, points, total_tokens_spent, updated_at, created_at) VALUES (?, ?, 0, 0, ?, ?)`,
			w, balance, now, now,
		); err != nil {
			return fmt.Errorf("insert balance %s: %w", w, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Printf("seeded %d wallets with %d credits", len(wallets), balance)
	return nil
}

func seedWallets(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultWallets, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		w, err := service.NormalizeWallet(part)
		if err != nil {
			return nil, fmt.Errorf("SEED_WALLETS %q: %w", part, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func resetWallet(ctx context.Context, tx *sql.Tx, wallet string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_token_balances WHERE wallet_address = ?`, wallet); err != nil {
		return fmt.Errorf("reset balance %s: %w", wallet, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nft_mints WHERE wallet_address = ?`, wallet); err != nil {
		return fmt.Errorf("reset mint %s: %w", wallet, err)
	}
	return nil
}

func shouldSeed(ctx context.Context, db *sql.DB) (bool, error) {
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_token_balances`).Scan(&cnt); err != nil {
		return false, fmt.Errorf("count balances: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	force := os.Getenv("FORCE_SEED")
	return strings.EqualFold(force, "true"), nil
}
