package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/db"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("import failed: %v", err)
	}
}

func run() error {
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

	mintRepo := repository.NewMintRepository(gdb)

	dir := os.Getenv("MINTS_DIR")
	if dir == "" {
		dir = "mints"
	}
	pattern := filepath.Join(dir, "*.txt")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("glob mint lists: %w", err)
	}
	if len(paths) == 0 {
		log.Printf("no mint lists found at %s", pattern)
		return nil
	}

	inserted, skipped, invalid := 0, 0, 0
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		records, bad, err := parseMintList(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		invalid += bad

		for _, rec := range records {
			exists, err := mintRepo.FindByWallet(ctx, rec.WalletAddress)
			if err != nil {
				return fmt.Errorf("check existing %s: %w", rec.WalletAddress, err)
			}
			if exists != nil {
				skipped++
				continue
			}
			rec.MintedAt = time.Now()
			if err := mintRepo.Upsert(ctx, &rec); err != nil {
				return fmt.Errorf("insert %s: %w", rec.WalletAddress, err)
			}
			inserted++
		}
	}

	log.Printf("import complete: inserted=%d skipped=%d invalid=%d files=%d", inserted, skipped, invalid, len(paths))
	return nil
}

// parseMintList reads one wallet per line with an optional ",tokenId" suffix.
// Blank lines and lines starting with # are ignored; malformed wallets are
// counted and skipped.
func parseMintList(r io.Reader) ([]model.MintRecord, int, error) {
	var (
		out     []model.MintRecord
		invalid int
		seen    = map[string]bool{}
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		walletPart, tokenID, _ := strings.Cut(line, ",")
		w, err := service.NormalizeWallet(walletPart)
		if err != nil {
			invalid++
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, model.MintRecord{WalletAddress: w, TokenID: strings.TrimSpace(tokenID)})
	}
	return out, invalid, sc.Err()
}
