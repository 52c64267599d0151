package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/caarlos0/env/v9"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/db"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"google.golang.org/api/option"
)

type exportConfig struct {
	Bucket          string `env:"EXPORT_BUCKET,required"`
	Prefix          string `env:"EXPORT_PREFIX" envDefault:"exports/balances"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
	PageSize        int    `env:"EXPORT_PAGE_SIZE" envDefault:"500"`
	TimeoutSeconds  int    `env:"TIMEOUT_SECONDS" envDefault:"300"`
}

type balanceRow struct {
	Wallet           string `json:"wallet"`
	Balance          int64  `json:"balance"`
	Points           int64  `json:"points"`
	TotalTokensSpent int64  `json:"totalTokensSpent"`
	UpdatedAt        string `json:"updatedAt"`
}

type snapshot struct {
	GeneratedAt string       `json:"generatedAt"`
	Count       int          `json:"count"`
	Balances    []balanceRow `json:"balances"`
}

func main() {
	_ = godotenv.Load()

	var ecfg exportConfig
	if err := env.Parse(&ecfg); err != nil {
		log.Fatalf("failed to parse env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(ecfg.TimeoutSeconds)*time.Second)
	defer cancel()

	gdb, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("failed to get sql db: %v", err)
	}
	defer sqlDB.Close()

	snap, err := collect(ctx, repository.NewAccountRepository(gdb), ecfg.PageSize, time.Now())
	if err != nil {
		log.Fatalf("collect balances failed: %v", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Fatalf("encode snapshot failed: %v", err)
	}

	var opts []option.ClientOption
	if ecfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(ecfg.CredentialsFile))
	}
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer storageClient.Close()

	path := objectPath(ecfg.Prefix, time.Now())
	publicURL, err := uploadWithToken(ctx, storageClient, ecfg.Bucket, path, data)
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}
	log.Printf("exported %d balances to %s", snap.Count, publicURL)
}

// collect pages through every account row.
func collect(ctx context.Context, accounts repository.AccountRepository, pageSize int, now time.Time) (*snapshot, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	snap := &snapshot{GeneratedAt: now.UTC().Format(time.RFC3339)}
	for offset := 0; ; offset += pageSize {
		list, total, err := accounts.List(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			snap.Balances = append(snap.Balances, balanceRow{
				Wallet:           a.WalletAddress,
				Balance:          a.Balance.Int64(),
				Points:           a.Points.Int64(),
				TotalTokensSpent: a.TotalTokensSpent.Int64(),
				UpdatedAt:        a.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(list) < pageSize || int64(offset+len(list)) >= total {
			break
		}
	}
	snap.Count = len(snap.Balances)
	return snap, nil
}

func objectPath(prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%s.json", prefix, now.UTC().Format("20060102T150405Z"))
}

func uploadWithToken(ctx context.Context, client *storage.Client, bucketName, objectPath string, data []byte) (string, error) {
	token := uuid.NewString()
	obj := client.Bucket(bucketName).Object(objectPath)
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"firebaseStorageDownloadTokens": token,
	}
	if _, err := w.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	escapedPath := url.PathEscape(objectPath)
	publicURL := fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucketName, escapedPath, token)
	return publicURL, nil
}
