package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	DBDriver   string `env:"DB_DRIVER" envDefault:"mysql"` // mysql or sqlite
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBHost     string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName     string `env:"DB_NAME"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"ledger.db"`

	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	PointsDivisor     int64         `env:"POINTS_DIVISOR" envDefault:"2000"`
	LedgerMaxAttempts int           `env:"LEDGER_MAX_ATTEMPTS" envDefault:"3"`
	LedgerRetryDelay  time.Duration `env:"LEDGER_RETRY_DELAY" envDefault:"50ms"`
	FallbackAuditCron string        `env:"FALLBACK_AUDIT_CRON" envDefault:"@every 5m"`

	MintCheckMode      string `env:"MINT_CHECK_MODE" envDefault:"table"` // table, chain or off
	EthRPCURL          string `env:"ETH_RPC_URL"`
	NFTContractAddress string `env:"NFT_CONTRACT_ADDRESS"`

	GeminiAPIKey string  `env:"GEMINI_API_KEY"`
	ChatModel    string  `env:"CHAT_MODEL" envDefault:"gemini-2.5-flash"`
	PricingFile  string  `env:"PRICING_FILE"`
	ChatRateRPS  float64 `env:"CHAT_RATE_RPS" envDefault:"2"`
	ChatBurst    int     `env:"CHAT_RATE_BURST" envDefault:"5"`

	FacilitatorURL    string `env:"X402_FACILITATOR_URL" envDefault:"https://x402.org/facilitator"`
	FacilitatorAPIKey string `env:"X402_FACILITATOR_API_KEY"`
	PayToAddress      string `env:"X402_PAY_TO"`
	PaymentNetwork    string `env:"X402_NETWORK" envDefault:"base"`
	USDCAsset         string `env:"X402_ASSET" envDefault:"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"`
	CreditsPerUSDC    int64  `env:"CREDITS_PER_USDC" envDefault:"100000"`
	MaxTopUpUSD       string `env:"MAX_TOPUP_USD" envDefault:"100"`

	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
