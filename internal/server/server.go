package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/chat-ledger-backend/internal/ai"
	"github.com/shinyyama/chat-ledger-backend/internal/chain"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/handler"
	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	appmw "github.com/shinyyama/chat-ledger-backend/internal/middleware"
	"github.com/shinyyama/chat-ledger-backend/internal/payment"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/scheduler"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Server struct {
	e           *echo.Echo
	accountRepo repository.AccountRepository
	mintRepo    repository.MintRepository
	paymentRepo repository.PaymentRepository
	audit       *scheduler.FallbackAuditScheduler
	nft         *chain.NFTChecker
	dbReady     atomic.Bool
}

// New builds the HTTP server. db may be nil; the ledger then runs on the
// fallback cache until SetDB is called.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, sha, buildTime string) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", appmw.WalletHeader, "X-PAYMENT"},
		ExposeHeaders:    []string{"X-PAYMENT-RESPONSE", echo.HeaderXRequestID},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			low := strings.ToLower(origin)
			if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
				strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
				return true, nil
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false, nil
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false, nil
			}
			host := u.Hostname()
			if strings.HasSuffix(host, "vercel.app") {
				return true, nil
			}
			return false, nil
		},
	}))

	s := &Server{
		e:           e,
		accountRepo: repository.NewAccountRepository(db),
		mintRepo:    repository.NewMintRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
	}
	s.dbReady.Store(db != nil)

	mints, err := s.mintChecker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache := service.NewFallbackCache()
	policy := service.RetryPolicy{
		MaxAttempts: cfg.LedgerMaxAttempts,
		Delay:       cfg.LedgerRetryDelay,
		Multiplier:  1,
	}
	ledger := service.NewBalanceLedger(s.accountRepo, mints, cache, policy)
	s.audit = scheduler.NewFallbackAuditScheduler(cache, s.accountRepo, cfg.FallbackAuditCron)

	pricing, err := config.LoadPricing(cfg.PricingFile)
	if err != nil {
		return nil, err
	}
	var model ai.ChatModel
	if cfg.GeminiAPIKey != "" {
		gm, err := ai.NewGeminiChatModel(ctx, cfg.GeminiAPIKey, cfg.ChatModel, nil)
		if err != nil {
			return nil, err
		}
		model = gm
	} else {
		logger.Warnf("GEMINI_API_KEY is not set; /api/chat will answer 503")
	}
	chatHandler := handler.NewChatHandler(ledger, model, pricing, cfg.PointsDivisor)

	maxUSD, err := decimal.NewFromString(cfg.MaxTopUpUSD)
	if err != nil {
		return nil, fmt.Errorf("MAX_TOPUP_USD: %w", err)
	}
	paymentHandler := handler.NewPaymentHandler(ledger, s.paymentRepo,
		payment.NewFacilitator(cfg.FacilitatorURL, cfg.FacilitatorAPIKey, 0),
		handler.TopUpOptions{
			Network:        cfg.PaymentNetwork,
			PayTo:          cfg.PayToAddress,
			Asset:          cfg.USDCAsset,
			CreditsPerUSDC: cfg.CreditsPerUSDC,
			MaxUSD:         maxUSD,
		})

	authMw, err := appmw.NewAuthMiddleware(ctx, cfg.FirebaseProjectID)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	if authMw.HeaderMode() {
		logger.Warnf("FIREBASE_PROJECT_ID is not set; trusting %s header", appmw.WalletHeader)
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ok":         true,
			"git_sha":    sha,
			"build_time": buildTime,
			"db_ready":   s.dbReady.Load(),
		})
	})

	api := e.Group("/api", authMw.RequireAuth)
	api.GET("/chat/token-balance", chatHandler.GetBalance)
	api.POST("/chat", chatHandler.Chat, appmw.WalletRateLimit(cfg.ChatRateRPS, cfg.ChatBurst))
	api.POST("/chat/token-balance/topup", paymentHandler.TopUp)
	api.GET("/chat/token-balance/payments", paymentHandler.ListMine)

	return s, nil
}

func (s *Server) mintChecker(ctx context.Context, cfg *config.Config) (service.MintChecker, error) {
	switch strings.ToLower(cfg.MintCheckMode) {
	case "", "table":
		return service.NewTableMintChecker(s.mintRepo), nil
	case "chain":
		nft, err := chain.Dial(ctx, cfg.EthRPCURL, cfg.NFTContractAddress)
		if err != nil {
			return nil, err
		}
		s.nft = nft
		return nft, nil
	case "off":
		return service.AllowAllMints, nil
	default:
		return nil, fmt.Errorf("unknown MINT_CHECK_MODE %q", cfg.MintCheckMode)
	}
}

// Start runs the audit job and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	if err := s.audit.Start(); err != nil {
		return fmt.Errorf("start fallback audit: %w", err)
	}
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.audit.Stop()
	if s.nft != nil {
		s.nft.Close()
	}
	return s.e.Shutdown(ctx)
}

func (s *Server) SetDB(db *gorm.DB) {
	s.accountRepo.SetDB(db)
	s.mintRepo.SetDB(db)
	s.paymentRepo.SetDB(db)
	s.dbReady.Store(db != nil)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}
