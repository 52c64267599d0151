package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/chat-ledger-backend/internal/ai"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	appmw "github.com/shinyyama/chat-ledger-backend/internal/middleware"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/payment"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	testWallet = "0xabc"
	testPayTo  = "0x1111111111111111111111111111111111111111"
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

type fakeModel struct {
	reply  string
	tokens int64
	err    error
	calls  int
}

func (f *fakeModel) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	m := req.Model
	if m == "" {
		m = "gemini-2.5-flash"
	}
	return &ai.Completion{Text: f.reply, Model: m, TotalTokens: f.tokens}, nil
}

type fakeFacilitator struct {
	valid       bool
	settleOK    bool
	verifyCalls int
	settleCalls int
}

func (f *fakeFacilitator) Verify(_ context.Context, p *payment.Payload, _ payment.Requirements) (*payment.VerifyResponse, error) {
	f.verifyCalls++
	if !f.valid {
		return &payment.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}
	return &payment.VerifyResponse{IsValid: true, Payer: p.Payload.Authorization.From}, nil
}

func (f *fakeFacilitator) Settle(context.Context, *payment.Payload, payment.Requirements) (*payment.SettleResponse, error) {
	f.settleCalls++
	if !f.settleOK {
		return &payment.SettleResponse{Success: false, ErrorReason: "insufficient_funds"}, nil
	}
	return &payment.SettleResponse{Success: true, Transaction: "0xtx", Network: "base"}, nil
}

type testEnv struct {
	e        *echo.Echo
	accounts repository.AccountRepository
	payments repository.PaymentRepository
	model    *fakeModel
	fac      *fakeFacilitator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithMints(t, func(*gorm.DB) service.MintChecker { return service.AllowAllMints })
}

// newGatedTestEnv checks the nft_mints table, which starts empty.
func newGatedTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithMints(t, func(db *gorm.DB) service.MintChecker {
		return service.NewTableMintChecker(repository.NewMintRepository(db))
	})
}

func newTestEnvWithMints(t *testing.T, mints func(*gorm.DB) service.MintChecker) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		e:        echo.New(),
		accounts: repository.NewAccountRepository(db),
		payments: repository.NewPaymentRepository(db),
		model:    &fakeModel{reply: "hello", tokens: 3000},
		fac:      &fakeFacilitator{valid: true, settleOK: true},
	}
	ledger := service.NewBalanceLedger(env.accounts, mints(db), service.NewFallbackCache(), service.RetryPolicy{MaxAttempts: 3})
	pricing, err := config.ParsePricing([]byte("default_multiplier: 1\nmodels:\n  cheap-model: 0.05\n"))
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	chat := NewChatHandler(ledger, env.model, pricing, 2000)
	pay := NewPaymentHandler(ledger, env.payments, env.fac, TopUpOptions{
		Network:        "base",
		PayTo:          testPayTo,
		Asset:          "0xusdc",
		CreditsPerUSDC: 100000,
		MaxUSD:         decimal.NewFromInt(100),
	})
	auth := appmw.NewAuthMiddlewareWithVerifier(nil).RequireAuth
	env.e.GET("/api/chat/token-balance", chat.GetBalance, auth)
	env.e.POST("/api/chat", chat.Chat, auth)
	env.e.POST("/api/chat/token-balance/topup", pay.TopUp, auth)
	env.e.GET("/api/chat/token-balance/payments", pay.ListMine, auth)
	return env
}

func (env *testEnv) seed(t *testing.T, balance, points, spent int64) {
	t.Helper()
	ok, err := env.accounts.CreateIfAbsent(context.Background(), &model.Account{
		WalletAddress:    testWallet,
		Balance:          model.Credits(balance),
		Points:           model.Credits(points),
		TotalTokensSpent: model.Credits(spent),
	})
	if err != nil || !ok {
		t.Fatalf("seed: ok=%v err=%v", ok, err)
	}
}

func (env *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(appmw.WalletHeader, testWallet)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func paymentHeader(t *testing.T, nonce, value string) string {
	t.Helper()
	h, err := payment.EncodeHeader(payment.Payload{
		X402Version: payment.X402Version,
		Scheme:      payment.SchemeExact,
		Network:     "base",
		Payload: payment.ExactPayload{
			Signature: "0xsig",
			Authorization: payment.Authorization{
				From:  "0x2222222222222222222222222222222222222222",
				To:    testPayTo,
				Value: value,
				Nonce: nonce,
			},
		},
	})
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	return h
}

func TestGetBalance_CreatesZeroRow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/chat/token-balance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	var got balanceResponse
	decode(t, rec, &got)
	if got.Balance != 0 || got.Points != 0 {
		t.Fatalf("got %+v", got)
	}
	acc, _ := env.accounts.Get(context.Background(), testWallet)
	if acc == nil {
		t.Fatalf("row was not created")
	}
}

func TestChat_RequiresCredits(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 0, 0, 0)
	rec := env.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("code=%d want 402", rec.Code)
	}
	if env.model.calls != 0 {
		t.Fatalf("model should not be called")
	}
}

func TestChat_ChargesUsage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1000, 0, 0)
	rec := env.do(http.MethodPost, "/api/chat", `{"model":"cheap-model","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	var got chatResponse
	decode(t, rec, &got)
	if got.Reply != "hello" || got.TokensUsed != 3000 || got.CreditsCharged != 150 {
		t.Fatalf("got %+v", got)
	}
	if got.Balance != 850 || got.Points != 1 {
		t.Fatalf("balance=%d points=%d want 850/1", got.Balance, got.Points)
	}
}

func TestChat_ModelErrorDoesNotCharge(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1000, 0, 0)
	env.model.err = errors.New("upstream down")
	rec := env.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("code=%d want 502", rec.Code)
	}
	acc, _ := env.accounts.Get(context.Background(), testWallet)
	if acc.Balance != 1000 {
		t.Fatalf("balance=%d want 1000", acc.Balance)
	}
}

func TestChat_RejectsEmptyMessages(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/chat", `{"messages":[]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code=%d want 400", rec.Code)
	}
}

func TestTopUp_WithoutPaymentReturnsRequirements(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":"1.5"}`, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("code=%d want 402", rec.Code)
	}
	var got payment.RequiredResponse
	decode(t, rec, &got)
	if got.X402Version != payment.X402Version || len(got.Accepts) != 1 {
		t.Fatalf("got %+v", got)
	}
	req := got.Accepts[0]
	if req.MaxAmountRequired != "1500000" || req.PayTo != testPayTo || req.Network != "base" {
		t.Fatalf("requirements %+v", req)
	}
	if !strings.HasSuffix(req.Resource, "/api/chat/token-balance/topup") {
		t.Fatalf("resource=%s", req.Resource)
	}
}

func TestTopUp_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{"amountUsd":"0"}`, `{"amountUsd":500}`, `{}`} {
		rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body=%s code=%d want 400", body, rec.Code)
		}
	}
}

func TestTopUp_CreditsOncePerNonce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 100, 2, 4000)
	hdr := map[string]string{headerPayment: paymentHeader(t, "0xn1", "1000000")}

	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":1}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	var got topUpResponse
	decode(t, rec, &got)
	if got.Balance != 100100 || got.Points != 2 || got.Credited != 100000 || got.Transaction != "0xtx" {
		t.Fatalf("got %+v", got)
	}
	if rec.Header().Get(headerPaymentResponse) == "" {
		t.Fatalf("missing %s header", headerPaymentResponse)
	}

	rec = env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":1}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay code=%d body=%s", rec.Code, rec.Body.String())
	}
	got = topUpResponse{}
	decode(t, rec, &got)
	if !got.AlreadyProcessed || got.Balance != 100100 || got.Credited != 0 {
		t.Fatalf("replay got %+v", got)
	}
	if env.fac.settleCalls != 1 {
		t.Fatalf("settle calls=%d want 1", env.fac.settleCalls)
	}

	p, err := env.payments.FindByNonce(context.Background(), "0xn1")
	if err != nil || p == nil || p.Status != model.PaymentStatusCredited || p.TxHash != "0xtx" {
		t.Fatalf("payment=%+v err=%v", p, err)
	}

	rec = env.do(http.MethodGet, "/api/chat/token-balance/payments", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"credited"`) {
		t.Fatalf("list code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestTopUp_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	hdr := map[string]string{headerPayment: paymentHeader(t, "0xn2", "10")}
	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":"1"}`, hdr)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("code=%d want 402", rec.Code)
	}
	if env.fac.verifyCalls != 0 {
		t.Fatalf("facilitator should not be called")
	}
}

func TestTopUp_VerifyRejected(t *testing.T) {
	env := newTestEnv(t)
	env.fac.valid = false
	hdr := map[string]string{headerPayment: paymentHeader(t, "0xn3", "1000000")}
	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":"1"}`, hdr)
	if rec.Code != http.StatusPaymentRequired || !strings.Contains(rec.Body.String(), "invalid_signature") {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	if p, _ := env.payments.FindByNonce(context.Background(), "0xn3"); p != nil {
		t.Fatalf("payment recorded for rejected proof: %+v", p)
	}
}

func TestTopUp_SettleFailureMarksPayment(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, 0, 0)
	env.fac.settleOK = false
	hdr := map[string]string{headerPayment: paymentHeader(t, "0xn4", "1000000")}
	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":"1"}`, hdr)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("code=%d want 402", rec.Code)
	}
	p, _ := env.payments.FindByNonce(context.Background(), "0xn4")
	if p == nil || p.Status != model.PaymentStatusFailed || p.FailureReason != "insufficient_funds" {
		t.Fatalf("payment=%+v", p)
	}
	acc, _ := env.accounts.Get(context.Background(), testWallet)
	if acc.Balance != 5 {
		t.Fatalf("balance=%d want 5", acc.Balance)
	}
}

func TestChat_UnmintedWalletIsForbidden(t *testing.T) {
	env := newGatedTestEnv(t)
	rec := env.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "not_minted") {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	if env.model.calls != 0 {
		t.Fatalf("model should not be called")
	}
	if acc, _ := env.accounts.Get(context.Background(), testWallet); acc != nil {
		t.Fatalf("row created for unminted wallet: %+v", acc)
	}
}

func TestTopUp_UnmintedWalletIsNotCharged(t *testing.T) {
	env := newGatedTestEnv(t)
	hdr := map[string]string{headerPayment: paymentHeader(t, "0xn5", "1000000")}
	rec := env.do(http.MethodPost, "/api/chat/token-balance/topup", `{"amountUsd":"1"}`, hdr)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "not_minted") {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	if env.fac.verifyCalls != 0 || env.fac.settleCalls != 0 {
		t.Fatalf("facilitator called: verify=%d settle=%d", env.fac.verifyCalls, env.fac.settleCalls)
	}
	if p, _ := env.payments.FindByNonce(context.Background(), "0xn5"); p != nil {
		t.Fatalf("payment recorded: %+v", p)
	}
	if acc, _ := env.accounts.Get(context.Background(), testWallet); acc != nil {
		t.Fatalf("row created for unminted wallet: %+v", acc)
	}
}

// skippingLedger passes the pre-payment check but skips the credit.
type skippingLedger struct{}

func (skippingLedger) Balance(_ context.Context, wallet string) (service.Snapshot, error) {
	return service.Snapshot{Wallet: wallet, Source: service.SourceStore}, nil
}

func (skippingLedger) Spend(_ context.Context, wallet string, _ service.SpendRequest) (service.Snapshot, error) {
	return service.Snapshot{Wallet: wallet, Source: service.SourceSkipped}, nil
}

func (skippingLedger) TopUp(_ context.Context, wallet string, _ int64) (service.Snapshot, error) {
	return service.Snapshot{Wallet: wallet, Source: service.SourceSkipped}, nil
}

func TestTopUp_SkippedCreditLeavesPaymentSettled(t *testing.T) {
	env := newTestEnv(t)
	pay := NewPaymentHandler(skippingLedger{}, env.payments, env.fac, TopUpOptions{
		Network:        "base",
		PayTo:          testPayTo,
		Asset:          "0xusdc",
		CreditsPerUSDC: 100000,
		MaxUSD:         decimal.NewFromInt(100),
	})
	e := echo.New()
	e.POST("/topup", pay.TopUp, appmw.NewAuthMiddlewareWithVerifier(nil).RequireAuth)

	req := httptest.NewRequest(http.MethodPost, "/topup", strings.NewReader(`{"amountUsd":"1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(appmw.WalletHeader, testWallet)
	req.Header.Set(headerPayment, paymentHeader(t, "0xn6", "1000000"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	p, _ := env.payments.FindByNonce(context.Background(), "0xn6")
	if p == nil || p.Status != model.PaymentStatusSettled || p.TxHash != "0xtx" {
		t.Fatalf("payment=%+v", p)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"日本語", 4, "日"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Fatalf("truncate(%q, %d)=%q want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) split a rune", tt.in, tt.n)
		}
	}
}
