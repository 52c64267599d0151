package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/payment"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/reqctx"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	headerPayment         = "X-PAYMENT"
	headerPaymentResponse = "X-PAYMENT-RESPONSE"
)

type TopUpOptions struct {
	Network        string
	PayTo          string
	Asset          string
	CreditsPerUSDC int64
	MaxUSD         decimal.Decimal
}

type PaymentHandler struct {
	ledger      service.BalanceLedger
	payments    repository.PaymentRepository
	facilitator payment.Facilitator
	opts        TopUpOptions
}

func NewPaymentHandler(ledger service.BalanceLedger, payments repository.PaymentRepository, facilitator payment.Facilitator, opts TopUpOptions) *PaymentHandler {
	return &PaymentHandler{ledger: ledger, payments: payments, facilitator: facilitator, opts: opts}
}

type topUpRequest struct {
	AmountUSD json.Number `json:"amountUsd"`
}

type topUpResponse struct {
	Balance          int64  `json:"balance"`
	Points           int64  `json:"points"`
	Credited         int64  `json:"credited"`
	Transaction      string `json:"transaction,omitempty"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
}

type PaymentResponse struct {
	ID        uint64 `json:"id"`
	Amount    string `json:"amountAtomic"`
	Credits   int64  `json:"credits"`
	Network   string `json:"network"`
	TxHash    string `json:"txHash"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func toPaymentResponse(p *model.Payment) PaymentResponse {
	return PaymentResponse{
		ID:        p.ID,
		Amount:    p.AmountAtomic,
		Credits:   p.Credits,
		Network:   p.Network,
		TxHash:    p.TxHash,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func (h *PaymentHandler) requirements(c echo.Context, q payment.Quote) payment.Requirements {
	req := c.Request()
	return payment.Requirements{
		Scheme:            payment.SchemeExact,
		Network:           h.opts.Network,
		MaxAmountRequired: q.AtomicAmount,
		Resource:          fmt.Sprintf("%s://%s%s", c.Scheme(), req.Host, req.URL.Path),
		Description:       fmt.Sprintf("%d chat credits", q.Credits),
		MimeType:          "application/json",
		PayTo:             h.opts.PayTo,
		MaxTimeoutSeconds: 300,
		Asset:             h.opts.Asset,
		Extra:             map[string]any{"name": "USD Coin", "version": "2"},
	}
}

func paymentRequired(c echo.Context, reqs payment.Requirements, msg string) error {
	return c.JSON(http.StatusPaymentRequired, payment.RequiredResponse{
		X402Version: payment.X402Version,
		Error:       msg,
		Accepts:     []payment.Requirements{reqs},
	})
}

// TopUp sells chat credits through the x402 exact scheme. Without X-PAYMENT it
// answers 402 with the payment requirements for the requested amount.
func (h *PaymentHandler) TopUp(c echo.Context) error {
	wallet, _ := c.Get("wallet").(string)
	if wallet == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing wallet"))
	}
	var body topUpRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	q, err := payment.NewQuote(body.AmountUSD.String(), h.opts.CreditsPerUSDC, h.opts.MaxUSD)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_amount", err.Error()))
	}
	reqs := h.requirements(c, q)

	raw := c.Request().Header.Get(headerPayment)
	if strings.TrimSpace(raw) == "" {
		return paymentRequired(c, reqs, "X-PAYMENT header is required")
	}
	p, err := payment.DecodeHeader(raw)
	if err != nil {
		return paymentRequired(c, reqs, err.Error())
	}
	if err := payment.Match(p, reqs); err != nil {
		return paymentRequired(c, reqs, err.Error())
	}

	ctx := c.Request().Context()
	log := logger.WithFields(logrus.Fields{
		"rid":    reqctx.RID(ctx),
		"wallet": wallet,
		"nonce":  p.Payload.Authorization.Nonce,
	})

	existing, err := h.payments.FindByNonce(ctx, p.Payload.Authorization.Nonce)
	if err != nil {
		return h.storeError(c, err)
	}
	if existing != nil {
		return h.replay(c, wallet, existing)
	}

	prior, err := h.ledger.Balance(ctx, wallet)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_wallet", err.Error()))
	}
	if prior.Source == service.SourceSkipped {
		return c.JSON(http.StatusForbidden, NewErrorResponse("not_minted", "mint the access NFT before buying credits"))
	}

	vr, err := h.facilitator.Verify(ctx, p, reqs)
	if err != nil {
		log.WithError(err).Warn("facilitator verify failed")
		return c.JSON(http.StatusBadGateway, NewErrorResponse("facilitator_error", "payment verification unavailable"))
	}
	if !vr.IsValid {
		return paymentRequired(c, reqs, vr.InvalidReason)
	}

	rec := &model.Payment{
		Nonce:         p.Payload.Authorization.Nonce,
		WalletAddress: wallet,
		Payer:         strings.ToLower(vr.Payer),
		AmountAtomic:  q.AtomicAmount,
		Credits:       q.Credits,
		Network:       p.Network,
	}
	created, err := h.payments.CreatePending(ctx, rec)
	if err != nil {
		return h.storeError(c, err)
	}
	if !created {
		existing, err := h.payments.FindByNonce(ctx, rec.Nonce)
		if err != nil || existing == nil {
			return c.JSON(http.StatusConflict, NewErrorResponse("payment_in_progress", "payment is being processed"))
		}
		return h.replay(c, wallet, existing)
	}

	// Once settlement starts the money moves; finish bookkeeping regardless of the client.
	bg := context.WithoutCancel(ctx)
	sr, err := h.facilitator.Settle(bg, p, reqs)
	if err != nil || !sr.Success {
		reason := "settle failed"
		if err != nil {
			reason = err.Error()
		} else if sr.ErrorReason != "" {
			reason = sr.ErrorReason
		}
		log.WithField("reason", reason).Warn("facilitator settle failed")
		if mErr := h.payments.MarkStatus(bg, rec.ID, model.PaymentStatusFailed, "", truncate(reason, 255)); mErr != nil {
			log.WithError(mErr).Error("mark payment failed")
		}
		return paymentRequired(c, reqs, reason)
	}
	if err := h.payments.MarkStatus(bg, rec.ID, model.PaymentStatusSettled, sr.Transaction, ""); err != nil {
		log.WithError(err).Error("mark payment settled")
	}

	snap, err := h.ledger.TopUp(bg, wallet, q.Credits)
	if err != nil {
		log.WithError(err).Error("top-up not applied")
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "payment settled but credits were not applied"))
	}
	if snap.Source == service.SourceSkipped {
		// payment stays settled so it can be credited by hand
		log.WithField("tx", sr.Transaction).Error("top-up settled for unminted wallet")
		return c.JSON(http.StatusForbidden, NewErrorResponse("not_minted", "payment settled but credits were not applied"))
	}
	if err := h.payments.MarkStatus(bg, rec.ID, model.PaymentStatusCredited, "", ""); err != nil {
		log.WithError(err).Error("mark payment credited")
	}
	log.WithFields(logrus.Fields{
		"credits": q.Credits,
		"tx":      sr.Transaction,
		"source":  snap.Source,
	}).Info("top-up credited")

	if hdr, err := payment.EncodeHeader(sr); err == nil {
		c.Response().Header().Set(headerPaymentResponse, hdr)
	}
	return c.JSON(http.StatusOK, topUpResponse{
		Balance:     snap.Balance,
		Points:      snap.Points,
		Credited:    q.Credits,
		Transaction: sr.Transaction,
	})
}

// replay answers a request whose nonce was seen before without crediting again.
func (h *PaymentHandler) replay(c echo.Context, wallet string, existing *model.Payment) error {
	if existing.WalletAddress != wallet {
		return c.JSON(http.StatusConflict, NewErrorResponse("nonce_reused", "payment belongs to another wallet"))
	}
	switch existing.Status {
	case model.PaymentStatusCredited:
		snap, err := h.ledger.Balance(c.Request().Context(), wallet)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", err.Error()))
		}
		return c.JSON(http.StatusOK, topUpResponse{
			Balance:          snap.Balance,
			Points:           snap.Points,
			Transaction:      existing.TxHash,
			AlreadyProcessed: true,
		})
	case model.PaymentStatusFailed:
		return c.JSON(http.StatusPaymentRequired, NewErrorResponse("payment_failed", existing.FailureReason))
	default:
		return c.JSON(http.StatusConflict, NewErrorResponse("payment_in_progress", "payment is being processed"))
	}
}

func (h *PaymentHandler) storeError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrDBNotReady) {
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("db_not_ready", "payments are temporarily unavailable"))
	}
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", err.Error()))
}

func (h *PaymentHandler) ListMine(c echo.Context) error {
	wallet, _ := c.Get("wallet").(string)
	if wallet == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing wallet"))
	}
	list, err := h.payments.ListByWallet(c.Request().Context(), wallet, 20)
	if err != nil {
		return h.storeError(c, err)
	}
	out := make([]PaymentResponse, 0, len(list))
	for i := range list {
		out = append(out, toPaymentResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payments": out})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
