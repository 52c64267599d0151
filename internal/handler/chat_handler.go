package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/chat-ledger-backend/internal/ai"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/reqctx"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"github.com/sirupsen/logrus"
)

type ChatHandler struct {
	ledger  service.BalanceLedger
	model   ai.ChatModel
	pricing *config.Pricing
	divisor int64
}

func NewChatHandler(ledger service.BalanceLedger, model ai.ChatModel, pricing *config.Pricing, pointsDivisor int64) *ChatHandler {
	return &ChatHandler{ledger: ledger, model: model, pricing: pricing, divisor: pointsDivisor}
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
	Points  int64 `json:"points"`
}

func (h *ChatHandler) GetBalance(c echo.Context) error {
	wallet, _ := c.Get("wallet").(string)
	if wallet == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing wallet"))
	}
	snap, err := h.ledger.Balance(c.Request().Context(), wallet)
	if err != nil {
		if errors.Is(err, service.ErrInvalidWallet) {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_wallet", err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, balanceResponse{Balance: snap.Balance, Points: snap.Points})
}

type chatRequest struct {
	Model    string       `json:"model"`
	Persona  string       `json:"persona"`
	Messages []ai.Message `json:"messages"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	Model          string `json:"model"`
	TokensUsed     int64  `json:"tokensUsed"`
	CreditsCharged int64  `json:"creditsCharged"`
	Balance        int64  `json:"balance"`
	Points         int64  `json:"points"`
}

func (h *ChatHandler) Chat(c echo.Context) error {
	wallet, _ := c.Get("wallet").(string)
	if wallet == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing wallet"))
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if h.model == nil {
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("model_unavailable", "chat model is not configured"))
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "messages are required"))
	}
	ctx := c.Request().Context()

	prior, err := h.ledger.Balance(ctx, wallet)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_wallet", err.Error()))
	}
	if prior.Source == service.SourceSkipped {
		return c.JSON(http.StatusForbidden, NewErrorResponse("not_minted", "mint the access NFT to use chat"))
	}
	if prior.Balance <= 0 {
		return c.JSON(http.StatusPaymentRequired, NewErrorResponse("insufficient_credits", "top up chat credits to continue"))
	}

	comp, err := h.model.Complete(ctx, ai.CompletionRequest{
		Model:    req.Model,
		Persona:  req.Persona,
		Messages: req.Messages,
	})
	if err != nil {
		if errors.Is(err, ai.ErrEmptyConversation) {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
		}
		return c.JSON(http.StatusBadGateway, NewErrorResponse("model_error", "chat model unavailable"))
	}

	spend := service.BuildSpend(prior, comp.TotalTokens, h.pricing.Multiplier(comp.Model), h.divisor)
	// The reply is already generated; record usage even if the client went away.
	after, err := h.ledger.Spend(context.WithoutCancel(ctx), wallet, spend)
	if err != nil {
		logger.WithFields(logrus.Fields{"rid": reqctx.RID(ctx), "wallet": wallet}).
			WithError(err).Error("spend not recorded")
		after = prior
	}
	return c.JSON(http.StatusOK, chatResponse{
		Reply:          comp.Text,
		Model:          comp.Model,
		TokensUsed:     comp.TotalTokens,
		CreditsCharged: spend.Credits,
		Balance:        after.Balance,
		Points:         after.Points,
	})
}
