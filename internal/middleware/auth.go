package middleware

import (
	"context"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/chat-ledger-backend/internal/reqctx"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
)

// WalletKey is the echo context key holding the authenticated wallet.
const WalletKey = "wallet"

// WalletHeader carries the wallet address when Firebase is not configured.
const WalletHeader = "X-Wallet-Address"

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware verifies Firebase ID tokens for projectID. An empty
// projectID trusts the X-Wallet-Address header instead.
func NewAuthMiddleware(ctx context.Context, projectID string) (*AuthMiddleware, error) {
	if projectID == "" {
		return &AuthMiddleware{}, nil
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{verifier: client}, nil
}

func NewAuthMiddlewareWithVerifier(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// HeaderMode reports whether wallets are taken from the request header.
func (m *AuthMiddleware) HeaderMode() bool {
	return m.verifier == nil
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var raw string
		if m.verifier == nil {
			raw = c.Request().Header.Get(WalletHeader)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
		} else {
			authz := c.Request().Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			tokenStr := strings.TrimPrefix(authz, "Bearer ")
			token, err := m.verifier.VerifyIDToken(c.Request().Context(), tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			}
			raw = walletFromToken(token)
		}

		wallet, err := service.NormalizeWallet(raw)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_wallet"})
		}
		c.Set(WalletKey, wallet)
		c.SetRequest(c.Request().WithContext(reqctx.WithWallet(c.Request().Context(), wallet)))
		return next(c)
	}
}

// walletFromToken prefers a "wallet" custom claim over the uid.
func walletFromToken(token *auth.Token) string {
	if w, ok := token.Claims["wallet"].(string); ok && w != "" {
		return w
	}
	return token.UID
}
