package reqctx

import "context"

type ctxKey string

const (
	keyRID    ctxKey = "rid"
	keyWallet ctxKey = "wallet"
)

// WithRID stores the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, keyRID, rid)
}

// RID returns correlation id if present.
func RID(ctx context.Context) string {
	v, _ := ctx.Value(keyRID).(string)
	return v
}

// WithWallet stores the authenticated wallet address.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, keyWallet, wallet)
}

// Wallet returns the authenticated wallet if present.
func Wallet(ctx context.Context) string {
	v, _ := ctx.Value(keyWallet).(string)
	return v
}
