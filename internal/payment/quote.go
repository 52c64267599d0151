package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimals of the USDC token.
const USDCDecimals = 6

type Quote struct {
	USD          decimal.Decimal
	AtomicAmount string
	Credits      int64
}

// NewQuote prices a top-up of amountUSD. Amounts are truncated to USDC
// precision and must be positive and not above maxUSD.
func NewQuote(amountUSD string, creditsPerUSDC int64, maxUSD decimal.Decimal) (Quote, error) {
	usd, err := decimal.NewFromString(amountUSD)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: amount %q", ErrInvalidPayment, amountUSD)
	}
	usd = usd.Truncate(USDCDecimals)
	if !usd.IsPositive() {
		return Quote{}, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if maxUSD.IsPositive() && usd.GreaterThan(maxUSD) {
		return Quote{}, fmt.Errorf("%w: amount above %s", ErrInvalidPayment, maxUSD.String())
	}
	credits := usd.Mul(decimal.NewFromInt(creditsPerUSDC)).IntPart()
	if credits <= 0 {
		return Quote{}, fmt.Errorf("%w: amount buys no credits", ErrInvalidPayment)
	}
	return Quote{
		USD:          usd,
		AtomicAmount: usd.Shift(USDCDecimals).String(),
		Credits:      credits,
	}, nil
}
