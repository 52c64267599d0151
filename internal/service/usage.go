package service

import "math"

// BuildSpend turns a usage event into the values Spend expects, computed from
// the caller's prior read of the account.
func BuildSpend(prior Snapshot, rawTokens int64, multiplier float64, divisor int64) SpendRequest {
	if rawTokens < 0 {
		rawTokens = 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	if divisor <= 0 {
		divisor = 1
	}
	credits := int64(math.Ceil(float64(rawTokens) * multiplier))
	total := prior.TotalTokensSpent + rawTokens
	return SpendRequest{
		Credits:     credits,
		PointsTotal: total / divisor,
		TotalSpent:  total,
		NewBalance:  nonNegative(prior.Balance - credits),
	}
}
