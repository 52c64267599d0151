package service

import (
	"regexp"
	"strings"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{1,64}$`)

// NormalizeWallet lowercases and validates a hex wallet address. EVM (20 byte)
// and Starknet (up to 32 byte) addresses are both accepted.
func NormalizeWallet(raw string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(raw))
	if !walletPattern.MatchString(w) {
		return "", ErrInvalidWallet
	}
	return w, nil
}
