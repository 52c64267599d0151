package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPayment = errors.New("invalid_payment")

// DecodeHeader parses a base64 JSON X-PAYMENT header.
func DecodeHeader(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty header", ErrInvalidPayment)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "=")); err != nil {
			return nil, fmt.Errorf("%w: not base64", ErrInvalidPayment)
		}
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}
	if p.Payload.Authorization.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidPayment)
	}
	return &p, nil
}

// EncodeHeader renders v as base64 JSON, the format of X-PAYMENT-RESPONSE.
func EncodeHeader(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Match checks that p pays exactly what req asks for.
func Match(p *Payload, req Requirements) error {
	if p.Scheme != req.Scheme {
		return fmt.Errorf("%w: scheme %q", ErrInvalidPayment, p.Scheme)
	}
	if !strings.EqualFold(p.Network, req.Network) {
		return fmt.Errorf("%w: network %q", ErrInvalidPayment, p.Network)
	}
	auth := p.Payload.Authorization
	if !strings.EqualFold(auth.To, req.PayTo) {
		return fmt.Errorf("%w: wrong recipient", ErrInvalidPayment)
	}
	if auth.Value != req.MaxAmountRequired {
		return fmt.Errorf("%w: amount %s, want %s", ErrInvalidPayment, auth.Value, req.MaxAmountRequired)
	}
	return nil
}
