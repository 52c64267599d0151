package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Facilitator verifies and settles payments on behalf of the resource server.
type Facilitator interface {
	Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error)
	Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error)
}

type httpFacilitator struct {
	baseURL string
	client  *http.Client
}

// NewFacilitator returns an HTTP facilitator client. A non-empty apiKey is sent
// as a bearer token.
func NewFacilitator(baseURL, apiKey string, timeout time.Duration) Facilitator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if apiKey != "" {
		client = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: apiKey,
			TokenType:   "Bearer",
		}))
		client.Timeout = timeout
	}
	return &httpFacilitator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (f *httpFacilitator) Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := f.post(ctx, "/verify", p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *httpFacilitator) Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := f.post(ctx, "/settle", p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *httpFacilitator) post(ctx context.Context, path string, p *Payload, req Requirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      *p,
		PaymentRequirements: req,
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("facilitator %s: read body: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("facilitator %s: decode: %w", path, err)
	}
	return nil
}
