// Package advisor implements domain.Advisor against an external model
// service over HTTP.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// Client asks an external advisor service whether a position should be held,
// adjusted, or closed. The service is consulted only as a tie-breaker, so the
// client keeps a short timeout and maps timeouts to domain.ErrAdvisorTimeout
// for the caller to treat as a hold.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an advisor client for the given base URL. timeout bounds
// every Recommend call; zero selects a 2 second default.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// recommendRequest is the JSON envelope sent to POST /v1/recommend.
type recommendRequest struct {
	PositionID       string                `json:"position_id"`
	Symbol           string                `json:"symbol"`
	Direction        string                `json:"direction"`
	EntryPrice       float64               `json:"entry_price"`
	Quantity         float64               `json:"quantity"`
	Confidence       float64               `json:"confidence"`
	UnrealizedReturn float64               `json:"unrealized_return_pct"`
	PeakReturn       float64               `json:"peak_return_pct"`
	HoldingSeconds   float64               `json:"holding_seconds"`
	Snapshot         domain.MarketSnapshot `json:"snapshot"`
}

// recommendResponse is the JSON envelope of a successful recommendation.
type recommendResponse struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Recommend asks the advisor service for a recommendation on the position.
func (c *Client) Recommend(ctx context.Context, p domain.Position, snap domain.MarketSnapshot) (domain.Recommendation, error) {
	reqBody := recommendRequest{
		PositionID:       p.ID,
		Symbol:           p.Symbol,
		Direction:        string(p.Direction),
		EntryPrice:       p.EntryPrice,
		Quantity:         p.Quantity,
		Confidence:       p.Confidence,
		UnrealizedReturn: p.UnrealizedReturn(snap.Price),
		PeakReturn:       p.PeakReturn,
		HoldingSeconds:   p.HoldingTime(snap.Time).Seconds(),
		Snapshot:         snap,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recommend", bytes.NewReader(jsonBody))
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.Recommendation{}, fmt.Errorf("advisor: recommend %s: %w", p.ID, domain.ErrAdvisorTimeout)
		}
		return domain.Recommendation{}, fmt.Errorf("advisor: recommend %s: %w", p.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("advisor: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Recommendation{}, fmt.Errorf("advisor: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rr recommendResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return domain.Recommendation{}, fmt.Errorf("advisor: decode response: %w", err)
	}

	action := domain.AdvisorAction(strings.ToLower(strings.TrimSpace(rr.Action)))
	switch action {
	case domain.AdvisorHold, domain.AdvisorAdjust, domain.AdvisorClose:
	default:
		return domain.Recommendation{}, fmt.Errorf("advisor: unknown action %q", rr.Action)
	}

	return domain.Recommendation{Action: action, Reason: rr.Reason}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// Compile-time interface check.
var _ domain.Advisor = (*Client)(nil)
