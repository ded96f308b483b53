package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
)

func testPosition() domain.Position {
	return domain.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionLong,
		Quantity:   1,
		EntryPrice: 100,
		Confidence: 0.8,
		OpenedAt:   time.Now().Add(-time.Minute),
	}
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol: "BTCUSDT",
		Price:  101,
		Time:   time.Now(),
	}
}

func TestRecommend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/recommend", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1", req["position_id"])
		assert.InDelta(t, 1.0, req["unrealized_return_pct"].(float64), 1e-9)

		json.NewEncoder(w).Encode(map[string]string{"action": "close", "reason": "regime shift"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit", time.Second)
	rec, err := c.Recommend(context.Background(), testPosition(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, domain.AdvisorClose, rec.Action)
	assert.Equal(t, "regime shift", rec.Reason)
}

func TestRecommendNormalizesAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"action": " HOLD "})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	rec, err := c.Recommend(context.Background(), testPosition(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, domain.AdvisorHold, rec.Action)
}

func TestRecommendUnknownAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"action": "liquidate"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Recommend(context.Background(), testPosition(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestRecommendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Recommend(context.Background(), testPosition(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestRecommendTimeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.Recommend(context.Background(), testPosition(), testSnapshot())
	require.ErrorIs(t, err, domain.ErrAdvisorTimeout)
}
