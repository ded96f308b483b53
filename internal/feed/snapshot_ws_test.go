package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingWriter captures every snapshot the feed writes.
type recordingWriter struct {
	snaps []domain.MarketSnapshot
}

func (w *recordingWriter) SetSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	w.snaps = append(w.snaps, snap)
	return nil
}

func TestHandleMessage(t *testing.T) {
	w := &recordingWriter{}
	f := NewSnapshotFeed("ws://example/stream", []string{"BTCUSDT"}, w, testLogger())

	raw := `{"symbol":"BTCUSDT","price":50000.5,"rsi":62,"trend":"up","volatility":0.021,"timestamp":"2026-08-30T12:00:00.5Z"}`
	f.handleMessage(context.Background(), []byte(raw))

	require.Len(t, w.snaps, 1)
	snap := w.snaps[0]
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 50000.5, snap.Price)
	assert.Equal(t, 62.0, snap.RSI)
	assert.Equal(t, domain.TrendUp, snap.Trend)
	assert.Equal(t, 0.021, snap.Volatility)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 500000000, time.UTC), snap.Time.UTC())
}

func TestHandleMessageDefaultsTimestamp(t *testing.T) {
	w := &recordingWriter{}
	f := NewSnapshotFeed("ws://example/stream", []string{"BTCUSDT"}, w, testLogger())

	before := time.Now()
	f.handleMessage(context.Background(), []byte(`{"symbol":"BTCUSDT","price":1,"timestamp":"yesterdayish"}`))

	require.Len(t, w.snaps, 1)
	assert.False(t, w.snaps[0].Time.Before(before))
}

func TestHandleMessageDropsBadFrames(t *testing.T) {
	w := &recordingWriter{}
	f := NewSnapshotFeed("ws://example/stream", []string{"BTCUSDT"}, w, testLogger())

	f.handleMessage(context.Background(), []byte(`{not json`))
	f.handleMessage(context.Background(), []byte(`{"price":1}`))
	f.handleMessage(context.Background(), []byte(`{"symbol":"  "}`))

	assert.Empty(t, w.snaps)
}

func TestParseTrend(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Trend
	}{
		{"up", domain.TrendUp},
		{"UPTREND", domain.TrendUp},
		{" bull ", domain.TrendUp},
		{"down", domain.TrendDown},
		{"bear", domain.TrendDown},
		{"flat", domain.TrendFlat},
		{"", domain.TrendFlat},
		{"sideways", domain.TrendFlat},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseTrend(tt.in), tt.in)
	}
}
