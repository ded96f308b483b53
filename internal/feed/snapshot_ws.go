// Package feed ingests market data over WebSocket and publishes it to the
// snapshot cache for the monitor to read.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/tradeguard/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SnapshotWriter receives each decoded market snapshot.
type SnapshotWriter interface {
	SetSnapshot(ctx context.Context, snap domain.MarketSnapshot) error
}

// snapshotFrame is the JSON shape of one market data message on the wire.
type snapshotFrame struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	RSI        float64 `json:"rsi"`
	Trend      string  `json:"trend"`
	Volatility float64 `json:"volatility"`
	Timestamp  string  `json:"timestamp"`
}

// SnapshotFeed connects to a market data WebSocket, subscribes to the
// configured symbols, and writes each decoded snapshot to the writer. It
// reconnects with exponential backoff on disconnect.
type SnapshotFeed struct {
	wsURL   string
	symbols []string
	writer  SnapshotWriter
	logger  *slog.Logger
}

// NewSnapshotFeed creates a feed for the given symbols.
func NewSnapshotFeed(wsURL string, symbols []string, writer SnapshotWriter, logger *slog.Logger) *SnapshotFeed {
	return &SnapshotFeed{
		wsURL:   wsURL,
		symbols: symbols,
		writer:  writer,
		logger:  logger.With(slog.String("component", "snapshot_feed")),
	}
}

// Run connects, subscribes, and pumps messages until ctx is cancelled.
func (f *SnapshotFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *SnapshotFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := struct {
		Type    string   `json:"type"`
		Symbols []string `json:"symbols"`
	}{Type: "subscribe", Symbols: f.symbols}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx is cancelled so ReadMessage unblocks,
	// and keep the peer alive with periodic pings.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				_ = conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

// handleMessage decodes one frame and hands it to the writer. Unparseable
// frames and frames without a symbol are dropped.
func (f *SnapshotFeed) handleMessage(ctx context.Context, raw []byte) {
	var frame snapshotFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	symbol := strings.TrimSpace(frame.Symbol)
	if symbol == "" {
		return
	}

	ts := time.Now()
	if frame.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, frame.Timestamp); err == nil {
			ts = t
		}
	}

	snap := domain.MarketSnapshot{
		Symbol:     symbol,
		Price:      frame.Price,
		RSI:        frame.RSI,
		Trend:      parseTrend(frame.Trend),
		Volatility: frame.Volatility,
		Time:       ts,
	}
	if err := f.writer.SetSnapshot(ctx, snap); err != nil {
		f.logger.Debug("snapshot write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

func parseTrend(s string) domain.Trend {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "uptrend", "bull":
		return domain.TrendUp
	case "down", "downtrend", "bear":
		return domain.TrendDown
	default:
		return domain.TrendFlat
	}
}
