package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/engine"
)

// PositionManager defines the manager methods the position handler requires.
type PositionManager interface {
	Open(ctx context.Context, req engine.OpenRequest) (domain.Position, error)
	Close(ctx context.Context, id string, exitPrice float64, reasons []domain.ExitReason, snap domain.MarketSnapshot) (domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	OpenPositions() []engine.PositionRef
}

// PositionHandler serves the position intake and inspection endpoints. Entry
// signals land here; everything after Open is the engine's responsibility.
type PositionHandler struct {
	manager PositionManager
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(manager PositionManager, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		manager: manager,
		logger:  logger,
	}
}

// openPositionRequest is the JSON body for POST /api/positions.
type openPositionRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	Confidence float64 `json:"confidence"`

	// Optional market context from the entry signal.
	RSI        float64 `json:"rsi"`
	Trend      string  `json:"trend"`
	Volatility float64 `json:"volatility"`
}

// OpenPosition registers a new position with the engine.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pos, err := h.manager.Open(r.Context(), engine.OpenRequest{
		Symbol:     strings.TrimSpace(req.Symbol),
		Direction:  domain.Direction(strings.ToLower(req.Direction)),
		Quantity:   req.Quantity,
		EntryPrice: req.EntryPrice,
		Confidence: req.Confidence,
		Snapshot: domain.MarketSnapshot{
			Symbol:     strings.TrimSpace(req.Symbol),
			Price:      req.EntryPrice,
			RSI:        req.RSI,
			Trend:      domain.Trend(strings.ToLower(req.Trend)),
			Volatility: req.Volatility,
			Time:       time.Now(),
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to open position")
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions returns the identity of every open position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	refs := h.manager.OpenPositions()
	if refs == nil {
		refs = []engine.PositionRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": refs})
}

// GetPosition returns one position, open or closed.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	pos, err := h.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// closePositionRequest is the JSON body for POST /api/positions/{id}/close.
type closePositionRequest struct {
	ExitPrice float64 `json:"exit_price"`
}

// ClosePosition force-closes a position at the supplied price.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExitPrice <= 0 {
		writeError(w, http.StatusBadRequest, "exit_price must be positive")
		return
	}

	snap := domain.MarketSnapshot{Price: req.ExitPrice, Time: time.Now()}
	pos, err := h.manager.Close(r.Context(), id, req.ExitPrice, []domain.ExitReason{domain.ExitManual}, snap)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrAlreadyClosed):
			writeError(w, http.StatusConflict, "position already closed")
		default:
			h.logger.ErrorContext(r.Context(), "handler: close position failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}

	writeJSON(w, http.StatusOK, pos)
}
