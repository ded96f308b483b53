// Package engine implements the position manager: the authoritative in-memory
// table of open positions, the open/adjust/close state machine, and the
// per-tick evaluation entry point used by the monitor loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/tradeguard/internal/domain"
	"github.com/quantfold/tradeguard/internal/exitrule"
	"github.com/quantfold/tradeguard/internal/metrics"
	"github.com/quantfold/tradeguard/internal/policy"
)

// Notifier delivers operator notifications. The manager treats it as
// fire-and-forget; a nil Notifier disables notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OpenRequest carries everything an external caller supplies when opening a
// position. Direction and Confidence come from the advisor's entry signal;
// the snapshot is the market view the entry decision was made on.
type OpenRequest struct {
	Symbol     string
	Direction  domain.Direction
	Quantity   float64
	EntryPrice float64
	Confidence float64
	Snapshot   domain.MarketSnapshot
}

// slot wraps one managed position with its serialization lock. All mutations
// of the position, including persistence, happen under slot.mu, which gives
// per-position atomicity between the monitor loop and external callers and
// preserves the append order of adjustment events.
type slot struct {
	mu  sync.Mutex
	pos domain.Position
}

// Manager owns the active position table. External callers and the monitor
// loop invoke it concurrently; the table lock guards membership while each
// slot's lock serializes read-modify-write sequences for a single position.
type Manager struct {
	store    domain.PositionStore
	outcomes domain.OutcomeSink
	eval     *exitrule.Evaluator
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*slot

	cfgMu  sync.RWMutex
	polCfg policy.Config

	now func() time.Time
}

// NewManager creates a Manager. The outcome sink, notifier, and metrics are
// optional; a nil store is not supported.
func NewManager(store domain.PositionStore, eval *exitrule.Evaluator, polCfg policy.Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		eval:   eval,
		polCfg: polCfg,
		logger: logger.With(slog.String("component", "position_manager")),
		active: make(map[string]*slot),
		now:    time.Now,
	}
}

// SetOutcomeSink attaches the learning collaborator that receives an outcome
// record on every close.
func (m *Manager) SetOutcomeSink(sink domain.OutcomeSink) { m.outcomes = sink }

// SetNotifier attaches an operator notifier for close events.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetMetrics attaches Prometheus instrumentation.
func (m *Manager) SetMetrics(mx *metrics.Metrics) { m.metrics = mx }

// UpdatePolicy swaps the policy constants. The learning adapter calls this on
// its own schedule; positions opened afterwards see the new values.
func (m *Manager) UpdatePolicy(cfg policy.Config) {
	m.cfgMu.Lock()
	m.polCfg = cfg
	m.cfgMu.Unlock()
}

func (m *Manager) policyConfig() policy.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.polCfg
}

// Policy returns the policy constants currently in effect.
func (m *Manager) Policy() policy.Config { return m.policyConfig() }

// Open validates the request, computes the initial protective levels, and
// registers the new position in the active table and the store.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	if err := validateOpen(req); err != nil {
		return domain.Position{}, err
	}

	cfg := m.policyConfig()
	if req.Confidence < cfg.MinConfidence {
		return domain.Position{}, fmt.Errorf("%w: confidence %.2f below minimum %.2f",
			domain.ErrValidation, req.Confidence, cfg.MinConfidence)
	}

	levels := policy.ComputeInitialLevels(cfg, req.Direction, req.EntryPrice, req.Confidence, req.Snapshot)

	pos := domain.Position{
		ID:                uuid.NewString(),
		Symbol:            req.Symbol,
		Direction:         req.Direction,
		Quantity:          req.Quantity,
		EntryPrice:        req.EntryPrice,
		Status:            domain.PositionStatusOpen,
		StopLossInitial:   levels.StopLoss,
		TakeProfitInitial: levels.TakeProfit,
		StopLossCurrent:   levels.StopLoss,
		TakeProfitCurrent: levels.TakeProfit,
		MaxHolding:        levels.MaxHolding,
		Confidence:        req.Confidence,
		OpenedAt:          m.now().UTC(),
	}

	m.mu.Lock()
	m.active[pos.ID] = &slot{pos: pos}
	m.mu.Unlock()

	m.persist(ctx, "save new position", func(ctx context.Context) error {
		return m.store.SaveNew(ctx, pos)
	})

	m.metrics.IncOpen()
	m.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("stop_loss", pos.StopLossCurrent),
		slog.Float64("take_profit", pos.TakeProfitCurrent),
		slog.Duration("max_holding", pos.MaxHolding),
	)
	m.notifyOpen(ctx, pos)

	return pos, nil
}

func validateOpen(req OpenRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	case !req.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", domain.ErrValidation, req.Direction)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	case req.EntryPrice <= 0:
		return fmt.Errorf("%w: entry price must be positive", domain.ErrValidation)
	case req.Confidence < 0 || req.Confidence > 1:
		return fmt.Errorf("%w: confidence must be in [0,1]", domain.ErrValidation)
	}
	return nil
}

// lookup returns the slot for id. When the id is not in the active table the
// store is consulted so callers racing a concurrent close observe
// ErrAlreadyClosed rather than ErrNotFound.
func (m *Manager) lookup(ctx context.Context, id string) (*slot, error) {
	m.mu.Lock()
	s, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	if p, err := m.store.GetByID(ctx, id); err == nil && p.Closed() {
		return nil, domain.ErrAlreadyClosed
	}
	return nil, domain.ErrNotFound
}

// AdjustStopLoss applies a stop-loss candidate to the position. The ratchet
// invariant is enforced here: an adjustment that would loosen protection is
// silently dropped (applied=false, no error). Accepted adjustments bump the
// adjustment counter and append an audit event.
func (m *Manager) AdjustStopLoss(ctx context.Context, id string, candidate float64, reason string, snap domain.MarketSnapshot) (bool, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Closed() {
		return false, domain.ErrAlreadyClosed
	}
	return m.applyStopLossLocked(ctx, s, candidate, reason, snap), nil
}

// AdjustTakeProfit applies a take-profit candidate to the position. Changes
// below the relative noise threshold are dropped (applied=false, no error).
func (m *Manager) AdjustTakeProfit(ctx context.Context, id string, candidate float64, reason string, snap domain.MarketSnapshot) (bool, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Closed() {
		return false, domain.ErrAlreadyClosed
	}
	return m.applyTakeProfitLocked(ctx, s, candidate, reason, snap), nil
}

// applyStopLossLocked enforces the tightening ratchet and records the
// adjustment. Caller holds s.mu.
func (m *Manager) applyStopLossLocked(ctx context.Context, s *slot, candidate float64, reason string, snap domain.MarketSnapshot) bool {
	tighter := candidate > s.pos.StopLossCurrent
	if s.pos.Direction == domain.DirectionShort {
		tighter = candidate < s.pos.StopLossCurrent
	}
	if !tighter {
		return false
	}

	m.recordAdjustmentLocked(ctx, s, domain.FieldStopLoss, s.pos.StopLossCurrent, candidate, reason, snap)
	s.pos.StopLossCurrent = candidate
	s.pos.AdjustmentCount++
	m.persist(ctx, "save stop adjustment", func(ctx context.Context) error {
		return m.store.SavePosition(ctx, s.pos)
	})
	m.metrics.IncAdjustment(string(domain.FieldStopLoss))
	return true
}

// applyTakeProfitLocked enforces the noise threshold and records the
// adjustment. Caller holds s.mu.
func (m *Manager) applyTakeProfitLocked(ctx context.Context, s *slot, candidate float64, reason string, snap domain.MarketSnapshot) bool {
	if !policy.ExceedsNoiseThreshold(m.policyConfig(), s.pos.TakeProfitCurrent, candidate) {
		return false
	}

	m.recordAdjustmentLocked(ctx, s, domain.FieldTakeProfit, s.pos.TakeProfitCurrent, candidate, reason, snap)
	s.pos.TakeProfitCurrent = candidate
	s.pos.AdjustmentCount++
	m.persist(ctx, "save take-profit adjustment", func(ctx context.Context) error {
		return m.store.SavePosition(ctx, s.pos)
	})
	m.metrics.IncAdjustment(string(domain.FieldTakeProfit))
	return true
}

func (m *Manager) recordAdjustmentLocked(ctx context.Context, s *slot, field domain.AdjustedField, oldValue, newValue float64, reason string, snap domain.MarketSnapshot) {
	event := domain.AdjustmentEvent{
		ID:         uuid.NewString(),
		PositionID: s.pos.ID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		Reason:     reason,
		Snapshot:   snap,
		Time:       m.now().UTC(),
	}
	m.persist(ctx, "append adjustment event", func(ctx context.Context) error {
		return m.store.AppendAdjustmentEvent(ctx, event)
	})

	m.logger.DebugContext(ctx, "level adjusted",
		slog.String("position_id", s.pos.ID),
		slog.String("field", string(field)),
		slog.Float64("old", oldValue),
		slog.Float64("new", newValue),
		slog.String("reason", reason),
	)
}

// Close terminates the position at the given exit price. Exactly one caller
// wins a close race; later callers receive ErrAlreadyClosed. On success the
// position leaves the active table, is persisted as closed, and an outcome
// record is emitted to the learning collaborator.
func (m *Manager) Close(ctx context.Context, id string, exitPrice float64, reasons []domain.ExitReason, snap domain.MarketSnapshot) (domain.Position, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Closed() {
		return domain.Position{}, domain.ErrAlreadyClosed
	}
	return m.closeLocked(ctx, s, exitPrice, reasons), nil
}

// closeLocked performs the terminal transition. Caller holds s.mu.
func (m *Manager) closeLocked(ctx context.Context, s *slot, exitPrice float64, reasons []domain.ExitReason) domain.Position {
	if len(reasons) == 0 {
		reasons = []domain.ExitReason{domain.ExitManual}
	}

	now := m.now().UTC()
	pnl := (exitPrice - s.pos.EntryPrice) * s.pos.Quantity * s.pos.Direction.Sign()

	s.pos.Status = domain.PositionStatusClosed
	s.pos.ClosedAt = &now
	s.pos.ExitPrice = &exitPrice
	s.pos.RealizedPnL = &pnl
	s.pos.ExitReason = domain.JoinReasons(reasons)

	m.persist(ctx, "save closed position", func(ctx context.Context) error {
		return m.store.SavePosition(ctx, s.pos)
	})

	m.mu.Lock()
	delete(m.active, s.pos.ID)
	m.mu.Unlock()

	m.metrics.IncClose(string(reasons[0]))
	m.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", s.pos.ID),
		slog.String("symbol", s.pos.Symbol),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", pnl),
		slog.String("exit_reason", s.pos.ExitReason),
	)

	m.emitOutcome(ctx, s.pos, pnl, now)
	m.notifyClose(ctx, s.pos, pnl)

	return s.pos
}

func (m *Manager) notifyOpen(ctx context.Context, pos domain.Position) {
	if m.notifier == nil {
		return
	}
	title := fmt.Sprintf("Position opened: %s %s", pos.Symbol, pos.Direction)
	msg := fmt.Sprintf("entry=%.4f qty=%.4f stop=%.4f take=%.4f max_holding=%s",
		pos.EntryPrice, pos.Quantity, pos.StopLossCurrent, pos.TakeProfitCurrent, pos.MaxHolding)
	if err := m.notifier.Notify(ctx, "position_opened", title, msg); err != nil {
		m.logger.WarnContext(ctx, "open notification failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) emitOutcome(ctx context.Context, pos domain.Position, pnl float64, closedAt time.Time) {
	if m.outcomes == nil {
		return
	}
	rec := domain.OutcomeRecord{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		Success:     pnl > 0,
		RealizedPnL: pnl,
		Confidence:  pos.Confidence,
		Holding:     closedAt.Sub(pos.OpenedAt),
		ExitReason:  pos.ExitReason,
		ClosedAt:    closedAt,
	}
	if err := m.outcomes.EmitOutcome(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "emit outcome failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) notifyClose(ctx context.Context, pos domain.Position, pnl float64) {
	if m.notifier == nil {
		return
	}
	title := fmt.Sprintf("Position closed: %s %s", pos.Symbol, pos.Direction)
	msg := fmt.Sprintf("pnl=%.4f reason=%s adjustments=%d", pnl, pos.ExitReason, pos.AdjustmentCount)
	if err := m.notifier.Notify(ctx, "position_closed", title, msg); err != nil {
		m.logger.WarnContext(ctx, "close notification failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Tick is the single entry point the monitor loop uses per position per
// evaluation. It refreshes the peak return, runs the exit evaluator, and
// either closes the position or applies the recomputed protective levels.
func (m *Manager) Tick(ctx context.Context, id string, currentPrice float64, snap domain.MarketSnapshot) error {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Closed() {
		return domain.ErrAlreadyClosed
	}

	m.metrics.IncTick()

	// Peak tracking: the high-water mark only moves up.
	if ret := s.pos.UnrealizedReturn(currentPrice); ret > s.pos.PeakReturn {
		s.pos.PeakReturn = ret
		m.persist(ctx, "save peak return", func(ctx context.Context) error {
			return m.store.SavePosition(ctx, s.pos)
		})
	}

	reasons := m.eval.Evaluate(ctx, s.pos, currentPrice, snap, m.now())
	if len(reasons) > 0 {
		m.closeLocked(ctx, s, currentPrice, reasons)
		return nil
	}

	cfg := m.policyConfig()
	if cand := policy.ComputeAdjustedStopLoss(cfg, s.pos, currentPrice); cand != s.pos.StopLossCurrent {
		m.applyStopLossLocked(ctx, s, cand, "trailing stop", snap)
	}
	if cand := policy.ComputeAdjustedTakeProfit(cfg, s.pos, currentPrice, snap); cand != s.pos.TakeProfitCurrent {
		m.applyTakeProfitLocked(ctx, s, cand, "take-profit retarget", snap)
	}

	return nil
}

// PositionRef identifies one open position for the monitor loop.
type PositionRef struct {
	ID     string
	Symbol string
}

// OpenPositions returns an atomic snapshot of the active table's identity,
// suitable for one monitor pass.
func (m *Manager) OpenPositions() []PositionRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := make([]PositionRef, 0, len(m.active))
	for _, s := range m.active {
		refs = append(refs, PositionRef{ID: s.pos.ID, Symbol: s.pos.Symbol})
	}
	return refs
}

// Get returns a copy of the position, open or (if still known to the store)
// closed.
func (m *Manager) Get(ctx context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	s, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pos, nil
	}

	p, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("position_manager: get %s: %w", id, err)
	}
	return p, nil
}

// Recover reloads all open positions from the store into the active table.
// Called once at startup so a restart resumes monitoring where it left off.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_manager: recover: %w", err)
	}

	m.mu.Lock()
	for _, p := range open {
		if _, exists := m.active[p.ID]; !exists {
			m.active[p.ID] = &slot{pos: p}
		}
	}
	count := len(m.active)
	m.mu.Unlock()

	m.metrics.SetOpenPositions(count)
	m.logger.InfoContext(ctx, "recovered open positions", slog.Int("count", count))
	return count, nil
}

// persist runs a store write with a single retry. Persistence failures are
// logged, never propagated: the in-memory state already took effect and the
// store must not be able to stall or crash the monitor loop.
func (m *Manager) persist(ctx context.Context, op string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil {
		return
	}

	m.metrics.IncPersistRetry()
	m.logger.WarnContext(ctx, "store write failed, retrying",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	if err := fn(ctx); err != nil {
		m.logger.ErrorContext(ctx, "store write failed after retry",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}
