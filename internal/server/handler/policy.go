package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantfold/tradeguard/internal/policy"
)

// PolicyManager defines the manager methods the policy handler requires.
type PolicyManager interface {
	Policy() policy.Config
	UpdatePolicy(cfg policy.Config)
}

// PolicyHandler exposes the tunable policy constants so the external learning
// adapter can read and rewrite them while the engine runs.
type PolicyHandler struct {
	manager PolicyManager
	logger  *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(manager PolicyManager, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{
		manager: manager,
		logger:  logger,
	}
}

// policyView is the JSON shape of the tunables the learning adapter adjusts.
// Pointers distinguish "leave unchanged" from an explicit zero on update.
type policyView struct {
	MinConfidence           *float64 `json:"min_confidence,omitempty"`
	TakeProfitBasePct       *float64 `json:"take_profit_base_pct,omitempty"`
	TakeProfitConfidencePct *float64 `json:"take_profit_confidence_pct,omitempty"`
	TrendBoost              *float64 `json:"trend_boost,omitempty"`
	TrendFade               *float64 `json:"trend_fade,omitempty"`
	RewardToRisk            *float64 `json:"reward_to_risk,omitempty"`
	MaxStopLossPct          *float64 `json:"max_stop_loss_pct,omitempty"`
	TrailFraction           *float64 `json:"trail_fraction,omitempty"`
	ExtendFactor            *float64 `json:"extend_factor,omitempty"`
	ContractFactor          *float64 `json:"contract_factor,omitempty"`
	FastContractFactor      *float64 `json:"fast_contract_factor,omitempty"`
	NoiseThreshold          *float64 `json:"noise_threshold,omitempty"`
}

// GetPolicy returns the policy constants currently in effect.
// GET /api/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg := h.manager.Policy()
	writeJSON(w, http.StatusOK, viewFromConfig(cfg))
}

// UpdatePolicy applies a partial update to the policy constants. Omitted
// fields keep their current values; positions opened afterwards see the new
// constants.
// PUT /api/policy
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := h.manager.Policy()
	apply(&cfg.MinConfidence, req.MinConfidence)
	apply(&cfg.TakeProfitBasePct, req.TakeProfitBasePct)
	apply(&cfg.TakeProfitConfidencePct, req.TakeProfitConfidencePct)
	apply(&cfg.TrendBoost, req.TrendBoost)
	apply(&cfg.TrendFade, req.TrendFade)
	apply(&cfg.RewardToRisk, req.RewardToRisk)
	apply(&cfg.MaxStopLossPct, req.MaxStopLossPct)
	apply(&cfg.TrailFraction, req.TrailFraction)
	apply(&cfg.ExtendFactor, req.ExtendFactor)
	apply(&cfg.ContractFactor, req.ContractFactor)
	apply(&cfg.FastContractFactor, req.FastContractFactor)
	apply(&cfg.NoiseThreshold, req.NoiseThreshold)

	if cfg.RewardToRisk <= 0 {
		writeError(w, http.StatusBadRequest, "reward_to_risk must be positive")
		return
	}
	if cfg.TrailFraction <= 0 || cfg.TrailFraction >= 1 {
		writeError(w, http.StatusBadRequest, "trail_fraction must be in (0,1)")
		return
	}

	h.manager.UpdatePolicy(cfg)
	h.logger.InfoContext(r.Context(), "policy constants updated")

	writeJSON(w, http.StatusOK, viewFromConfig(cfg))
}

func viewFromConfig(cfg policy.Config) policyView {
	return policyView{
		MinConfidence:           &cfg.MinConfidence,
		TakeProfitBasePct:       &cfg.TakeProfitBasePct,
		TakeProfitConfidencePct: &cfg.TakeProfitConfidencePct,
		TrendBoost:              &cfg.TrendBoost,
		TrendFade:               &cfg.TrendFade,
		RewardToRisk:            &cfg.RewardToRisk,
		MaxStopLossPct:          &cfg.MaxStopLossPct,
		TrailFraction:           &cfg.TrailFraction,
		ExtendFactor:            &cfg.ExtendFactor,
		ContractFactor:          &cfg.ContractFactor,
		FastContractFactor:      &cfg.FastContractFactor,
		NoiseThreshold:          &cfg.NoiseThreshold,
	}
}

func apply(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
