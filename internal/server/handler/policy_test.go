package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradeguard/internal/policy"
)

// fakePolicyManager holds the config in memory.
type fakePolicyManager struct {
	cfg policy.Config
}

func (f *fakePolicyManager) Policy() policy.Config          { return f.cfg }
func (f *fakePolicyManager) UpdatePolicy(cfg policy.Config) { f.cfg = cfg }

func TestGetPolicy(t *testing.T) {
	mgr := &fakePolicyManager{cfg: policy.Defaults()}
	h := NewPolicyHandler(mgr, testLogger())

	rec := httptest.NewRecorder()
	h.GetPolicy(rec, httptest.NewRequest(http.MethodGet, "/api/policy", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 2.0, got["reward_to_risk"], 1e-9)
	assert.InDelta(t, 0.3, got["trail_fraction"], 1e-9)
}

func TestUpdatePolicyPartial(t *testing.T) {
	mgr := &fakePolicyManager{cfg: policy.Defaults()}
	h := NewPolicyHandler(mgr, testLogger())

	body := `{"reward_to_risk":3.0,"min_confidence":0.4}`
	rec := httptest.NewRecorder()
	h.UpdatePolicy(rec, httptest.NewRequest(http.MethodPut, "/api/policy", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 3.0, mgr.cfg.RewardToRisk, 1e-9)
	assert.InDelta(t, 0.4, mgr.cfg.MinConfidence, 1e-9)
	// Omitted fields keep their values.
	assert.InDelta(t, 2.0, mgr.cfg.TakeProfitBasePct, 1e-9)
	assert.InDelta(t, 0.3, mgr.cfg.TrailFraction, 1e-9)
}

func TestUpdatePolicyRejectsInvalid(t *testing.T) {
	mgr := &fakePolicyManager{cfg: policy.Defaults()}
	h := NewPolicyHandler(mgr, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"zero reward_to_risk", `{"reward_to_risk":0}`},
		{"trail_fraction too big", `{"trail_fraction":1.0}`},
		{"bad json", `{nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.UpdatePolicy(rec, httptest.NewRequest(http.MethodPut, "/api/policy", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	// Nothing was committed.
	assert.InDelta(t, 2.0, mgr.cfg.RewardToRisk, 1e-9)
}
