package domain

// AdvisorAction is the closed set of recommendations the external advisor can
// make for an open position.
type AdvisorAction string

const (
	AdvisorHold   AdvisorAction = "hold"
	AdvisorAdjust AdvisorAction = "adjust"
	AdvisorClose  AdvisorAction = "close"
)

// Recommendation is the advisor's opinion on an open position. Reason is a
// free-form explanation carried for logging; the action itself is the only
// field the engine acts on.
type Recommendation struct {
	Action AdvisorAction `json:"action"`
	Reason string        `json:"reason"`
}
