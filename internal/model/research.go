package model

import "time"

// DefaultResearchTTL is how long a research record stays fresh. Absence or
// expiry triggers regeneration, never an error.
const DefaultResearchTTL = 30 * 24 * time.Hour

// ResearchRecord caches enrichment output for one prospect (one-to-one or
// one-to-none).
type ResearchRecord struct {
	ID                  string    `json:"id"`
	ProspectID          string    `json:"prospect_id"`
	Summary             string    `json:"summary"`
	PersonalizationHook string    `json:"personalization_hook"`
	GrowthSignals       []string  `json:"growth_signals,omitempty"`
	TurnoverCostLow     float64   `json:"turnover_cost_low"`
	TurnoverCostHigh    float64   `json:"turnover_cost_high"`
	EnrichmentPayload   []byte    `json:"enrichment_payload,omitempty"`
	AIGenerated         bool      `json:"ai_generated"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Fresh reports whether the record is still within its expiry window.
func (r *ResearchRecord) Fresh(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}
