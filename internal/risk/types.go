package risk

import (
	"time"

	"github.com/rawblock/bridgetrace/internal/metrics"
)

// Level is the qualitative risk classification.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// ActivityMetrics summarizes the transfers touching an entity.
type ActivityMetrics struct {
	TransactionCount int      `json:"transaction_count"`
	TotalVolume      float64  `json:"total_volume"`
	AverageRiskScore float64  `json:"average_risk_score"`
	HighRiskCount    int      `json:"high_risk_count"`
	ChannelsUsed     []string `json:"channels_used"`
}

// Assessment is the scored result of AnalyzeEntity.
type Assessment struct {
	EntityID        string          `json:"entity_id"`
	RiskLevel       Level           `json:"risk_level"`
	RiskScore       float64         `json:"risk_score"`
	PropagatedScore float64         `json:"propagated_score"`
	TemporalDecay   float64         `json:"temporal_decay"`
	TimeRangeDays   int             `json:"time_range_days"`
	DominantSource  string          `json:"dominant_source"`
	Metrics         ActivityMetrics `json:"metrics"`
	Recommendations []string        `json:"recommendations"`
	Explanations    []string        `json:"explanations"`
	GraphVersion    string          `json:"graph_version"`
	AnalyzedAt      time.Time       `json:"analyzed_at"`
	CacheHit        bool            `json:"cache_hit"`
}

func (a *Assessment) clone() *Assessment {
	out := *a
	out.Metrics.ChannelsUsed = append([]string(nil), a.Metrics.ChannelsUsed...)
	out.Recommendations = append([]string(nil), a.Recommendations...)
	out.Explanations = append([]string(nil), a.Explanations...)
	return &out
}

// InfluenceMap is the explainability view of one propagation run.
type InfluenceMap struct {
	EntityID          string             `json:"entity_id"`
	GeneratedAt       time.Time          `json:"generated_at"`
	AdaptiveThreshold float64            `json:"adaptive_threshold"`
	Influence         map[string]float64 `json:"influence"`
	DominantSource    map[string]string  `json:"dominant_source"`
	GraphVersion      string             `json:"graph_version"`
}

// SimulationRequest describes one hypothetical transfer. A nil RiskTransfer
// takes Config.DefaultRiskTransfer.
type SimulationRequest struct {
	SourceID     string   `json:"source_id"`
	TargetID     string   `json:"target_id"`
	Amount       float64  `json:"amount"`
	RiskTransfer *float64 `json:"risk_transfer,omitempty"`
}

// SimulatedTransfer echoes the applied transfer.
type SimulatedTransfer struct {
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	Amount       float64 `json:"amount"`
	RiskTransfer float64 `json:"risk_transfer"`
}

// Simulation reports projected scores for the two endpoints of a
// hypothetical transfer, next to the scores without it.
type Simulation struct {
	Simulation    SimulatedTransfer  `json:"simulation"`
	ProjectedRisk map[string]float64 `json:"projected_risk"`
	BaselineRisk  map[string]float64 `json:"baseline_risk"`
	Attribution   metrics.Agreement  `json:"attribution"`
	GraphVersion  string             `json:"graph_version"`
}

// Alert is published for every freshly computed HIGH assessment.
type Alert struct {
	Type           string    `json:"type"`
	EntityID       string    `json:"entity_id"`
	RiskLevel      Level     `json:"risk_level"`
	RiskScore      float64   `json:"risk_score"`
	DominantSource string    `json:"dominant_source"`
	GraphVersion   string    `json:"graph_version"`
	At             time.Time `json:"at"`
}
