package risk

import (
	"errors"
	"fmt"

	"github.com/rawblock/bridgetrace/internal/propagation"
)

// ErrInvalidConfig is returned by NewService for unusable settings.
var ErrInvalidConfig = errors.New("risk: invalid config")

// Config holds the scoring policy. Every threshold is configuration, not
// hard-coded policy; DefaultConfig carries the reference values.
type Config struct {
	Decay         float64 `mapstructure:"decay"`
	MinSignal     float64 `mapstructure:"min_signal"`
	MaxExpansions int     `mapstructure:"max_expansions"`

	ScoreHops      int `mapstructure:"score_hops"`
	MapHops        int `mapstructure:"map_hops"`
	SimulationHops int `mapstructure:"simulation_hops"`

	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`

	BehavioralComponent float64 `mapstructure:"behavioral_component"`
	PropagationWeight   float64 `mapstructure:"propagation_weight"`
	ScoreCap            float64 `mapstructure:"score_cap"`

	TemporalFloor       float64 `mapstructure:"temporal_floor"`
	TemporalHorizonDays float64 `mapstructure:"temporal_horizon_days"`

	DenseThreshold  float64 `mapstructure:"dense_threshold"`
	SparseThreshold float64 `mapstructure:"sparse_threshold"`
	DensityCutoff   float64 `mapstructure:"density_cutoff"`

	DefaultRiskTransfer float64 `mapstructure:"default_risk_transfer"`

	MinDays int `mapstructure:"min_days"`
	MaxDays int `mapstructure:"max_days"`
}

func DefaultConfig() Config {
	return Config{
		Decay:               0.75,
		MinSignal:           0.02,
		ScoreHops:           4,
		MapHops:             5,
		SimulationHops:      5,
		HighThreshold:       0.7,
		MediumThreshold:     0.4,
		BehavioralComponent: 0.15,
		PropagationWeight:   0.7,
		ScoreCap:            0.99,
		TemporalFloor:       0.55,
		TemporalHorizonDays: 3650,
		DenseThreshold:      0.05,
		SparseThreshold:     0.02,
		DensityCutoff:       1,
		DefaultRiskTransfer: 0.7,
		MinDays:             1,
		MaxDays:             365,
	}
}

// Engine returns the propagation settings.
func (c Config) Engine() propagation.Config {
	return propagation.Config{Decay: c.Decay, MinSignal: c.MinSignal, MaxExpansions: c.MaxExpansions}
}

func (c Config) validate() error {
	switch {
	case c.ScoreHops < 0 || c.MapHops < 0 || c.SimulationHops < 0:
		return fmt.Errorf("%w: hop budgets must be non-negative", ErrInvalidConfig)
	case c.MediumThreshold > c.HighThreshold:
		return fmt.Errorf("%w: medium threshold %v above high threshold %v", ErrInvalidConfig, c.MediumThreshold, c.HighThreshold)
	case c.TemporalHorizonDays <= 0:
		return fmt.Errorf("%w: temporal horizon must be positive", ErrInvalidConfig)
	case c.DefaultRiskTransfer < 0 || c.DefaultRiskTransfer > 1:
		return fmt.Errorf("%w: default risk transfer %v outside [0,1]", ErrInvalidConfig, c.DefaultRiskTransfer)
	case c.MinDays > c.MaxDays:
		return fmt.Errorf("%w: day range [%d,%d] is empty", ErrInvalidConfig, c.MinDays, c.MaxDays)
	}
	return nil
}
