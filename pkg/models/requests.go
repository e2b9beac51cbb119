// Package models holds the JSON request and response bodies of the public API.
package models

import "time"

// TraceRequest is the body of POST /trace.
type TraceRequest struct {
	SourceID  string  `json:"source_id" binding:"required"`
	MaxHops   int     `json:"max_hops"`
	MinAmount float64 `json:"min_amount"`
}

// RiskAnalysisRequest is the body of POST /risk/analyze.
type RiskAnalysisRequest struct {
	EntityID      string `json:"entity_id" binding:"required"`
	TimeRangeDays int    `json:"time_range_days"`
}

// SimulationRequest is the body of POST /simulate. RiskTransfer is optional.
type SimulationRequest struct {
	SourceID     string   `json:"source_id" binding:"required"`
	TargetID     string   `json:"target_id" binding:"required"`
	Amount       float64  `json:"amount"`
	RiskTransfer *float64 `json:"risk_transfer"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	GraphVersion string    `json:"graph_version"`
}
