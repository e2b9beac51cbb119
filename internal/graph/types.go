package graph

import (
	"errors"
	"fmt"
	"math"
)

// DefaultRiskTransfer is the fraction of risk an edge carries when the
// transfer weight was never recorded on it.
const DefaultRiskTransfer = 0.8

var (
	// ErrNodeNotFound is returned when a view is asked about a node it does not hold.
	ErrNodeNotFound = errors.New("graph: node not found")
	// ErrEdgeNotFound is returned when an ordered pair has no edge.
	ErrEdgeNotFound = errors.New("graph: edge not found")
	// ErrInvalidNode rejects empty ids and malformed node metadata.
	ErrInvalidNode = errors.New("graph: invalid node")
	// ErrInvalidEdge rejects empty endpoints and out-of-range transfers.
	ErrInvalidEdge = errors.New("graph: invalid edge")
)

// View is the read-only directed graph consumed by the propagation engine.
// Implementations must return successors in a stable order for the
// lifetime of the view.
type View interface {
	HasNode(id string) bool
	Nodes() []string
	Successors(id string) ([]string, error)
	EdgeAttributes(source, target string) (EdgeAttributes, error)
}

// NodeKind classifies the financial instrument a node stands for.
type NodeKind string

const (
	KindBankAccount  NodeKind = "bank_account"
	KindPixKey       NodeKind = "pix_key"
	KindCryptoWallet NodeKind = "crypto_wallet"
	KindEntity       NodeKind = "entity"
	KindMerchant     NodeKind = "merchant"
	KindUnknown      NodeKind = ""
)

// Node is a vertex of the transaction graph. Risk is never stored on it.
type Node struct {
	ID      string   `json:"id"`
	Kind    NodeKind `json:"type,omitempty"`
	Name    string   `json:"name,omitempty"`
	Address string   `json:"address,omitempty"` // on-chain address for crypto wallets
}

// EdgeAttributes carries the transfer weight used by propagation plus the
// transaction metadata (amount, channel, timestamp...) that is passed through
// without being examined.
type EdgeAttributes struct {
	RiskTransfer *float64       `json:"risk_transfer,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewEdgeAttributes builds attributes with an explicit transfer weight.
func NewEdgeAttributes(transfer float64, metadata map[string]any) EdgeAttributes {
	return EdgeAttributes{RiskTransfer: &transfer, Metadata: metadata}
}

// Transfer returns the edge's risk transfer, or DefaultRiskTransfer when unset.
func (a EdgeAttributes) Transfer() float64 {
	if a.RiskTransfer == nil {
		return DefaultRiskTransfer
	}
	return *a.RiskTransfer
}

// Amount reads the "amount" metadata entry, returning 0 when missing or non-numeric.
func (a EdgeAttributes) Amount() float64 {
	switch v := a.Metadata["amount"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return 0
	}
}

// Channel reads the "channel" metadata entry.
func (a EdgeAttributes) Channel() string {
	s, _ := a.Metadata["channel"].(string)
	return s
}

// Flatten renders the attributes as a single attribute bag, the shape API
// consumers expect ("risk_transfer" sits next to the metadata keys).
func (a EdgeAttributes) Flatten() map[string]any {
	out := make(map[string]any, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		out[k] = v
	}
	if a.RiskTransfer != nil {
		out["risk_transfer"] = *a.RiskTransfer
	}
	return out
}

func (a EdgeAttributes) clone() EdgeAttributes {
	out := EdgeAttributes{Metadata: cloneMap(a.Metadata)}
	if a.RiskTransfer != nil {
		t := *a.RiskTransfer
		out.RiskTransfer = &t
	}
	return out
}

func (a EdgeAttributes) validate() error {
	if a.RiskTransfer == nil {
		return nil
	}
	t := *a.RiskTransfer
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: risk_transfer %v outside [0,1]", ErrInvalidEdge, t)
	}
	return nil
}

// Size reports node and edge counts.
type Size struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// OutgoingEdge is one entry of a node neighborhood.
type OutgoingEdge struct {
	Target string         `json:"target"`
	Edge   map[string]any `json:"edge"`
}

// Neighborhood lists a node's outgoing edges with their attributes.
type Neighborhood struct {
	Entity   string         `json:"entity"`
	Outgoing []OutgoingEdge `json:"outgoing"`
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
