package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type edgeKey struct {
	source string
	target string
}

// Snapshot is an immutable copy of the transaction graph. It is safe for
// concurrent readers and never changes once published by a Store.
//
// Successors are kept in edge insertion order: the first AddEdge for an
// ordered pair fixes its position, later calls only replace attributes.
type Snapshot struct {
	order     []string
	nodes     map[string]Node
	succ      map[string][]string
	edges     map[edgeKey]EdgeAttributes
	edgeCount int
	version   string
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		nodes: make(map[string]Node),
		succ:  make(map[string][]string),
		edges: make(map[edgeKey]EdgeAttributes),
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		order:     append([]string(nil), s.order...),
		nodes:     make(map[string]Node, len(s.nodes)),
		succ:      make(map[string][]string, len(s.succ)),
		edges:     make(map[edgeKey]EdgeAttributes, len(s.edges)),
		edgeCount: s.edgeCount,
	}
	for id, n := range s.nodes {
		out.nodes[id] = n
	}
	for id, next := range s.succ {
		out.succ[id] = append([]string(nil), next...)
	}
	for k, attrs := range s.edges {
		out.edges[k] = attrs.clone()
	}
	return out
}

// HasNode reports whether id is part of the snapshot.
func (s *Snapshot) HasNode(id string) bool {
	_, ok := s.nodes[id]
	return ok
}

// Nodes returns node ids in insertion order.
func (s *Snapshot) Nodes() []string {
	return append([]string(nil), s.order...)
}

// Node returns the stored metadata for id.
func (s *Snapshot) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Successors returns the targets of id's outgoing edges in insertion order.
func (s *Snapshot) Successors(id string) ([]string, error) {
	if !s.HasNode(id) {
		return nil, fmt.Errorf("successors of %q: %w", id, ErrNodeNotFound)
	}
	return append([]string(nil), s.succ[id]...), nil
}

// EdgeAttributes returns a copy of the attributes stored on source→target.
func (s *Snapshot) EdgeAttributes(source, target string) (EdgeAttributes, error) {
	attrs, ok := s.edges[edgeKey{source, target}]
	if !ok {
		return EdgeAttributes{}, fmt.Errorf("edge %s->%s: %w", source, target, ErrEdgeNotFound)
	}
	return attrs.clone(), nil
}

// Size reports node and edge counts.
func (s *Snapshot) Size() Size {
	return Size{Nodes: len(s.nodes), Edges: s.edgeCount}
}

// Density is the edges/nodes ratio (nodes floored at 1).
func (s *Snapshot) Density() float64 {
	nodes := len(s.nodes)
	if nodes < 1 {
		nodes = 1
	}
	return float64(s.edgeCount) / float64(nodes)
}

// Neighborhood lists the outgoing edges of id with flattened attributes.
func (s *Snapshot) Neighborhood(id string) (Neighborhood, error) {
	targets, err := s.Successors(id)
	if err != nil {
		return Neighborhood{}, err
	}
	hood := Neighborhood{Entity: id, Outgoing: make([]OutgoingEdge, 0, len(targets))}
	for _, t := range targets {
		hood.Outgoing = append(hood.Outgoing, OutgoingEdge{
			Target: t,
			Edge:   s.edges[edgeKey{id, t}].Flatten(),
		})
	}
	return hood, nil
}

// Version is a content fingerprint of the snapshot. Two snapshots with the
// same nodes, edges, attributes and successor order share a version.
func (s *Snapshot) Version() string {
	return s.version
}

// WithEdge returns a view of the snapshot plus one hypothetical edge. The
// snapshot itself is left untouched.
func (s *Snapshot) WithEdge(source, target string, attrs EdgeAttributes) (*Overlay, error) {
	if source == "" || target == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidEdge)
	}
	if err := attrs.validate(); err != nil {
		return nil, err
	}
	return &Overlay{base: s, source: source, target: target, attrs: attrs.clone()}, nil
}

type fingerprintEdge struct {
	Target   string         `json:"t"`
	Transfer *float64       `json:"rt,omitempty"`
	Metadata map[string]any `json:"m,omitempty"`
}

type fingerprintNode struct {
	Node
	Out []fingerprintEdge `json:"out,omitempty"`
}

// fingerprint hashes nodes in id order; successor lists keep insertion
// order since it decides propagation tie-breaks.
func (s *Snapshot) fingerprint() (string, error) {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := make([]fingerprintNode, 0, len(ids))
	for _, id := range ids {
		fn := fingerprintNode{Node: s.nodes[id]}
		for _, t := range s.succ[id] {
			attrs := s.edges[edgeKey{id, t}]
			fn.Out = append(fn.Out, fingerprintEdge{Target: t, Transfer: attrs.RiskTransfer, Metadata: attrs.Metadata})
		}
		doc = append(doc, fn)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode graph fingerprint: %w", err)
	}
	return chainhash.DoubleHashH(raw).String(), nil
}
