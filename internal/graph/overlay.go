package graph

import "fmt"

// Overlay is a snapshot plus one hypothetical edge. It backs transfer
// simulations: the projection runs against the overlay while the live graph
// stays untouched. Missing endpoints are appended after the base nodes.
type Overlay struct {
	base   *Snapshot
	source string
	target string
	attrs  EdgeAttributes
}

func (o *Overlay) HasNode(id string) bool {
	return id == o.source || id == o.target || o.base.HasNode(id)
}

func (o *Overlay) Nodes() []string {
	nodes := o.base.Nodes()
	if !o.base.HasNode(o.source) {
		nodes = append(nodes, o.source)
	}
	if o.target != o.source && !o.base.HasNode(o.target) {
		nodes = append(nodes, o.target)
	}
	return nodes
}

func (o *Overlay) Successors(id string) ([]string, error) {
	if !o.HasNode(id) {
		return nil, fmt.Errorf("successors of %q: %w", id, ErrNodeNotFound)
	}
	var next []string
	if o.base.HasNode(id) {
		next = append(next, o.base.succ[id]...)
	}
	if id == o.source {
		if _, exists := o.base.edges[edgeKey{o.source, o.target}]; !exists {
			next = append(next, o.target)
		}
	}
	return next, nil
}

func (o *Overlay) EdgeAttributes(source, target string) (EdgeAttributes, error) {
	if source == o.source && target == o.target {
		return o.attrs.clone(), nil
	}
	return o.base.EdgeAttributes(source, target)
}

// Base returns the snapshot under the overlay.
func (o *Overlay) Base() *Snapshot {
	return o.base
}
