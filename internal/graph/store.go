package graph

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// AddressValidator checks an on-chain address before a crypto wallet node is
// accepted into the graph.
type AddressValidator func(address string) error

// Store owns the live transaction graph. Readers take O(1) snapshots;
// writers clone the current snapshot, mutate the clone and publish it, so a
// running propagation never observes a partial write.
type Store struct {
	mu        sync.Mutex // serializes writers
	current   atomic.Pointer[Snapshot]
	validator AddressValidator
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithAddressValidator validates crypto wallet addresses on insert.
func WithAddressValidator(v AddressValidator) StoreOption {
	return func(s *Store) { s.validator = v }
}

// NewStore creates an empty graph store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	empty := newSnapshot()
	empty.version, _ = empty.fingerprint()
	s.current.Store(empty)
	return s
}

// Snapshot returns the currently published graph.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update applies fn to a private copy of the graph and publishes it when fn
// succeeds. On error the live graph is unchanged.
func (s *Store) Update(fn func(b *Builder) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	b := &Builder{snap: next, validator: s.validator}
	if err := fn(b); err != nil {
		return err
	}

	version, err := next.fingerprint()
	if err != nil {
		return err
	}
	next.version = version
	s.current.Store(next)
	return nil
}

// Builder mutates an unpublished snapshot inside Store.Update.
type Builder struct {
	snap      *Snapshot
	validator AddressValidator
}

// AddNode inserts a node or merges non-empty metadata into an existing one.
func (b *Builder) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if n.Kind == KindCryptoWallet && n.Address != "" && b.validator != nil {
		if err := b.validator(n.Address); err != nil {
			return fmt.Errorf("%w: wallet %s: %v", ErrInvalidNode, n.ID, err)
		}
	}

	existing, ok := b.snap.nodes[n.ID]
	if !ok {
		b.snap.nodes[n.ID] = n
		b.snap.order = append(b.snap.order, n.ID)
		return nil
	}
	if n.Kind != KindUnknown {
		existing.Kind = n.Kind
	}
	if n.Name != "" {
		existing.Name = n.Name
	}
	if n.Address != "" {
		existing.Address = n.Address
	}
	b.snap.nodes[n.ID] = existing
	return nil
}

// AddEdge inserts source→target, creating missing endpoints. Re-adding an
// existing pair replaces its attributes and keeps its successor position.
func (b *Builder) AddEdge(source, target string, attrs EdgeAttributes) error {
	if source == "" || target == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidEdge)
	}
	if err := attrs.validate(); err != nil {
		return err
	}
	for _, id := range []string{source, target} {
		if !b.snap.HasNode(id) {
			if err := b.AddNode(Node{ID: id}); err != nil {
				return err
			}
		}
	}

	key := edgeKey{source, target}
	if _, ok := b.snap.edges[key]; !ok {
		b.snap.succ[source] = append(b.snap.succ[source], target)
		b.snap.edgeCount++
	}
	b.snap.edges[key] = attrs.clone()
	return nil
}

// HasNode reports whether the pending snapshot holds id.
func (b *Builder) HasNode(id string) bool {
	return b.snap.HasNode(id)
}
