package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSnapshotsAreImmutable(t *testing.T) {
	store := NewStore()
	empty := store.Snapshot()
	assert.Equal(t, Size{}, empty.Size())
	assert.NotEmpty(t, empty.Version())

	require.NoError(t, store.Update(ReferenceGraph))
	ref := store.Snapshot()
	assert.Equal(t, Size{Nodes: 8, Edges: 6}, ref.Size())
	assert.Equal(t, 0, empty.Size().Nodes)

	require.NoError(t, store.Update(func(b *Builder) error {
		return b.AddEdge("merchant_991", "bank_001", NewEdgeAttributes(0.1, nil))
	}))
	assert.Equal(t, 6, ref.Size().Edges)
	assert.Equal(t, 7, store.Snapshot().Size().Edges)
	assert.NotEqual(t, ref.Version(), store.Snapshot().Version())
}

func TestStoreUpdateFailureLeavesGraphUntouched(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Update(ReferenceGraph))
	before := store.Snapshot()

	boom := errors.New("boom")
	err := store.Update(func(b *Builder) error {
		if err := b.AddNode(Node{ID: "half_written"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Same(t, before, store.Snapshot())
	assert.False(t, store.Snapshot().HasNode("half_written"))
}

func TestSuccessorsKeepInsertionOrder(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Update(func(b *Builder) error {
		for _, dst := range []string{"z", "a", "m"} {
			if err := b.AddEdge("hub", dst, EdgeAttributes{}); err != nil {
				return err
			}
		}
		// re-adding keeps position, replaces attributes
		return b.AddEdge("hub", "z", NewEdgeAttributes(0.3, nil))
	}))
	snap := store.Snapshot()

	next, err := snap.Successors("hub")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, next)
	assert.Equal(t, []string{"hub", "z", "a", "m"}, snap.Nodes())
	assert.Equal(t, 3, snap.Size().Edges)

	attrs, err := snap.EdgeAttributes("hub", "z")
	require.NoError(t, err)
	assert.Equal(t, 0.3, attrs.Transfer())

	attrs, err = snap.EdgeAttributes("hub", "a")
	require.NoError(t, err)
	assert.Equal(t, DefaultRiskTransfer, attrs.Transfer())
}

func TestSnapshotLookupErrors(t *testing.T) {
	snap := NewStore().Snapshot()
	_, err := snap.Successors("ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = snap.EdgeAttributes("a", "b")
	assert.ErrorIs(t, err, ErrEdgeNotFound)
	_, err = snap.Neighborhood("ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestBuilderValidation(t *testing.T) {
	store := NewStore(WithAddressValidator(func(addr string) error {
		if !strings.HasPrefix(addr, "bc1") {
			return errors.New("bad address")
		}
		return nil
	}))

	cases := []func(b *Builder) error{
		func(b *Builder) error { return b.AddNode(Node{}) },
		func(b *Builder) error { return b.AddEdge("", "x", EdgeAttributes{}) },
		func(b *Builder) error { return b.AddEdge("a", "b", NewEdgeAttributes(1.2, nil)) },
		func(b *Builder) error { return b.AddEdge("a", "b", NewEdgeAttributes(-0.1, nil)) },
		func(b *Builder) error {
			return b.AddNode(Node{ID: "w", Kind: KindCryptoWallet, Address: "not-an-address"})
		},
	}
	for i, fn := range cases {
		err := store.Update(fn)
		assert.Error(t, err, "case %d", i)
	}

	require.NoError(t, store.Update(func(b *Builder) error {
		return b.AddNode(Node{ID: "w", Kind: KindCryptoWallet, Address: "bc1qexample"})
	}))
}

func TestAddNodeMergesMetadata(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Update(func(b *Builder) error {
		if err := b.AddEdge("a", "b", EdgeAttributes{}); err != nil {
			return err
		}
		return b.AddNode(Node{ID: "a", Kind: KindMerchant, Name: "Shop"})
	}))
	n, ok := store.Snapshot().Node("a")
	require.True(t, ok)
	assert.Equal(t, Node{ID: "a", Kind: KindMerchant, Name: "Shop"}, n)
}

func TestVersionIsContentAddressed(t *testing.T) {
	a, b := NewStore(), NewStore()
	require.NoError(t, a.Update(ReferenceGraph))
	require.NoError(t, b.Update(ReferenceGraph))
	assert.Equal(t, a.Snapshot().Version(), b.Snapshot().Version())
	assert.Len(t, a.Snapshot().Version(), 64)

	require.NoError(t, b.Update(func(bb *Builder) error {
		return bb.AddEdge("mixer_01", "entity_001", NewEdgeAttributes(0.8, nil))
	}))
	assert.NotEqual(t, a.Snapshot().Version(), b.Snapshot().Version())
}

func TestDensityAndNeighborhood(t *testing.T) {
	store := NewStore()
	assert.Equal(t, 0.0, store.Snapshot().Density())

	require.NoError(t, store.Update(ReferenceGraph))
	snap := store.Snapshot()
	assert.Equal(t, 0.75, snap.Density())

	hood, err := snap.Neighborhood("bank_001")
	require.NoError(t, err)
	assert.Equal(t, Neighborhood{Entity: "bank_001", Outgoing: []OutgoingEdge{{
		Target: "pix_001",
		Edge:   map[string]any{"amount": 5000.0, "channel": "pix", "risk": 0.2, "risk_transfer": 0.9},
	}}}, hood)

	leaf, err := snap.Neighborhood("crypto_001")
	require.NoError(t, err)
	assert.Empty(t, leaf.Outgoing)
}

func TestEdgeAttributeAccessors(t *testing.T) {
	attrs := NewEdgeAttributes(0.4, map[string]any{"amount": int64(12), "channel": "pix"})
	assert.Equal(t, 12.0, attrs.Amount())
	assert.Equal(t, "pix", attrs.Channel())
	assert.Equal(t, 0.4, attrs.Transfer())

	var empty EdgeAttributes
	assert.Equal(t, 0.0, empty.Amount())
	assert.Equal(t, "", empty.Channel())
	assert.Equal(t, map[string]any{}, empty.Flatten())
}
