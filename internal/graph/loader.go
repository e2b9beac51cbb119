package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// fileGraph is the JSON fixture format:
//
//	{"nodes": [{"id": "bank_001", "type": "bank_account", "name": "Banco X"}],
//	 "edges": [{"source": "bank_001", "target": "pix_001", "risk_transfer": 0.9, "amount": 5000}]}
//
// Every edge key other than source, target and risk_transfer is kept as metadata.
type fileGraph struct {
	Nodes []Node           `json:"nodes"`
	Edges []map[string]any `json:"edges"`
}

// LoadJSON reads a graph fixture into the store in a single update.
func LoadJSON(r io.Reader, store *Store) error {
	var doc fileGraph
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode graph fixture: %w", err)
	}

	return store.Update(func(b *Builder) error {
		for _, n := range doc.Nodes {
			if err := b.AddNode(n); err != nil {
				return err
			}
		}
		for i, raw := range doc.Edges {
			src, _ := raw["source"].(string)
			dst, _ := raw["target"].(string)
			attrs := EdgeAttributes{Metadata: make(map[string]any, len(raw))}
			for k, v := range raw {
				switch k {
				case "source", "target":
				case "risk_transfer":
					t, ok := v.(float64)
					if !ok {
						return fmt.Errorf("%w: edge %d risk_transfer is %T", ErrInvalidEdge, i, v)
					}
					attrs.RiskTransfer = &t
				default:
					attrs.Metadata[k] = v
				}
			}
			if err := b.AddEdge(src, dst, attrs); err != nil {
				return fmt.Errorf("edge %d: %w", i, err)
			}
		}
		return nil
	})
}

// LoadJSONFile opens path and loads it with LoadJSON.
func LoadJSONFile(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph fixture: %w", err)
	}
	defer f.Close()
	return LoadJSON(f, store)
}

// ReferenceGraph loads the demonstration graph: a PIX-to-crypto bridge flow
// and a sanctioned wallet whose funds reach entity_001 through a mixer.
func ReferenceGraph(b *Builder) error {
	nodes := []Node{
		{ID: "bank_001", Kind: KindBankAccount, Name: "Banco X"},
		{ID: "pix_001", Kind: KindPixKey, Name: "PIX ***123"},
		{ID: "crypto_001", Kind: KindCryptoWallet, Name: "BTC Wallet"},
		{ID: "wallet_sanctioned_01", Kind: KindCryptoWallet, Name: "Sanctioned wallet"},
		{ID: "mixer_01", Kind: KindCryptoWallet, Name: "Mixer"},
		{ID: "entity_001", Kind: KindEntity, Name: "Entity 001"},
		{ID: "merchant_991", Kind: KindMerchant, Name: "Merchant 991"},
		{ID: "wallet_watchlist_77", Kind: KindCryptoWallet, Name: "Watchlist wallet"},
	}
	for _, n := range nodes {
		if err := b.AddNode(n); err != nil {
			return err
		}
	}

	edges := []struct {
		src, dst string
		attrs    EdgeAttributes
	}{
		{"bank_001", "pix_001", NewEdgeAttributes(0.9, map[string]any{"amount": 5000.0, "channel": "pix", "risk": 0.2})},
		{"pix_001", "crypto_001", NewEdgeAttributes(0.8, map[string]any{"amount": 4800.0, "channel": "bridge", "risk": 0.5})},
		{"wallet_sanctioned_01", "mixer_01", NewEdgeAttributes(0.9, nil)},
		{"mixer_01", "entity_001", NewEdgeAttributes(0.85, nil)},
		{"entity_001", "merchant_991", NewEdgeAttributes(0.5, nil)},
		{"wallet_watchlist_77", "entity_001", NewEdgeAttributes(0.45, nil)},
	}
	for _, e := range edges {
		if err := b.AddEdge(e.src, e.dst, e.attrs); err != nil {
			return err
		}
	}
	return nil
}
