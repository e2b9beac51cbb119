package risk

import (
	"context"
	"strings"

	"github.com/rawblock/bridgetrace/internal/propagation"
)

// SeedProvider supplies the seed scores used when assessing an entity.
type SeedProvider interface {
	Seeds(ctx context.Context, entityID string) (propagation.Seeds, error)
}

// SeedFunc adapts a function to SeedProvider.
type SeedFunc func(ctx context.Context, entityID string) (propagation.Seeds, error)

func (f SeedFunc) Seeds(ctx context.Context, entityID string) (propagation.Seeds, error) {
	return f(ctx, entityID)
}

// StaticSeeds are the built-in intelligence seeds: a sanctioned wallet that
// always applies, plus a behavioral alert on the mixer for entity_* ids.
type StaticSeeds struct{}

func (StaticSeeds) Seeds(_ context.Context, entityID string) (propagation.Seeds, error) {
	seeds := propagation.Seeds{{Node: "wallet_sanctioned_01", Score: 0.92}}
	if strings.HasPrefix(entityID, "entity_") {
		seeds = append(seeds, propagation.Seed{Node: "mixer_01", Score: 0.55})
	}
	return seeds, nil
}

// ChainSeeds concatenates providers in order. A node supplied by several
// providers keeps its highest score at its first position.
func ChainSeeds(providers ...SeedProvider) SeedProvider {
	return SeedFunc(func(ctx context.Context, entityID string) (propagation.Seeds, error) {
		var out propagation.Seeds
		index := make(map[string]int)
		for _, p := range providers {
			seeds, err := p.Seeds(ctx, entityID)
			if err != nil {
				return nil, err
			}
			for _, s := range seeds {
				if i, ok := index[s.Node]; ok {
					if s.Score > out[i].Score {
						out[i].Score = s.Score
					}
					continue
				}
				index[s.Node] = len(out)
				out = append(out, s)
			}
		}
		return out, nil
	})
}
