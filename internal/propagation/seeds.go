package propagation

import (
	"fmt"
	"math"
	"sort"
)

// Seed is an externally supplied initial risk value for a node, e.g. a
// sanctioned wallet from an intelligence feed.
type Seed struct {
	Node  string  `json:"node"`
	Score float64 `json:"score"`
}

// Seeds is an ordered seed list. Order matters: seeds are enqueued in list
// order, and the earlier seed wins a tie at any node both reach.
type Seeds []Seed

// SeedsFromMap orders a map of seeds by node id so map input produces a
// reproducible tie-break order.
func SeedsFromMap(m map[string]float64) Seeds {
	out := make(Seeds, 0, len(m))
	for node, score := range m {
		out = append(out, Seed{Node: node, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Map returns the seeds as a node→score map.
func (s Seeds) Map() map[string]float64 {
	out := make(map[string]float64, len(s))
	for _, seed := range s {
		if cur, ok := out[seed.Node]; !ok || seed.Score > cur {
			out[seed.Node] = seed.Score
		}
	}
	return out
}

// normalize rejects unusable values and collapses duplicate nodes to their
// maximum score, keeping the position of the first occurrence.
func (s Seeds) normalize() (Seeds, error) {
	out := make(Seeds, 0, len(s))
	index := make(map[string]int, len(s))
	for _, seed := range s {
		if math.IsNaN(seed.Score) || math.IsInf(seed.Score, 0) || seed.Score < 0 {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidSeed, seed.Node, seed.Score)
		}
		if i, ok := index[seed.Node]; ok {
			if seed.Score > out[i].Score {
				out[i].Score = seed.Score
			}
			continue
		}
		index[seed.Node] = len(out)
		out = append(out, seed)
	}
	return out, nil
}
