// Package propagation spreads seed risk scores across a directed transaction
// graph. An Engine is immutable after construction and holds no per-call
// state, so one Engine may serve concurrent callers as long as each call
// gets a graph view with no concurrent writers.
package propagation

import (
	"errors"
	"fmt"
	"math"

	"github.com/rawblock/bridgetrace/internal/graph"
)

var (
	ErrInvalidConfig = errors.New("propagation: invalid config")
	// ErrInvalidSeed is returned for negative, NaN or infinite seed values.
	ErrInvalidSeed = errors.New("propagation: invalid seed score")
	// ErrInvalidHops is returned for a negative hop budget.
	ErrInvalidHops = errors.New("propagation: hop budget must be non-negative")
	// ErrExpansionBudget is returned when a run pops more frontier entries
	// than Config.MaxExpansions allows.
	ErrExpansionBudget = errors.New("propagation: expansion budget exceeded")
	// ErrGraphContract wraps failures reported by the graph view while
	// walking nodes it claimed to hold.
	ErrGraphContract = errors.New("propagation: graph view contract violated")
)

// Config is fixed at construction.
type Config struct {
	// Decay is the per-hop dampening factor, in (0,1].
	Decay float64 `json:"decay" mapstructure:"decay"`
	// MinSignal is the smallest propagated value that is recorded or forwarded.
	MinSignal float64 `json:"min_signal" mapstructure:"min_signal"`
	// MaxExpansions caps frontier pops per call. 0 disables the cap.
	MaxExpansions int `json:"max_expansions" mapstructure:"max_expansions"`
}

func (c Config) validate() error {
	if math.IsNaN(c.Decay) || c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("%w: decay %v outside (0,1]", ErrInvalidConfig, c.Decay)
	}
	if math.IsNaN(c.MinSignal) || c.MinSignal < 0 {
		return fmt.Errorf("%w: min_signal %v is negative", ErrInvalidConfig, c.MinSignal)
	}
	if c.MaxExpansions < 0 {
		return fmt.Errorf("%w: max_expansions %d is negative", ErrInvalidConfig, c.MaxExpansions)
	}
	return nil
}

// Engine runs breadth-first, best-score-wins risk propagation.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Propagate spreads seeds through view for at most maxHops hops.
//
// Every node of the view starts at 0. Seeds present in the view take their
// seed value and are their own dominant source; seeds the view does not hold
// are skipped. Each frontier entry below the hop budget pushes
// incoming*transfer*decay to its successors, and a successor is overwritten
// only on strict improvement, so the first path dequeued keeps a tie. A
// strictly larger arrival at a seed raises its score and keeps spreading,
// but the seed stays its own dominant source.
func (e *Engine) Propagate(view graph.View, seeds Seeds, maxHops int) (*Result, error) {
	if maxHops < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHops, maxHops)
	}
	seeds, err := seeds.normalize()
	if err != nil {
		return nil, err
	}

	nodes := view.Nodes()
	scores := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		scores[n] = 0
	}
	dominant := make(map[string]string)
	pinned := make(map[string]struct{}, len(seeds))

	queue := newFrontier(len(seeds) * 4)
	for _, s := range seeds {
		if !view.HasNode(s.Node) {
			continue
		}
		if s.Score > scores[s.Node] {
			scores[s.Node] = s.Score
		}
		dominant[s.Node] = s.Node
		pinned[s.Node] = struct{}{}
		queue.push(pending{node: s.Node, risk: s.Score, origin: s.Node})
	}

	expansions := 0
	for queue.len() > 0 {
		cur, _ := queue.pop()
		if cur.depth >= maxHops {
			continue
		}
		expansions++
		if e.cfg.MaxExpansions > 0 && expansions > e.cfg.MaxExpansions {
			return nil, fmt.Errorf("%w: %d", ErrExpansionBudget, e.cfg.MaxExpansions)
		}

		next, err := view.Successors(cur.node)
		if err != nil {
			return nil, fmt.Errorf("%w: successors of %q: %w", ErrGraphContract, cur.node, err)
		}
		for _, nxt := range next {
			attrs, err := view.EdgeAttributes(cur.node, nxt)
			if err != nil {
				return nil, fmt.Errorf("%w: edge %q->%q: %w", ErrGraphContract, cur.node, nxt, err)
			}
			propagated := cur.risk * attrs.Transfer() * e.cfg.Decay
			if propagated < e.cfg.MinSignal {
				continue
			}
			if propagated <= scores[nxt] {
				continue
			}
			scores[nxt] = Round4(propagated)
			if _, isSeed := pinned[nxt]; !isSeed {
				dominant[nxt] = cur.origin
			}
			queue.push(pending{node: nxt, risk: propagated, origin: cur.origin, depth: cur.depth + 1})
		}
	}

	return &Result{scores: scores, dominant: dominant}, nil
}

// Round4 rounds v to four decimal places. Values of magnitude 1e15 or more
// carry no fractional digits at that precision and are returned unchanged,
// which keeps v*1e4 from overflowing to infinity.
func Round4(v float64) float64 {
	if math.Abs(v) >= 1e15 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*1e4) / 1e4
}
