package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/risk"
)

func propagateCmd() *cobra.Command {
	var (
		graphPath     string
		seedFlags     []string
		hops          int
		decay         float64
		minSignal     float64
		maxExpansions int
	)
	defaults := risk.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Run one risk propagation over a graph file and print the result",
		Example: `  engine propagate --seed wallet_sanctioned_01=0.92 --hops 4
  engine propagate --graph fixtures/graph.json --seed A=1.0 --hops 3 --decay 0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := parseSeeds(seedFlags)
			if err != nil {
				return err
			}

			store := graph.NewStore()
			if graphPath == "" {
				err = store.Update(graph.ReferenceGraph)
			} else {
				err = graph.LoadJSONFile(graphPath, store)
			}
			if err != nil {
				return fmt.Errorf("load graph: %w", err)
			}

			engine, err := propagation.NewEngine(propagation.Config{
				Decay:         decay,
				MinSignal:     minSignal,
				MaxExpansions: maxExpansions,
			})
			if err != nil {
				return err
			}
			res, err := engine.Propagate(store.Snapshot(), seeds, hops)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "Graph JSON file (default: built-in reference graph)")
	cmd.Flags().StringArrayVarP(&seedFlags, "seed", "s", nil, "Seed as NODE=SCORE (repeatable)")
	cmd.Flags().IntVar(&hops, "hops", defaults.ScoreHops, "Hop budget")
	cmd.Flags().Float64Var(&decay, "decay", defaults.Decay, "Per-hop decay in (0,1]")
	cmd.Flags().Float64Var(&minSignal, "min-signal", defaults.MinSignal, "Smallest propagated value kept")
	cmd.Flags().IntVar(&maxExpansions, "max-expansions", 0, "Frontier expansion cap (0 = unlimited)")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}

// parseSeeds turns NODE=SCORE flags into seeds, keeping flag order.
func parseSeeds(flags []string) (propagation.Seeds, error) {
	seeds := make(propagation.Seeds, 0, len(flags))
	for _, f := range flags {
		i := strings.LastIndex(f, "=")
		if i <= 0 || i == len(f)-1 {
			return nil, fmt.Errorf("seed %q: want NODE=SCORE", f)
		}
		score, err := strconv.ParseFloat(f[i+1:], 64)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", f, err)
		}
		seeds = append(seeds, propagation.Seed{Node: f[:i], Score: score})
	}
	return seeds, nil
}
