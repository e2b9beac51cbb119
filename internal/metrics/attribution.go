package metrics

import (
	"math"
	"sort"
)

// Unattributed labels nodes that no seed reached.
const Unattributed = "<none>"

// Agreement compares two dominant-source attributions of the same graph.
type Agreement struct {
	Nodes int `json:"nodes"`
	// ARI is the adjusted Rand index: 1 for identical partitions, ~0 for
	// chance-level agreement, negative for worse than chance.
	ARI float64 `json:"ari"`
	// VI is the variation of information in bits. 0 for identical partitions.
	VI float64 `json:"vi"`
	// Changed lists nodes whose dominant source differs.
	Changed []string `json:"changed,omitempty"`
}

// AttributionAgreement partitions nodes by dominant source in each
// attribution and scores how similar the partitions are. Nodes present in
// only one attribution are counted as Unattributed in the other.
func AttributionAgreement(baseline, candidate map[string]string) Agreement {
	nodes := make([]string, 0, len(baseline)+len(candidate))
	seen := make(map[string]struct{}, len(baseline)+len(candidate))
	for _, m := range []map[string]string{baseline, candidate} {
		for n := range m {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				nodes = append(nodes, n)
			}
		}
	}
	sort.Strings(nodes)

	a := make([]string, len(nodes))
	b := make([]string, len(nodes))
	var changed []string
	for i, n := range nodes {
		a[i] = labelOf(baseline, n)
		b[i] = labelOf(candidate, n)
		if a[i] != b[i] {
			changed = append(changed, n)
		}
	}

	return Agreement{
		Nodes:   len(nodes),
		ARI:     AdjustedRandIndex(a, b),
		VI:      VariationOfInformation(a, b),
		Changed: changed,
	}
}

func labelOf(m map[string]string, node string) string {
	if v, ok := m[node]; ok && v != "" {
		return v
	}
	return Unattributed
}

// contingency is the cross-tabulation of two labelings of the same items.
type contingency struct {
	n    int
	cell map[[2]string]int
	row  map[string]int
	col  map[string]int
}

func tabulate(a, b []string) (contingency, bool) {
	if len(a) != len(b) || len(a) < 2 {
		return contingency{}, false
	}
	t := contingency{
		n:    len(a),
		cell: make(map[[2]string]int),
		row:  make(map[string]int),
		col:  make(map[string]int),
	}
	for i := range a {
		t.cell[[2]string{a[i], b[i]}]++
		t.row[a[i]]++
		t.col[b[i]]++
	}
	return t, true
}

// AdjustedRandIndex computes the ARI between two labelings.
//
//	ARI = (Σ C(n_ij,2) - E) / (½(Σ C(a_i,2) + Σ C(b_j,2)) - E)
//	E   = Σ C(a_i,2) · Σ C(b_j,2) / C(n,2)
//
// Fewer than two items, or labelings of different length, score 0.
func AdjustedRandIndex(a, b []string) float64 {
	t, ok := tabulate(a, b)
	if !ok {
		return 0
	}

	var sumCells, sumRows, sumCols float64
	for _, c := range t.cell {
		sumCells += comb2(c)
	}
	for _, c := range t.row {
		sumRows += comb2(c)
	}
	for _, c := range t.col {
		sumCols += comb2(c)
	}

	expected := sumRows * sumCols / comb2(t.n)
	denominator := 0.5*(sumRows+sumCols) - expected
	if math.Abs(denominator) < 1e-12 {
		// both labelings are all-singletons or a single group
		return 1
	}
	return (sumCells - expected) / denominator
}

// VariationOfInformation computes H(A|B) + H(B|A) in bits.
func VariationOfInformation(a, b []string) float64 {
	t, ok := tabulate(a, b)
	if !ok {
		return 0
	}

	n := float64(t.n)
	vi := 0.0
	for key, c := range t.cell {
		p := float64(c) / n
		vi -= p * math.Log2(float64(c)/float64(t.col[key[1]]))
		vi -= p * math.Log2(float64(c)/float64(t.row[key[0]]))
	}
	return vi
}

func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}
