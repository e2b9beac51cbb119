package propagation

import (
	"encoding/json"
	"sort"
)

// Result is the immutable outcome of one propagation run. Accessors hand out
// copies so a cached Result can be shared between requests.
type Result struct {
	scores   map[string]float64
	dominant map[string]string
}

// Score returns the propagated score for node and whether the node was part
// of the analysis.
func (r *Result) Score(node string) (float64, bool) {
	v, ok := r.scores[node]
	return v, ok
}

// ScoreOr returns the node's score or fallback when the node is unknown.
func (r *Result) ScoreOr(node string, fallback float64) float64 {
	if v, ok := r.scores[node]; ok {
		return v
	}
	return fallback
}

// DominantSource returns the seed credited with the node's score.
func (r *Result) DominantSource(node string) (string, bool) {
	v, ok := r.dominant[node]
	return v, ok
}

// Scores returns a copy of every node score.
func (r *Result) Scores() map[string]float64 {
	out := make(map[string]float64, len(r.scores))
	for k, v := range r.scores {
		out[k] = v
	}
	return out
}

// DominantSources returns a copy of the node→seed attribution.
func (r *Result) DominantSources() map[string]string {
	out := make(map[string]string, len(r.dominant))
	for k, v := range r.dominant {
		out[k] = v
	}
	return out
}

// Above returns the scores at or above threshold.
func (r *Result) Above(threshold float64) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range r.scores {
		if v >= threshold {
			out[k] = v
		}
	}
	return out
}

// Nodes lists scored nodes in id order.
func (r *Result) Nodes() []string {
	out := make([]string, 0, len(r.scores))
	for k := range r.scores {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of scored nodes.
func (r *Result) Len() int {
	return len(r.scores)
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Scores         map[string]float64 `json:"scores"`
		DominantSource map[string]string  `json:"dominant_source"`
	}{r.scores, r.dominant})
}
