// Package match pairs query descriptors with their nearest train descriptors.
package match

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
)

// Metric is the distance used by the matcher.
type Metric int

const (
	L2 Metric = iota
	Hamming
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case Hamming:
		return "hamming"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric parses "l2" or "hamming". "auto" and "" return ok=false so the caller
// can derive the metric from the descriptor kind.
func ParseMetric(s string) (m Metric, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return 0, false, nil
	case "l2":
		return L2, true, nil
	case "hamming":
		return Hamming, true, nil
	default:
		return 0, false, common.NewInvalidInput("match", "unknown metric %q (want auto, l2 or hamming)", s)
	}
}

// MetricFor returns the metric matching a descriptor kind.
func MetricFor(kind features.DescriptorKind) Metric {
	if kind == features.Float {
		return L2
	}
	return Hamming
}

// Correspondence links query descriptor QueryIndex to train descriptor TrainIndex.
type Correspondence struct {
	QueryIndex int     `json:"query_index"`
	TrainIndex int     `json:"train_index"`
	Distance   float64 `json:"distance"`
}

// Matcher is a brute-force nearest-neighbour matcher. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	metric Metric
	kind   features.DescriptorKind
}

// New validates that metric suits kind: Hamming needs binary descriptors, L2 float ones.
func New(metric Metric, kind features.DescriptorKind) (*Matcher, error) {
	switch {
	case metric == Hamming && kind == features.Binary,
		metric == L2 && kind == features.Float:
		return &Matcher{metric: metric, kind: kind}, nil
	case metric != Hamming && metric != L2:
		return nil, common.NewInvalidInput("match", "unsupported metric %s", metric)
	default:
		return nil, common.NewInvalidInput("match", "metric %s cannot compare %s descriptors", metric, kind)
	}
}

// Metric returns the configured metric.
func (m *Matcher) Metric() Metric { return m.metric }

// Match returns, for each query descriptor in order, its nearest train descriptor.
// Equal distances resolve to the lowest train index.
func (m *Matcher) Match(query, train []features.Descriptor) ([]Correspondence, error) {
	if len(train) == 0 {
		return nil, &common.InsufficientDataError{Op: "match", Reason: "train descriptor set is empty"}
	}
	if len(query) == 0 {
		return nil, &common.InsufficientDataError{Op: "match", Reason: "query descriptor set is empty"}
	}

	width := train[0].Len()
	if err := m.check("train", train, width); err != nil {
		return nil, err
	}
	if err := m.check("query", query, width); err != nil {
		return nil, err
	}

	out := make([]Correspondence, len(query))
	for qi, q := range query {
		best, bestDist := 0, math.Inf(1)
		for ti, tr := range train {
			d := m.distance(q, tr)
			if d < bestDist {
				best, bestDist = ti, d
			}
		}
		out[qi] = Correspondence{QueryIndex: qi, TrainIndex: best, Distance: bestDist}
	}
	return out, nil
}

func (m *Matcher) check(set string, descs []features.Descriptor, width int) error {
	for i, d := range descs {
		if d.Kind() != m.kind {
			return common.NewInvalidInput("match", "%s descriptor %d is %s, matcher expects %s", set, i, d.Kind(), m.kind)
		}
		if d.Len() != width || width == 0 {
			return common.NewInvalidInput("match", "%s descriptor %d has length %d, want %d", set, i, d.Len(), width)
		}
	}
	return nil
}

func (m *Matcher) distance(a, b features.Descriptor) float64 {
	if m.metric == Hamming {
		return float64(HammingDistance(a.Binary, b.Binary))
	}
	return L2Distance(a.Float, b.Float)
}

// HammingDistance counts differing bits. Both slices must have the same length.
func HammingDistance(a, b []byte) int {
	n := 0
	i := 0
	for ; i+8 <= len(a); i += 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	for ; i < len(a); i++ {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return n
}

// L2Distance is the Euclidean distance. Both slices must have the same length.
func L2Distance(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CrossCheck keeps only mutual nearest neighbours: forward[i] matches query i to a train
// descriptor, backward matches train descriptors back to queries.
func CrossCheck(forward, backward []Correspondence) []Correspondence {
	kept := make([]Correspondence, 0, len(forward))
	for _, c := range forward {
		if c.TrainIndex < len(backward) && backward[c.TrainIndex].TrainIndex == c.QueryIndex {
			kept = append(kept, c)
		}
	}
	return kept
}
