package match

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
)

func bin(b ...byte) features.Descriptor { return features.Descriptor{Binary: b} }

func flt(v ...float32) features.Descriptor { return features.Descriptor{Float: v} }

func TestNew_ValidatesMetricKindCoupling(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		kind   features.DescriptorKind
		ok     bool
	}{
		{"hamming binary", Hamming, features.Binary, true},
		{"l2 float", L2, features.Float, true},
		{"l2 binary", L2, features.Binary, false},
		{"hamming float", Hamming, features.Float, false},
		{"unknown", Metric(5), features.Binary, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.metric, tt.kind)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.metric, m.Metric())
				return
			}
			var invalid *common.InvalidInputError
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

func TestMatch_EmptySets(t *testing.T) {
	m, err := New(Hamming, features.Binary)
	require.NoError(t, err)

	var insufficient *common.InsufficientDataError
	_, err = m.Match([]features.Descriptor{bin(1)}, nil)
	assert.True(t, errors.As(err, &insufficient))
	_, err = m.Match(nil, []features.Descriptor{bin(1)})
	assert.True(t, errors.As(err, &insufficient))
}

func TestMatch_HammingNearest(t *testing.T) {
	m, err := New(Hamming, features.Binary)
	require.NoError(t, err)

	train := []features.Descriptor{bin(0x00, 0x00), bin(0xff, 0x00), bin(0x0f, 0xf0)}
	query := []features.Descriptor{bin(0xfe, 0x00), bin(0x0f, 0xf1), bin(0x01, 0x00)}

	got, err := m.Match(query, train)
	require.NoError(t, err)
	assert.Equal(t, []Correspondence{
		{QueryIndex: 0, TrainIndex: 1, Distance: 1},
		{QueryIndex: 1, TrainIndex: 2, Distance: 1},
		{QueryIndex: 2, TrainIndex: 0, Distance: 1},
	}, got)
}

func TestMatch_TiesResolveToLowestTrainIndex(t *testing.T) {
	m, err := New(Hamming, features.Binary)
	require.NoError(t, err)

	train := []features.Descriptor{bin(0x03), bin(0x0c), bin(0x03)}
	got, err := m.Match([]features.Descriptor{bin(0x00)}, train)
	require.NoError(t, err)
	assert.Equal(t, 0, got[0].TrainIndex)
	assert.Equal(t, 2.0, got[0].Distance)

	l2, err := New(L2, features.Float)
	require.NoError(t, err)
	got, err = l2.Match([]features.Descriptor{flt(0, 0)}, []features.Descriptor{flt(3, 4), flt(0, 5), flt(-4, 3)})
	require.NoError(t, err)
	assert.Equal(t, 0, got[0].TrainIndex)
	assert.InDelta(t, 5.0, got[0].Distance, 1e-12)
}

func TestMatch_RejectsMixedPayloads(t *testing.T) {
	m, err := New(Hamming, features.Binary)
	require.NoError(t, err)

	var invalid *common.InvalidInputError
	_, err = m.Match([]features.Descriptor{flt(1)}, []features.Descriptor{bin(1)})
	assert.True(t, errors.As(err, &invalid))
	_, err = m.Match([]features.Descriptor{bin(1, 2)}, []features.Descriptor{bin(1)})
	assert.True(t, errors.As(err, &invalid))
}

func TestHammingDistance_LongDescriptors(t *testing.T) {
	a := make([]byte, 32)
	b := make([]byte, 32)
	b[0], b[9], b[31] = 0x01, 0xff, 0x80
	assert.Equal(t, 10, HammingDistance(a, b))
	assert.Equal(t, 0, HammingDistance(a, a))
}

func TestCrossCheck(t *testing.T) {
	forward := []Correspondence{
		{QueryIndex: 0, TrainIndex: 1},
		{QueryIndex: 1, TrainIndex: 0},
		{QueryIndex: 2, TrainIndex: 1},
	}
	backward := []Correspondence{
		{QueryIndex: 0, TrainIndex: 1},
		{QueryIndex: 1, TrainIndex: 0},
	}
	assert.Equal(t, forward[:2], CrossCheck(forward, backward))
}

func TestParseMetric(t *testing.T) {
	_, ok, err := ParseMetric("auto")
	require.NoError(t, err)
	assert.False(t, ok)

	m, ok, err := ParseMetric("HAMMING")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Hamming, m)

	_, _, err = ParseMetric("cosine")
	assert.Error(t, err)

	assert.Equal(t, L2, MetricFor(features.Float))
	assert.Equal(t, Hamming, MetricFor(features.Binary))
}

func randomBinary(r *rand.Rand, n int) []features.Descriptor {
	out := make([]features.Descriptor, n)
	for i := range out {
		d := make([]byte, features.BinaryDescriptorBytes)
		r.Read(d)
		out[i] = features.Descriptor{Binary: d}
	}
	return out
}

func TestMatch_Properties(t *testing.T) {
	m, err := New(Hamming, features.Binary)
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)

	properties.Property("matching is deterministic and complete", prop.ForAll(
		func(seed int64, nq, nt int) bool {
			r := rand.New(rand.NewSource(seed))
			query := randomBinary(r, nq)
			train := randomBinary(r, nt)

			a, errA := m.Match(query, train)
			b, errB := m.Match(query, train)
			if errA != nil || errB != nil || len(a) != nq {
				return false
			}
			for i := range a {
				if a[i] != b[i] || a[i].QueryIndex != i {
					return false
				}
				if a[i].TrainIndex < 0 || a[i].TrainIndex >= nt {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 30),
		gen.IntRange(1, 30),
	))

	properties.Property("a descriptor present in train matches itself at distance zero", prop.ForAll(
		func(seed int64, nt int) bool {
			r := rand.New(rand.NewSource(seed))
			train := randomBinary(r, nt)
			pick := r.Intn(nt)

			got, err := m.Match([]features.Descriptor{train[pick]}, train)
			if err != nil {
				return false
			}
			return got[0].Distance == 0 && got[0].TrainIndex <= pick
		},
		gen.Int64(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
