package ml

import (
	"math"
	"sort"
)

const maxSupportedBins = 256

// binMapper discretises each feature into at most maxBins buckets. Bucket b
// holds values in (cuts[b-1], cuts[b]], so a split "bin <= b" is the same as
// "value <= cuts[b]" on raw features.
type binMapper struct {
	cuts [][]float64
	max  int
}

func newBinMapper(features [][]float64, maxBins int) *binMapper {
	if maxBins <= 1 || maxBins > maxSupportedBins {
		maxBins = maxSupportedBins
	}
	featureCount := len(features[0])
	mapper := &binMapper{cuts: make([][]float64, featureCount), max: 1}

	values := make([]float64, len(features))
	for f := 0; f < featureCount; f++ {
		for i := range features {
			values[i] = features[i][f]
		}
		sort.Float64s(values)
		unique := uniqueSorted(values)
		var cuts []float64
		if len(unique) <= maxBins {
			cuts = unique
		} else {
			cuts = quantileCuts(values, maxBins)
		}
		mapper.cuts[f] = cuts
		if len(cuts) > mapper.max {
			mapper.max = len(cuts)
		}
	}
	return mapper
}

// transform returns the binned matrix in column-major order.
func (m *binMapper) transform(features [][]float64) [][]uint8 {
	bins := make([][]uint8, len(m.cuts))
	for f := range m.cuts {
		column := make([]uint8, len(features))
		for i := range features {
			column[i] = uint8(m.bin(f, features[i][f]))
		}
		bins[f] = column
	}
	return bins
}

func (m *binMapper) bin(f int, v float64) int {
	cuts := m.cuts[f]
	idx := sort.SearchFloat64s(cuts, v)
	if idx >= len(cuts) {
		idx = len(cuts) - 1
	}
	return idx
}

func (m *binMapper) threshold(f, bin int) float64 {
	return m.cuts[f][bin]
}

func (m *binMapper) binCount(f int) int {
	return len(m.cuts[f])
}

func (m *binMapper) maxBins() int {
	return m.max
}

func uniqueSorted(sorted []float64) []float64 {
	out := make([]float64, 0, 8)
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func quantileCuts(sorted []float64, maxBins int) []float64 {
	n := len(sorted)
	cuts := make([]float64, 0, maxBins)
	for k := 1; k <= maxBins; k++ {
		pos := int(math.Ceil(float64(k)*float64(n)/float64(maxBins))) - 1
		if pos < 0 {
			pos = 0
		}
		v := sorted[pos]
		if len(cuts) == 0 || v != cuts[len(cuts)-1] {
			cuts = append(cuts, v)
		}
	}
	if last := sorted[n-1]; cuts[len(cuts)-1] != last {
		cuts = append(cuts, last)
	}
	return cuts
}
