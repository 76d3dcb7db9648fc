package ml

import (
	"testing"
)

func TestRegressionTreePredict(t *testing.T) {
	tree := RegressionTree{Nodes: []TreeNode{
		{FeatureIdx: 0, Threshold: 0.5, LeftChild: 1, RightChild: 2},
		{IsLeaf: true, Value: -1},
		{FeatureIdx: 1, Threshold: 2, LeftChild: 3, RightChild: 4},
		{IsLeaf: true, Value: 0.5},
		{IsLeaf: true, Value: 2},
	}}

	cases := []struct {
		features []float64
		want     float64
	}{
		{[]float64{0.1, 9}, -1},
		{[]float64{0.5, 9}, -1},
		{[]float64{0.9, 2}, 0.5},
		{[]float64{0.9, 3}, 2},
	}
	for _, tc := range cases {
		got, err := tree.Predict(tc.features)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("features %v: expected %v, got %v", tc.features, tc.want, got)
		}
	}
	if tree.depth() != 2 {
		t.Fatalf("expected depth 2, got %d", tree.depth())
	}
}

func TestRegressionTreeShortVector(t *testing.T) {
	tree := RegressionTree{Nodes: []TreeNode{
		{FeatureIdx: 3, Threshold: 0, LeftChild: 1, RightChild: 2},
		{IsLeaf: true},
		{IsLeaf: true},
	}}
	if _, err := tree.Predict([]float64{1}); err == nil {
		t.Fatalf("expected error for short feature vector")
	}
}

func TestTreeBuilderRespectsMaxDepth(t *testing.T) {
	features, labels := andDataset(64)
	params := DefaultBoostingParams()
	params.MaxDepth = 2
	params.NEstimators = 5

	model := NewGradientBoosting(params)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, tree := range model.Trees {
		if d := tree.depth(); d > params.MaxDepth {
			t.Fatalf("tree %d has depth %d, max %d", i, d, params.MaxDepth)
		}
	}
}

func TestBinMapperQuantileCuts(t *testing.T) {
	features := make([][]float64, 1000)
	for i := range features {
		features[i] = []float64{float64(i), float64(i % 2)}
	}
	mapper := newBinMapper(features, 16)
	if got := mapper.binCount(0); got > 16 {
		t.Fatalf("expected at most 16 bins, got %d", got)
	}
	if got := mapper.binCount(1); got != 2 {
		t.Fatalf("expected 2 bins for a binary column, got %d", got)
	}
	if mapper.bin(1, 0) == mapper.bin(1, 1) {
		t.Fatalf("binary values must land in different bins")
	}
	prev := -1
	for i := 0; i < 1000; i += 37 {
		b := mapper.bin(0, float64(i))
		if b < prev {
			t.Fatalf("bins must be monotonic, %d after %d", b, prev)
		}
		prev = b
	}
}

// andDataset labels a row positive when both binary features are set.
func andDataset(n int) ([][]float64, []int) {
	features := make([][]float64, 0, n)
	labels := make([]int, 0, n)
	for i := 0; i < n; i++ {
		a := float64(i % 2)
		b := float64((i / 2) % 2)
		features = append(features, []float64{a, b})
		if a == 1 && b == 1 {
			labels = append(labels, 1)
		} else {
			labels = append(labels, 0)
		}
	}
	return features, labels
}
