package ml

import (
	"errors"
	"math"
	"runtime"
	"sync"
)

// RegressionTree is one boosting round. Nodes are stored flat; node 0 is the
// root and children are absolute indices into Nodes.
type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// Predict walks the tree: features[idx] <= threshold goes left.
func (t *RegressionTree) Predict(features []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, errors.New("empty tree")
	}
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state: cycle")
}

func (t *RegressionTree) depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}

// treeBuilder grows second-order regression trees over binned features.
type treeBuilder struct {
	bins    [][]uint8 // [feature][row]
	mapper  *binMapper
	grad    []float64
	hess    []float64
	params  BoostingParams
	workers int
}

type splitCandidate struct {
	feature int
	bin     int
	gain    float64
	ok      bool
}

func newTreeBuilder(bins [][]uint8, mapper *binMapper, params BoostingParams) *treeBuilder {
	workers := params.NJobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(bins) {
		workers = len(bins)
	}
	if workers < 1 {
		workers = 1
	}
	return &treeBuilder{
		bins:    bins,
		mapper:  mapper,
		params:  params,
		workers: workers,
	}
}

func (b *treeBuilder) build(rows []int, grad, hess []float64) RegressionTree {
	b.grad = grad
	b.hess = hess
	tree := RegressionTree{}
	b.grow(&tree, rows, 0)
	return tree
}

func (b *treeBuilder) grow(tree *RegressionTree, rows []int, depth int) int {
	var g, h float64
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}

	idx := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      b.params.LearningRate * leafWeight(g, h, b.params.Lambda),
		IsLeaf:     true,
	})

	if depth >= b.params.MaxDepth || len(rows) < 2 || h < 2*b.params.MinChildWeight {
		return idx
	}

	split := b.findBestSplit(rows, g, h)
	if !split.ok {
		return idx
	}

	column := b.bins[split.feature]
	left := make([]int, 0, len(rows)/2)
	right := make([]int, 0, len(rows)/2)
	for _, i := range rows {
		if int(column[i]) <= split.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	leftIdx := b.grow(tree, left, depth+1)
	rightIdx := b.grow(tree, right, depth+1)

	node := &tree.Nodes[idx]
	node.FeatureIdx = split.feature
	node.Threshold = b.mapper.threshold(split.feature, split.bin)
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return idx
}

// findBestSplit evaluates every feature, in parallel when workers > 1. Each
// feature's best split lands in its own slot and the reduction runs in
// feature order, so the chosen split does not depend on the worker count.
func (b *treeBuilder) findBestSplit(rows []int, g, h float64) splitCandidate {
	featureCount := len(b.bins)
	candidates := make([]splitCandidate, featureCount)
	parentScore := g * g / (h + b.params.Lambda)

	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			gradHist := make([]float64, b.mapper.maxBins())
			hessHist := make([]float64, b.mapper.maxBins())
			for f := worker; f < featureCount; f += b.workers {
				candidates[f] = b.bestSplitForFeature(f, rows, g, h, parentScore, gradHist, hessHist)
			}
		}(w)
	}
	wg.Wait()

	best := splitCandidate{gain: math.Inf(-1)}
	for _, c := range candidates {
		if c.ok && c.gain > best.gain {
			best = c
		}
	}
	return best
}

func (b *treeBuilder) bestSplitForFeature(f int, rows []int, g, h, parentScore float64, gradHist, hessHist []float64) splitCandidate {
	nBins := b.mapper.binCount(f)
	if nBins < 2 {
		return splitCandidate{}
	}
	gradHist = gradHist[:nBins]
	hessHist = hessHist[:nBins]
	for i := range gradHist {
		gradHist[i] = 0
		hessHist[i] = 0
	}
	column := b.bins[f]
	for _, i := range rows {
		bin := column[i]
		gradHist[bin] += b.grad[i]
		hessHist[bin] += b.hess[i]
	}

	best := splitCandidate{feature: f}
	var gl, hl float64
	for bin := 0; bin < nBins-1; bin++ {
		gl += gradHist[bin]
		hl += hessHist[bin]
		gr := g - gl
		hr := h - hl
		if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
			continue
		}
		gain := 0.5*(gl*gl/(hl+b.params.Lambda)+gr*gr/(hr+b.params.Lambda)-parentScore) - b.params.Gamma
		if gain > 1e-12 && (!best.ok || gain > best.gain) {
			best.bin = bin
			best.gain = gain
			best.ok = true
		}
	}
	return best
}

func leafWeight(g, h, lambda float64) float64 {
	return -g / (h + lambda)
}
