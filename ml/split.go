package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// SplitIndices shuffles 0..n-1 with a fixed seed and cuts off ceil(n*testRatio)
// indices for the test side.
func SplitIndices(n int, testRatio float64, seed int64) (train, test []int, err error) {
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 rows to split, got %d", n)
	}
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	// tolerance keeps 100*0.3 at 30 rather than 31
	nTest := int(math.Ceil(float64(n)*testRatio - 1e-9))
	if nTest >= n {
		nTest = n - 1
	}
	return perm[nTest:], perm[:nTest], nil
}

type Partition struct {
	X [][]float64
	Y []int
}

func (p Partition) Len() int { return len(p.Y) }

type Splits struct {
	Train      Partition
	Validation Partition
	Test       Partition
}

// TrainValidationTestSplit holds out testRatio of the rows, then splits the
// holdout again by validationRatio into test and validation. With 0.30 and
// 0.5 this gives 70/15/15.
func TrainValidationTestSplit(features [][]float64, labels []int, testRatio, validationRatio float64, seed int64) (Splits, error) {
	if len(features) != len(labels) {
		return Splits{}, errors.New("features and labels size mismatch")
	}
	trainIdx, holdIdx, err := SplitIndices(len(features), testRatio, seed)
	if err != nil {
		return Splits{}, err
	}
	keepIdx, testIdx, err := SplitIndices(len(holdIdx), validationRatio, seed)
	if err != nil {
		return Splits{}, fmt.Errorf("holdout split: %w", err)
	}

	validation := make([]int, len(keepIdx))
	for i, k := range keepIdx {
		validation[i] = holdIdx[k]
	}
	test := make([]int, len(testIdx))
	for i, k := range testIdx {
		test[i] = holdIdx[k]
	}

	return Splits{
		Train:      subset(features, labels, trainIdx),
		Validation: subset(features, labels, validation),
		Test:       subset(features, labels, test),
	}, nil
}

func subset(features [][]float64, labels []int, idx []int) Partition {
	p := Partition{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
	for i, j := range idx {
		p.X[i] = features[j]
		p.Y[i] = labels[j]
	}
	return p
}
