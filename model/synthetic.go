package model

import (
	"math/rand/v2"

	"github.com/flashbots/fedledger/protocol"
	"gonum.org/v1/gonum/mat"
)

// Synthetic generates a deterministic, linearly separable-ish dataset of n
// samples: each class has a random centroid and samples are the centroid
// plus Gaussian noise. The same seed always yields the same data.
func Synthetic(cfg *protocol.FLConfig, n int, seed uint64) *Dataset {
	if n <= 0 {
		return &Dataset{}
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	// Centroids depend only on cfg.Seed so every partition shares the task.
	centroidRng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+7))
	centroids := mat.NewDense(cfg.OutputDim, cfg.InputDim, nil)
	for c := 0; c < cfg.OutputDim; c++ {
		for f := 0; f < cfg.InputDim; f++ {
			centroids.Set(c, f, centroidRng.NormFloat64())
		}
	}

	x := mat.NewDense(n, cfg.InputDim, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		label := rng.IntN(cfg.OutputDim)
		y[i] = label
		for f := 0; f < cfg.InputDim; f++ {
			x.Set(i, f, centroids.At(label, f)+0.5*rng.NormFloat64())
		}
	}
	return &Dataset{X: x, Y: y}
}

// Partition splits a dataset into k contiguous shards whose sizes differ by
// at most one sample. Shards may be empty when k exceeds the number of
// samples. It returns nil when k is not positive.
func Partition(ds *Dataset, k int) []*Dataset {
	if k <= 0 {
		return nil
	}
	shards := make([]*Dataset, k)
	n := ds.Len()
	if n == 0 {
		for i := range shards {
			shards[i] = &Dataset{}
		}
		return shards
	}
	_, cols := ds.X.Dims()
	size, extra := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		end := start + size
		if i < extra {
			end++
		}
		if end == start {
			shards[i] = &Dataset{}
			continue
		}
		shards[i] = &Dataset{
			X: mat.DenseCopyOf(ds.X.Slice(start, end, 0, cols)),
			Y: append([]int(nil), ds.Y[start:end]...),
		}
		start = end
	}
	return shards
}
