package resample

import "math/rand"

// DeriveSeed returns the seed of epoch in the chain rooted at base. Epoch 0
// is base itself; epoch i is drawn from [1000(i-1), 1000i] by a source
// seeded with the seed of epoch i-1.
func DeriveSeed(base int64, epoch int) int64 {
	seed := base
	for i := 1; i <= epoch; i++ {
		r := rand.New(rand.NewSource(seed))
		seed = int64(1000*(i-1)) + r.Int63n(1001)
	}
	return seed
}

// SeedChain returns the seeds of epochs 0..epochs.
func SeedChain(base int64, epochs int) []int64 {
	chain := make([]int64, 0, epochs+1)
	chain = append(chain, base)
	for i := 1; i <= epochs; i++ {
		r := rand.New(rand.NewSource(chain[i-1]))
		chain = append(chain, int64(1000*(i-1))+r.Int63n(1001))
	}
	return chain
}
