package helpers

import (
	"math/rand"
	"time"
)

// RandUnix returns generator seeded from current time, not safe for concurrent use.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// RandSeed returns RandUnix() for seed=0.
func RandSeed(seed int64) *rand.Rand {
	if seed == 0 {
		return RandUnix()
	}
	return rand.New(rand.NewSource(seed))
}
