package retry

import (
	"math"
	"math/bits"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy returns how long to wait before attempt n+1, and true once no
// further attempt should be made.
type Strategy interface {
	Sleep(n uint) (time.Duration, bool)
}

type never struct{}

func NewNever() Strategy {
	return never{}
}

func (never) Sleep(uint) (time.Duration, bool) {
	return 0, true
}

// Entropy returns a value in [0, n). It is used to jitter back-off delays.
type Entropy func(n int64) int64

type exponentialBackOff struct {
	base          time.Duration
	max           time.Duration
	maxRetryCount uint
	entropy       Entropy
}

// NewExponentialBackOff doubles base on every retry up to max, with full
// jitter. A nil entropy uses math/rand.
func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetryCount uint, entropy Entropy) Strategy {
	if entropy == nil {
		entropy = rand.Int63n
	}
	return &exponentialBackOff{
		base:          base,
		max:           max,
		maxRetryCount: maxRetryCount,
		entropy:       entropy,
	}
}

func (eb *exponentialBackOff) Sleep(retryCount uint) (time.Duration, bool) {
	if retryCount >= eb.maxRetryCount {
		return 0, true
	}

	ceiling := clamp(int64(eb.max), 0, math.MaxInt64)
	if retryCount < 63 {
		if delay, ok := mulInt64(int64(1)<<retryCount, int64(eb.base)); ok {
			ceiling = clamp(delay, 0, ceiling)
		}
	}
	if ceiling <= 0 {
		return 0, false
	}

	return time.Duration(eb.entropy(ceiling)), false
}

func clamp[T constraints.Ordered](v T, lo T, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mulInt64(l int64, r int64) (int64, bool) {
	if l < 0 || r < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(l), uint64(r))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}
