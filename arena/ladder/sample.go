package ladder

import (
	"math"
	"math/rand"
)

// Sample draws k distinct indices without replacement. Each draw picks a
// remaining index with probability proportional to weight^beta, renormalised
// over what is left. beta = 0 is uniform. When every remaining weight is zero
// (or not finite) the draw falls back to uniform.
func Sample(weights []float64, beta float64, k int, rng *rand.Rand) []int {
	n := len(weights)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	w := make([]float64, n)
	for i, x := range weights {
		p := math.Pow(x, beta)
		if x < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			p = 0
		}
		w[i] = p
	}

	taken := make([]bool, n)
	out := make([]int, 0, k)
	for len(out) < k {
		var total float64
		for i, x := range w {
			if !taken[i] {
				total += x
			}
		}

		pick := -1
		if total > 0 && !math.IsInf(total, 0) {
			r := rng.Float64() * total
			for i, x := range w {
				if taken[i] || x == 0 {
					continue
				}
				pick = i
				if r < x {
					break
				}
				r -= x
			}
		} else {
			left := make([]int, 0, n-len(out))
			for i := range w {
				if !taken[i] {
					left = append(left, i)
				}
			}
			pick = left[rng.Intn(len(left))]
		}

		taken[pick] = true
		out = append(out, pick)
	}
	return out
}
