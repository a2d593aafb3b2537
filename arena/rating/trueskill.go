package rating

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// --- TrueSkill defaults (Herbrich et al., free-for-all) ---
const (
	tsMu              = 25.0
	tsSigma           = tsMu / 3
	tsBeta            = tsSigma / 2
	tsTau             = tsSigma / 100
	tsDrawProbability = 0.10
	tsMinDelta        = 0.0001
	tsMaxIterations   = 10
)

var errNumeric = errors.New("trueskill: cannot calculate correctly")

// TrueSkill rates free-for-all matches of single-player teams with the
// TrueSkill factor graph. Ties are expressed as equal ranks.
type TrueSkill struct {
	Mu              float64
	Sigma           float64
	Beta            float64 // performance noise
	Tau             float64 // dynamics added before each match
	DrawProbability float64
}

func NewTrueSkill() TrueSkill {
	return TrueSkill{Mu: tsMu, Sigma: tsSigma, Beta: tsBeta, Tau: tsTau, DrawProbability: tsDrawProbability}
}

func (ts TrueSkill) Name() string    { return "trueskill" }
func (ts TrueSkill) Default() Rating { return Rating{Mu: ts.Mu, Sigma: ts.Sigma} }

// --- gaussian in natural parameters ---

type gaussian struct{ pi, tau float64 }

func fromMuSigma(mu, sigma float64) gaussian {
	pi := 1 / (sigma * sigma)
	return gaussian{pi: pi, tau: pi * mu}
}

func (g gaussian) mu() float64 {
	if g.pi == 0 {
		return 0
	}
	return g.tau / g.pi
}

func (g gaussian) sigma() float64 {
	if g.pi == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(1 / g.pi)
}

func (g gaussian) mul(o gaussian) gaussian { return gaussian{g.pi + o.pi, g.tau + o.tau} }
func (g gaussian) div(o gaussian) gaussian { return gaussian{g.pi - o.pi, g.tau - o.tau} }

func (g gaussian) delta(o gaussian) float64 {
	piDelta := math.Abs(g.pi - o.pi)
	if math.IsInf(piDelta, 0) {
		return 0
	}
	return math.Max(math.Abs(g.tau-o.tau), math.Sqrt(piDelta))
}

// --- factor graph variables ---

type variable struct {
	value gaussian
	msgs  map[int]gaussian // keyed by factor id
}

func newVariable() *variable { return &variable{msgs: make(map[int]gaussian)} }

func (v *variable) set(val gaussian) float64 {
	d := v.value.delta(val)
	v.value = val
	return d
}

func (v *variable) updateMessage(factor int, msg gaussian) float64 {
	old := v.msgs[factor]
	v.msgs[factor] = msg
	return v.set(v.value.div(old).mul(msg))
}

func (v *variable) updateValue(factor int, val gaussian) float64 {
	old := v.msgs[factor]
	v.msgs[factor] = val.mul(old).div(v.value)
	return v.set(val)
}

// --- normal distribution helpers ---

func pdf(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }
func cdf(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }
func ppf(p float64) float64 { return -math.Sqrt2 * math.Erfcinv(2*p) }

func vWin(diff, margin float64) float64 {
	x := diff - margin
	if d := cdf(x); d != 0 {
		return pdf(x) / d
	}
	return -x
}

func wWin(diff, margin float64) (float64, error) {
	x := diff - margin
	v := vWin(diff, margin)
	w := v * (v + x)
	if 0 < w && w < 1 {
		return w, nil
	}
	return 0, errNumeric
}

func vDraw(diff, margin float64) float64 {
	abs := math.Abs(diff)
	a, b := margin-abs, -margin-abs
	denom := cdf(a) - cdf(b)
	v := a
	if denom != 0 {
		v = (pdf(b) - pdf(a)) / denom
	}
	if diff < 0 {
		return -v
	}
	return v
}

func wDraw(diff, margin float64) (float64, error) {
	abs := math.Abs(diff)
	a, b := margin-abs, -margin-abs
	denom := cdf(a) - cdf(b)
	if denom == 0 {
		return 0, errNumeric
	}
	v := vDraw(abs, margin)
	return v*v + (a*pdf(a)-b*pdf(b))/denom, nil
}

// drawMargin for a comparison between `size` players in total.
func drawMargin(p float64, size int, beta float64) float64 {
	return ppf((p+1)/2) * math.Sqrt(float64(size)) * beta
}

// Rate runs the message-passing schedule over
// skill -> performance -> pairwise difference of rank-adjacent players.
func (ts TrueSkill) Rate(ratings []Rating, ranks []int) ([]Rating, error) {
	n := len(ratings)
	if n != len(ranks) {
		return nil, fmt.Errorf("trueskill: %d ratings but %d ranks", n, len(ranks))
	}
	if n < 2 {
		return nil, fmt.Errorf("trueskill: need at least 2 players, got %d", n)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ranks[order[a]] < ranks[order[b]] })

	skill := make([]*variable, n)
	perf := make([]*variable, n)
	for i := range skill {
		skill[i], perf[i] = newVariable(), newVariable()
	}
	diffs := make([]*variable, n-1)
	for k := range diffs {
		diffs[k] = newVariable()
	}

	// factor ids
	prior := func(i int) int { return i }
	likelihood := func(i int) int { return n + i }
	sum := func(k int) int { return 2*n + k }
	trunc := func(k int) int { return 3*n + k }

	beta2 := ts.Beta * ts.Beta
	margin := drawMargin(ts.DrawProbability, 2, ts.Beta)

	likelihoodDown := func(i int) {
		msg := skill[i].value.div(skill[i].msgs[likelihood(i)])
		a := 1 / (1 + beta2*msg.pi)
		perf[i].updateMessage(likelihood(i), gaussian{a * msg.pi, a * msg.tau})
	}
	likelihoodUp := func(i int) {
		msg := perf[i].value.div(perf[i].msgs[likelihood(i)])
		a := 1 / (1 + beta2*msg.pi)
		skill[i].updateMessage(likelihood(i), gaussian{a * msg.pi, a * msg.tau})
	}

	// weighted sum: target = Σ coeffs[j] * vals[j]
	sumUpdate := func(target *variable, fid int, vals []*variable, coeffs []float64) float64 {
		var piInv, mu float64
		for j, v := range vals {
			d := v.value.div(v.msgs[fid])
			mu += coeffs[j] * d.mu()
			if math.IsInf(piInv, 1) {
				continue
			}
			if d.pi == 0 {
				piInv = math.Inf(1)
				continue
			}
			piInv += coeffs[j] * coeffs[j] / d.pi
		}
		pi := 1 / piInv
		return target.updateMessage(fid, gaussian{pi: pi, tau: pi * mu})
	}

	// diffs[k] = perf[k] - perf[k+1]
	diffDown := func(k int) {
		sumUpdate(diffs[k], sum(k), []*variable{perf[k], perf[k+1]}, []float64{1, -1})
	}
	diffUp := func(k, index int) {
		if index == 0 {
			sumUpdate(perf[k], sum(k), []*variable{diffs[k], perf[k+1]}, []float64{1, 1})
			return
		}
		sumUpdate(perf[k+1], sum(k), []*variable{perf[k], diffs[k]}, []float64{1, -1})
	}
	truncUp := func(k int) (float64, error) {
		d := diffs[k].value.div(diffs[k].msgs[trunc(k)])
		sqrtPi := math.Sqrt(d.pi)
		x, m := d.tau/sqrtPi, margin*sqrtPi

		var v, w float64
		var err error
		if ranks[order[k]] == ranks[order[k+1]] {
			v = vDraw(x, m)
			w, err = wDraw(x, m)
		} else {
			v = vWin(x, m)
			w, err = wWin(x, m)
		}
		if err != nil {
			return 0, err
		}
		denom := 1 - w
		return diffs[k].updateValue(trunc(k), gaussian{pi: d.pi / denom, tau: (d.tau + sqrtPi*v) / denom}), nil
	}

	for i, idx := range order {
		r := ratings[idx]
		sigma := math.Sqrt(r.Sigma*r.Sigma + ts.Tau*ts.Tau)
		skill[i].updateValue(prior(i), fromMuSigma(r.Mu, sigma))
	}
	for i := range order {
		likelihoodDown(i)
	}

	last := len(diffs) - 1
	for iter := 0; iter < tsMaxIterations; iter++ {
		var delta float64
		if last == 0 {
			diffDown(0)
			d, err := truncUp(0)
			if err != nil {
				return nil, err
			}
			delta = d
		} else {
			for k := 0; k < last; k++ {
				diffDown(k)
				d, err := truncUp(k)
				if err != nil {
					return nil, err
				}
				delta = math.Max(delta, d)
				diffUp(k, 1)
			}
			for k := last; k > 0; k-- {
				diffDown(k)
				d, err := truncUp(k)
				if err != nil {
					return nil, err
				}
				delta = math.Max(delta, d)
				diffUp(k, 0)
			}
		}
		if delta <= tsMinDelta {
			break
		}
	}
	diffUp(0, 0)
	diffUp(last, 1)
	for i := range order {
		likelihoodUp(i)
	}

	out := make([]Rating, n)
	for i, idx := range order {
		v := skill[i].value
		out[idx] = Rating{Mu: v.mu(), Sigma: v.sigma()}
		if math.IsNaN(out[idx].Mu) || math.IsNaN(out[idx].Sigma) {
			return nil, errNumeric
		}
	}
	return out, nil
}
