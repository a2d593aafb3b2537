package rating

import (
	"fmt"
	"math"
)

// --- Glicko-2 constants & helpers (paper values) ---
const (
	g2Scale   = 173.7178 // rating scale between r<->mu
	g2Epsilon = 1e-6     // volatility convergence tolerance
	pi2       = math.Pi * math.Pi

	g2Rating     = 1500.0
	g2RD         = 350.0
	g2Volatility = 0.06
	g2Tau        = 0.5
)

// Glicko2 holds the public “1500-scale” values (not mu/phi).
type Glicko2 struct {
	Rating     float64 // r   (default 1500)
	RD         float64 // RD  (default 350)
	Volatility float64 // sigma (default 0.06)
}

// NewGlicko2 returns a fresh player at the standard defaults.
func NewGlicko2() *Glicko2 {
	return &Glicko2{Rating: g2Rating, RD: g2RD, Volatility: g2Volatility}
}

// --- internal conversions r/RD <-> mu/phi ---
func toMuPhi(r, rd float64) (mu, phi float64)   { return (r - g2Rating) / g2Scale, rd / g2Scale }
func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*g2Scale + g2Rating, phi * g2Scale }

// g(phi_j) and E(mu, mu_j, phi_j), both on the mu/phi scale.
func g(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*phi*phi/pi2) }
func gExp(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

// OpponentResult is one opponent's result within a rating period.
// S is 1 for a win, 0.5 for a tie and 0 for a loss.
type OpponentResult struct {
	Opp *Glicko2
	S   float64
}

// Age applies the “no games this period” step: RD grows due to volatility.
func (a *Glicko2) Age() {
	muA, phiA := toMuPhi(a.Rating, a.RD)
	phiStar := math.Sqrt(phiA*phiA + a.Volatility*a.Volatility)
	a.Rating, a.RD = fromMuPhi(muA, phiStar)
}

// UpdateBatch is the canonical Glicko-2 rating-period update. Opponents
// must carry their ratings as they were at the start of the period.
func (a *Glicko2) UpdateBatch(results []OpponentResult, tau float64) {
	if len(results) == 0 {
		a.Age()
		return
	}

	muA, phiA := toMuPhi(a.Rating, a.RD)

	var sumG2E float64 // Σ g^2 * E * (1-E)
	var sumGSE float64 // Σ g * (S - E)
	for _, r := range results {
		muB, phiB := toMuPhi(r.Opp.Rating, r.Opp.RD)
		gB := g(phiB)
		Eab := gExp(muA, muB, phiB)
		sumG2E += (gB * gB) * Eab * (1.0 - Eab)
		sumGSE += gB * (r.S - Eab)
	}
	v := 1.0 / sumG2E
	delta := v * sumGSE

	// Solve for new volatility (sigma') via the Illinois root finder.
	phi2 := phiA * phiA
	a2 := math.Log(a.Volatility * a.Volatility)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi2 - v - ex)
		den := 2.0 * (phi2 + v + ex) * (phi2 + v + ex)
		return (num / den) - (x-a2)/(tau*tau)
	}

	A := a2
	var B float64
	if delta*delta > phi2+v {
		B = math.Log(delta*delta - phi2 - v)
	} else {
		k := 1.0
		for f(a2-k*tau) < 0 && k < 1e6 {
			k++
		}
		B = a2 - k*tau
	}
	fA := f(A)
	fB := f(B)

	for it := 0; it < 100 && math.Abs(B-A) > g2Epsilon; it++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			break
		}
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	newVol := math.Exp(A / 2.0)
	phiStar := math.Sqrt(phi2 + newVol*newVol)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := muA + (phiNew*phiNew)*sumGSE

	a.Rating, a.RD = fromMuPhi(muNew, phiNew)
	a.Volatility = newVol
}

// ScoreFromRanks returns S for a against b: win=1, tie=0.5, loss=0.
func ScoreFromRanks(a, b int) float64 {
	switch {
	case a < b:
		return 1.0
	case a == b:
		return 0.5
	}
	return 0.0
}

// Glicko2Rater treats one match as a rating period in which every
// participant played every other participant once.
type Glicko2Rater struct {
	Tau float64
}

func NewGlicko2Rater() Glicko2Rater { return Glicko2Rater{Tau: g2Tau} }

func (Glicko2Rater) Name() string { return "glicko2" }

func (Glicko2Rater) Default() Rating {
	return Rating{Mu: g2Rating, Sigma: g2RD, Volatility: g2Volatility}
}

func (gr Glicko2Rater) Rate(ratings []Rating, ranks []int) ([]Rating, error) {
	if len(ratings) != len(ranks) {
		return nil, fmt.Errorf("glicko2: %d ratings but %d ranks", len(ratings), len(ranks))
	}
	if len(ratings) < 2 {
		return nil, fmt.Errorf("glicko2: need at least 2 players, got %d", len(ratings))
	}

	pre := make([]*Glicko2, len(ratings))
	for i, r := range ratings {
		vol := r.Volatility
		if vol <= 0 {
			vol = g2Volatility
		}
		pre[i] = &Glicko2{Rating: r.Mu, RD: r.Sigma, Volatility: vol}
	}

	out := make([]Rating, len(ratings))
	for i := range pre {
		results := make([]OpponentResult, 0, len(pre)-1)
		for j := range pre {
			if j == i {
				continue
			}
			results = append(results, OpponentResult{Opp: pre[j], S: ScoreFromRanks(ranks[i], ranks[j])})
		}
		cur := *pre[i]
		cur.UpdateBatch(results, gr.Tau)
		if math.IsNaN(cur.Rating) || math.IsNaN(cur.RD) {
			return nil, fmt.Errorf("glicko2: numeric failure for player %d", i)
		}
		out[i] = Rating{Mu: cur.Rating, Sigma: cur.RD, Volatility: cur.Volatility}
	}
	return out, nil
}
