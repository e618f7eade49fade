package greeks

import (
	"math"

	"marketcore/internal/model"
)

const (
	solverTolerance = 1e-6
	maxIterations   = 100

	// Below this vega the Newton step blows up; switch to Brent.
	vegaFloor = 1e-8
)

// SolveResult reports the implied volatility search outcome.
type SolveResult struct {
	IV         float64
	Converged  bool
	Iterations int
	Reason     string
}

// initialGuess picks a starting volatility from moneyness and tenor.
// Deep ITM/OTM and short-dated contracts start higher so Newton does
// not stall on a flat vega.
func initialGuess(spot, strike, t float64) float64 {
	guess := 0.20
	m := math.Abs(math.Log(spot / strike))
	switch {
	case m > 0.2:
		guess = 0.30 + m*0.5
	case m > 0.1:
		guess = 0.25
	}
	switch {
	case t < 7.0/365:
		guess *= 1.5
	case t < 30.0/365:
		guess *= 1.2
	}
	return clampVol(guess)
}

func clampVol(sigma float64) float64 {
	if sigma < MinVolatility {
		return MinVolatility
	}
	if sigma > MaxVolatility {
		return MaxVolatility
	}
	return sigma
}

// SolveIV finds the volatility at which the Black-Scholes price matches
// marketPrice. Newton-Raphson with a Brent fallback when vega is too
// small or the iteration oscillates.
func SolveIV(spot, strike, t, r, marketPrice float64, typ model.OptionType) SolveResult {
	if t <= 0 || spot <= 0 || strike <= 0 || marketPrice <= 0 {
		return SolveResult{Reason: "invalid input"}
	}
	var intrinsic float64
	if typ == model.OptionPut {
		intrinsic = math.Max(strike*math.Exp(-r*t)-spot, 0)
	} else {
		intrinsic = math.Max(spot-strike*math.Exp(-r*t), 0)
	}
	// A quote below discounted intrinsic has no implied vol. Allow 1%
	// slack for stale or crossed quotes.
	if marketPrice < intrinsic*0.99 {
		return SolveResult{Reason: "price below intrinsic"}
	}

	in := BSInput{Spot: spot, Strike: strike, T: t, R: r, Type: typ}
	sigma := initialGuess(spot, strike, t)
	prevStep := math.Inf(1)

	for i := 0; i < maxIterations; i++ {
		in.Sigma = sigma
		diff := Price(in) - marketPrice
		if math.Abs(diff) < solverTolerance {
			return SolveResult{IV: sigma, Converged: true, Iterations: i + 1}
		}
		vega := Vega(in)
		if math.Abs(vega) < vegaFloor {
			return brentIV(in, marketPrice, i+1)
		}
		step := diff / vega
		next := clampVol(sigma - step)
		// Oscillation: step size stopped shrinking without converging.
		if math.Abs(next-sigma) < solverTolerance*0.01 && math.Abs(diff) >= solverTolerance {
			if math.Abs(step) >= prevStep {
				return brentIV(in, marketPrice, i+1)
			}
		}
		prevStep = math.Abs(step)
		sigma = next
	}
	return brentIV(in, marketPrice, maxIterations)
}

// brentIV runs a bisection-secant hybrid over [MinVolatility, MaxVolatility].
// Price is monotone in sigma so a sign change across the band brackets
// the root.
func brentIV(in BSInput, marketPrice float64, startIter int) SolveResult {
	a, b := MinVolatility, MaxVolatility
	f := func(sigma float64) float64 {
		in.Sigma = sigma
		return Price(in) - marketPrice
	}
	fa, fb := f(a), f(b)
	if fa*fb > 0 {
		return SolveResult{Iterations: startIter, Reason: "no bracket"}
	}
	for i := 0; i < maxIterations; i++ {
		mid := 0.5 * (a + b)
		// Secant step when it stays in bracket, bisection otherwise.
		if denom := fb - fa; denom != 0 {
			s := b - fb*(b-a)/denom
			if s > a && s < b {
				mid = s
			}
		}
		fm := f(mid)
		if math.Abs(fm) < solverTolerance || b-a < solverTolerance {
			return SolveResult{IV: mid, Converged: true, Iterations: startIter + i + 1}
		}
		if fa*fm < 0 {
			b, fb = mid, fm
		} else {
			a, fa = mid, fm
		}
	}
	return SolveResult{Iterations: startIter + maxIterations, Reason: "max iterations"}
}
