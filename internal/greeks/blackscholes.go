// Package greeks prices European options under Black-Scholes and solves
// implied volatility for listed NSE/BSE option contracts. Results feed the
// publishing layer alongside the live price cache.
package greeks

import (
	"math"

	"marketcore/internal/model"
)

// Volatility bounds for the IV solver. Values outside this band are
// clamped; the exchange does not quote contracts anywhere near them.
const (
	MinVolatility = 0.01
	MaxVolatility = 5.0
)

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// BSInput carries the pricing parameters. T is the time to expiry in
// years, R the continuously compounded risk-free rate, Sigma annualized
// volatility.
type BSInput struct {
	Spot   float64
	Strike float64
	T      float64
	R      float64
	Sigma  float64
	Type   model.OptionType
}

func d1d2(in BSInput) (float64, float64) {
	sqrtT := math.Sqrt(in.T)
	d1 := (math.Log(in.Spot/in.Strike) + (in.R+0.5*in.Sigma*in.Sigma)*in.T) / (in.Sigma * sqrtT)
	return d1, d1 - in.Sigma*sqrtT
}

// Price returns the Black-Scholes theoretical price.
func Price(in BSInput) float64 {
	d1, d2 := d1d2(in)
	disc := math.Exp(-in.R * in.T)
	if in.Type == model.OptionPut {
		return in.Strike*disc*normCDF(-d2) - in.Spot*normCDF(-d1)
	}
	return in.Spot*normCDF(d1) - in.Strike*disc*normCDF(d2)
}

// Vega returns dPrice/dSigma for a full point of volatility. The per-1%
// convention used in published results divides this by 100.
func Vega(in BSInput) float64 {
	d1, _ := d1d2(in)
	return in.Spot * normPDF(d1) * math.Sqrt(in.T)
}

// Compute fills all greeks for the input. Vega is per 1% volatility
// change and Theta is per calendar day, matching terminal display
// conventions.
func Compute(in BSInput) model.GreeksResult {
	d1, d2 := d1d2(in)
	sqrtT := math.Sqrt(in.T)
	disc := math.Exp(-in.R * in.T)
	pdf := normPDF(d1)

	var res model.GreeksResult
	res.TheoPrice = Price(in)
	res.Gamma = pdf / (in.Spot * in.Sigma * sqrtT)
	res.Vega = in.Spot * pdf * sqrtT / 100

	thetaCommon := -in.Spot * pdf * in.Sigma / (2 * sqrtT)
	if in.Type == model.OptionPut {
		res.Delta = normCDF(d1) - 1
		res.Theta = (thetaCommon + in.R*in.Strike*disc*normCDF(-d2)) / 365
		res.Rho = -in.Strike * in.T * disc * normCDF(-d2) / 100
	} else {
		res.Delta = normCDF(d1)
		res.Theta = (thetaCommon - in.R*in.Strike*disc*normCDF(d2)) / 365
		res.Rho = in.Strike * in.T * disc * normCDF(d2) / 100
	}
	res.IV = in.Sigma
	return res
}

// Intrinsic returns the option's intrinsic value at the given spot.
func Intrinsic(spot, strike float64, typ model.OptionType) float64 {
	if typ == model.OptionPut {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}
