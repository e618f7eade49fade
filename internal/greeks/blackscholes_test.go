package greeks

import (
	"math"
	"testing"

	"marketcore/internal/model"
)

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6f, want %.6f (tol %.6f)", name, got, want, tol)
	}
}

// Reference values from the standard Black-Scholes closed form:
// S=100, K=100, T=1y, r=5%, sigma=20%.
func TestPriceATMCall(t *testing.T) {
	in := BSInput{Spot: 100, Strike: 100, T: 1, R: 0.05, Sigma: 0.20, Type: model.OptionCall}
	approx(t, "call price", Price(in), 10.4506, 0.001)
}

func TestPriceATMPut(t *testing.T) {
	in := BSInput{Spot: 100, Strike: 100, T: 1, R: 0.05, Sigma: 0.20, Type: model.OptionPut}
	approx(t, "put price", Price(in), 5.5735, 0.001)
}

func TestPutCallParity(t *testing.T) {
	in := BSInput{Spot: 24800, Strike: 24500, T: 30.0 / 365, R: 0.065, Sigma: 0.14}
	in.Type = model.OptionCall
	call := Price(in)
	in.Type = model.OptionPut
	put := Price(in)

	// C - P = S - K*e^{-rT}
	lhs := call - put
	rhs := in.Spot - in.Strike*math.Exp(-in.R*in.T)
	approx(t, "parity", lhs, rhs, 1e-9)
}

func TestComputeCallGreeks(t *testing.T) {
	in := BSInput{Spot: 100, Strike: 100, T: 1, R: 0.05, Sigma: 0.20, Type: model.OptionCall}
	g := Compute(in)

	approx(t, "delta", g.Delta, 0.6368, 0.001)
	approx(t, "gamma", g.Gamma, 0.018762, 0.0001)
	// Vega per 1% vol, theta per day.
	approx(t, "vega", g.Vega, 0.3752, 0.001)
	approx(t, "theta", g.Theta, -6.414/365, 0.001)
	approx(t, "rho", g.Rho, 0.5323, 0.001)
	approx(t, "theo", g.TheoPrice, 10.4506, 0.001)
}

func TestComputePutGreeks(t *testing.T) {
	in := BSInput{Spot: 100, Strike: 100, T: 1, R: 0.05, Sigma: 0.20, Type: model.OptionPut}
	g := Compute(in)

	approx(t, "delta", g.Delta, -0.3632, 0.001)
	if g.Rho >= 0 {
		t.Errorf("put rho should be negative, got %f", g.Rho)
	}
	if g.Gamma <= 0 || g.Vega <= 0 {
		t.Errorf("gamma and vega must be positive: gamma=%f vega=%f", g.Gamma, g.Vega)
	}
}

func TestDeepITMCallDelta(t *testing.T) {
	in := BSInput{Spot: 25000, Strike: 20000, T: 7.0 / 365, R: 0.065, Sigma: 0.15, Type: model.OptionCall}
	g := Compute(in)
	if g.Delta < 0.99 {
		t.Errorf("deep ITM call delta = %f, want ~1", g.Delta)
	}
}

func TestIntrinsic(t *testing.T) {
	cases := []struct {
		spot, strike float64
		typ          model.OptionType
		want         float64
	}{
		{24800, 24500, model.OptionCall, 300},
		{24800, 25000, model.OptionCall, 0},
		{24800, 25000, model.OptionPut, 200},
		{24800, 24500, model.OptionPut, 0},
	}
	for _, c := range cases {
		if got := Intrinsic(c.spot, c.strike, c.typ); got != c.want {
			t.Errorf("Intrinsic(%v, %v, %v) = %v, want %v", c.spot, c.strike, c.typ, got, c.want)
		}
	}
}
