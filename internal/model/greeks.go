package model

import "time"

// GreeksResult carries implied volatility and the standard sensitivities for
// one option contract. Non-convergence is a state of the result, not an
// error: callers display "N/A" for Converged=false and read Reason for why.
type GreeksResult struct {
	Segment Segment `json:"segment"`
	Token   int64   `json:"token"`

	IV        float64 `json:"iv"`    // decimal, 0.18 = 18%
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"` // daily decay
	Vega      float64 `json:"vega"`  // per 1% vol change
	Rho       float64 `json:"rho"`
	TheoPrice float64 `json:"theo_price"`

	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
	Reason     string `json:"reason,omitempty"` // populated when Converged=false

	// Inputs the result was computed from, used for cache validity.
	SpotPrice   float64   `json:"spot_price"`
	MarketPrice float64   `json:"market_price"`
	ComputedAt  time.Time `json:"computed_at"`
}
