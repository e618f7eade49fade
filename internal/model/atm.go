package model

import "time"

// ATMInfo is the resolved at-the-money state for one underlying + expiry.
// Segment is the derivative segment the call/put tokens live in.
type ATMInfo struct {
	Segment    Segment   `json:"segment"`
	Symbol     string    `json:"symbol"`
	Expiry     string    `json:"expiry"`
	SpotPrice  float64   `json:"spot_price"`
	StrikeStep float64   `json:"strike_step"`
	ATMStrike  float64   `json:"atm_strike"`
	CallToken  int64     `json:"call_token"`
	PutToken   int64     `json:"put_token"`
	ComputedAt time.Time `json:"computed_at"`
}
