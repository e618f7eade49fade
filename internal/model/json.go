package model

import "encoding/json"

// JSON returns the snapshot encoded for Redis publication.
func (s *PriceSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// JSON returns the ATM info encoded for Redis publication.
func (a *ATMInfo) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// JSON returns the greeks result encoded for Redis publication.
func (g *GreeksResult) JSON() []byte {
	b, _ := json.Marshal(g)
	return b
}
