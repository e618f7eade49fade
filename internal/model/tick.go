package model

import "time"

// Field bits for PartialTick.Fields and PriceSnapshot.SetMask. A feed message
// sets a bit for every field it legitimately carries; merge never clears bits.
const (
	FieldLTP uint32 = 1 << iota
	FieldLastQty
	FieldBidPrice
	FieldBidQty
	FieldAskPrice
	FieldAskQty
	FieldVolume
	FieldOpenInterest
	FieldOpen
	FieldHigh
	FieldLow
	FieldClose
	FieldAvgPrice
)

// TouchlineFields is the mask of a compact quote update (best bid/ask/LTP).
const TouchlineFields = FieldLTP | FieldLastQty | FieldBidPrice | FieldBidQty |
	FieldAskPrice | FieldAskQty

// PartialTick is one feed message for a token. Fields declares which of the
// value fields the message carries; everything else is ignored by the merge.
type PartialTick struct {
	Segment Segment
	Token   int64
	Fields  uint32

	LTP          float64
	LastQty      int64
	BidPrice     float64
	BidQty       int64
	AskPrice     float64
	AskQty       int64
	Volume       int64
	OpenInterest int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	AvgPrice     float64

	TickTS time.Time
}

// PriceSnapshot is the merged latest state for a token. SetMask records which
// fields have ever been set, so a later partial message can never revert a
// known field to its zero value.
type PriceSnapshot struct {
	Segment Segment `json:"segment"`
	Token   int64   `json:"token"`
	SetMask uint32  `json:"set_mask"`

	LTP          float64 `json:"ltp"`
	LastQty      int64   `json:"last_qty"`
	BidPrice     float64 `json:"bid_price"`
	BidQty       int64   `json:"bid_qty"`
	AskPrice     float64 `json:"ask_price"`
	AskQty       int64   `json:"ask_qty"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	AvgPrice     float64 `json:"avg_price"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Has reports whether the given field bit has ever been set.
func (s *PriceSnapshot) Has(field uint32) bool {
	return s.SetMask&field != 0
}

// Merge applies a partial tick field by field. Fields absent from t.Fields are
// left untouched; present fields overwrite (last write wins per field).
func (s *PriceSnapshot) Merge(t *PartialTick) {
	if t.Fields&FieldLTP != 0 {
		s.LTP = t.LTP
	}
	if t.Fields&FieldLastQty != 0 {
		s.LastQty = t.LastQty
	}
	if t.Fields&FieldBidPrice != 0 {
		s.BidPrice = t.BidPrice
	}
	if t.Fields&FieldBidQty != 0 {
		s.BidQty = t.BidQty
	}
	if t.Fields&FieldAskPrice != 0 {
		s.AskPrice = t.AskPrice
	}
	if t.Fields&FieldAskQty != 0 {
		s.AskQty = t.AskQty
	}
	if t.Fields&FieldVolume != 0 {
		s.Volume = t.Volume
	}
	if t.Fields&FieldOpenInterest != 0 {
		s.OpenInterest = t.OpenInterest
	}
	if t.Fields&FieldOpen != 0 {
		s.Open = t.Open
	}
	if t.Fields&FieldHigh != 0 {
		s.High = t.High
	}
	if t.Fields&FieldLow != 0 {
		s.Low = t.Low
	}
	if t.Fields&FieldClose != 0 {
		s.Close = t.Close
	}
	if t.Fields&FieldAvgPrice != 0 {
		s.AvgPrice = t.AvgPrice
	}
	s.SetMask |= t.Fields
	if t.TickTS.After(s.UpdatedAt) {
		s.UpdatedAt = t.TickTS
	}
}
