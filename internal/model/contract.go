package model

import "strconv"

// OptionType classifies a contract's option leg.
type OptionType int8

const (
	OptionNone   OptionType = iota // futures, equities
	OptionCall                     // CE
	OptionPut                      // PE
	OptionSpread                   // exchange spread contracts
)

func (o OptionType) String() string {
	switch o {
	case OptionCall:
		return "CE"
	case OptionPut:
		return "PE"
	case OptionSpread:
		return "SPD"
	default:
		return "XX"
	}
}

// ParseOptionType maps the snapshot-CSV representation back to the enum.
func ParseOptionType(s string) OptionType {
	switch s {
	case "CE":
		return OptionCall
	case "PE":
		return OptionPut
	case "SPD":
		return OptionSpread
	default:
		return OptionNone
	}
}

// Instrument type tags carried by the master feed.
const (
	InstrumentFuture = 1
	InstrumentOption = 2
	InstrumentSpread = 4
	InstrumentEquity = 8
)

// ContractRecord describes one tradable instrument within a segment.
// Records are created in bulk during a load pass and never mutated afterwards,
// except for the second-pass index-underlying resolution of AssetToken.
type ContractRecord struct {
	Token          int64
	Symbol         string
	Series         string
	InstrumentType int
	AssetToken     int64 // 0 = underlying unresolved
	Expiry         string
	StrikePrice    float64 // 0 for non-options
	OptionType     OptionType
	LotSize        int
	TickSize       float64
	DisplayName    string
	Description    string
	FreezeQty      int
	PriceBandHigh  float64
	PriceBandLow   float64
	ISIN           string
}

// IsOption reports whether the record is a call or put.
func (c *ContractRecord) IsOption() bool {
	return c.OptionType == OptionCall || c.OptionType == OptionPut
}

// Key returns "segment:token" for log and cache keying.
func (c *ContractRecord) Key(seg Segment) string {
	return seg.String() + ":" + strconv.FormatInt(c.Token, 10)
}
