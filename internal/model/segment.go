package model

import "fmt"

// Segment identifies an exchange market partition with its own token space.
type Segment int

const (
	SegmentUnknown Segment = 0
	NSECM          Segment = 1  // NSE cash market
	NSEFO          Segment = 2  // NSE futures & options
	BSECM          Segment = 11 // BSE cash market
	BSEFO          Segment = 12 // BSE futures & options
)

// Segments lists all segments the engine knows about, in load order.
var Segments = []Segment{NSECM, NSEFO, BSECM, BSEFO}

func (s Segment) String() string {
	switch s {
	case NSECM:
		return "NSECM"
	case NSEFO:
		return "NSEFO"
	case BSECM:
		return "BSECM"
	case BSEFO:
		return "BSEFO"
	default:
		return fmt.Sprintf("SEG_%d", int(s))
	}
}

// ParseSegment maps a segment name ("NSEFO") to its Segment value.
func ParseSegment(name string) (Segment, error) {
	switch name {
	case "NSECM":
		return NSECM, nil
	case "NSEFO":
		return NSEFO, nil
	case "BSECM":
		return BSECM, nil
	case "BSEFO":
		return BSEFO, nil
	default:
		return SegmentUnknown, fmt.Errorf("unknown segment %q", name)
	}
}

// IsDerivative reports whether the segment carries futures and options.
func (s Segment) IsDerivative() bool {
	return s == NSEFO || s == BSEFO
}
