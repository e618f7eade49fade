package feed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketcore/internal/model"
)

// Subscription modes on the wire.
const (
	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3
)

// Frame sizes per mode. Quote extends LTP, SnapQuote extends Quote.
const (
	ltpFrameLen       = 51
	quoteFrameLen     = 123
	snapQuoteFrameLen = 379
)

// priceDivisor converts wire prices (paise) to rupees.
const priceDivisor = 100.0

// Wire exchange type codes.
var wireSegments = map[uint8]model.Segment{
	1: model.NSECM,
	2: model.NSEFO,
	3: model.BSECM,
	4: model.BSEFO,
}

var errFrameTooShort = errors.New("feed: frame too short")

// decodeFrame parses a binary quote frame into a PartialTick. Only the
// fields present in the frame's mode get their bits set; the price
// cache merge fills the rest from earlier frames.
func decodeFrame(b []byte) (model.PartialTick, error) {
	if len(b) < ltpFrameLen {
		return model.PartialTick{}, errFrameTooShort
	}

	mode := b[0]
	seg, ok := wireSegments[b[1]]
	if !ok {
		return model.PartialTick{}, fmt.Errorf("feed: unknown exchange type %d", b[1])
	}
	token, err := decodeToken(b[2:27])
	if err != nil {
		return model.PartialTick{}, err
	}

	var t model.PartialTick
	t.Segment = seg
	t.Token = token

	// bytes 27:35 sequence number, unused
	exTS := int64(binary.LittleEndian.Uint64(b[35:43]))
	if exTS > 0 {
		t.TickTS = time.Unix(0, exTS*int64(time.Millisecond)).UTC()
	} else {
		t.TickTS = time.Now().UTC()
	}

	t.LTP = price(b[43:51])
	t.Fields = model.FieldLTP
	if mode == ModeLTP {
		return t, nil
	}

	if len(b) < quoteFrameLen {
		return model.PartialTick{}, errFrameTooShort
	}
	t.LastQty = int64(binary.LittleEndian.Uint64(b[51:59]))
	t.AvgPrice = price(b[59:67])
	t.Volume = int64(binary.LittleEndian.Uint64(b[67:75]))
	// bytes 75:91 total buy/sell quantity, unused
	t.Open = price(b[91:99])
	t.High = price(b[99:107])
	t.Low = price(b[107:115])
	t.Close = price(b[115:123])
	t.Fields |= model.FieldLastQty | model.FieldAvgPrice | model.FieldVolume |
		model.FieldOpen | model.FieldHigh | model.FieldLow | model.FieldClose
	if mode == ModeQuote {
		return t, nil
	}

	if len(b) < snapQuoteFrameLen {
		return model.PartialTick{}, errFrameTooShort
	}
	t.OpenInterest = int64(binary.LittleEndian.Uint64(b[131:139]))
	t.Fields |= model.FieldOpenInterest
	if bid, ask, ok := decodeBest5(b[147:347]); ok {
		t.BidPrice, t.BidQty = bid.price, bid.qty
		t.AskPrice, t.AskQty = ask.price, ask.qty
		t.Fields |= model.FieldBidPrice | model.FieldBidQty |
			model.FieldAskPrice | model.FieldAskQty
	}
	return t, nil
}

func price(b []byte) float64 {
	return float64(int64(binary.LittleEndian.Uint64(b))) / priceDivisor
}

// decodeToken reads the null-padded ASCII token field.
func decodeToken(b []byte) (int64, error) {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	tok, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("feed: bad token %q: %w", b[:end], err)
	}
	return tok, nil
}

type level struct {
	price float64
	qty   int64
}

// decodeBest5 extracts the top buy and sell levels from the best-five
// block: ten 20-byte packets, flag 0 marks the buy side.
func decodeBest5(b []byte) (bid, ask level, ok bool) {
	var haveBid, haveAsk bool
	for i := 0; i+20 <= len(b); i += 20 {
		p := b[i : i+20]
		flag := binary.LittleEndian.Uint16(p[0:2])
		qty := int64(binary.LittleEndian.Uint64(p[2:10]))
		px := price(p[10:18])
		if px <= 0 {
			continue
		}
		if flag == 0 {
			if !haveBid || px > bid.price {
				bid = level{price: px, qty: qty}
				haveBid = true
			}
		} else {
			if !haveAsk || px < ask.price {
				ask = level{price: px, qty: qty}
				haveAsk = true
			}
		}
	}
	return bid, ask, haveBid && haveAsk
}
