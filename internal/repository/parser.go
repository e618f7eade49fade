package repository

import (
	"fmt"
	"strconv"
	"strings"

	"marketcore/internal/model"
)

// The master feed is pipe-delimited with a field count that varies by
// instrument type: option rows carry strike and option-type columns that are
// omitted entirely (not left empty) on futures and spread rows, shifting the
// display-name column. The parser branches on the instrument-type tag to pick
// the right layout; a strike column that fails numeric conversion means the
// layout guess was wrong and the line is rejected, never silently mis-read.

// Minimum field counts per layout.
const (
	cmMinFields       = 16
	foMinFields       = 17
	foOptionMinFields = 20
)

// ParseMasterLine decodes one raw master line for the given segment.
func ParseMasterLine(line string, seg model.Segment, lineNo int) (model.ContractRecord, *ParseError) {
	fields := strings.Split(line, "|")
	if seg.IsDerivative() {
		return parseDerivativeLine(fields, seg, lineNo)
	}
	return parseCashLine(fields, seg, lineNo)
}

func parseErr(seg model.Segment, lineNo int, format string, args ...any) *ParseError {
	return &ParseError{Segment: seg.String(), Line: lineNo, Reason: fmt.Sprintf(format, args...)}
}

// parseCommon decodes the 14-field prefix shared by every layout.
func parseCommon(fields []string, seg model.Segment, lineNo int) (model.ContractRecord, *ParseError) {
	var rec model.ContractRecord
	token, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad token %q", fields[1])
	}
	itype, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad instrument type %q", fields[2])
	}
	rec.Token = token
	rec.InstrumentType = itype
	rec.Symbol = trimQuotes(fields[3])
	rec.Description = trimQuotes(fields[4])
	rec.Series = trimQuotes(fields[5])
	rec.PriceBandHigh = parseFloat(fields[8])
	rec.PriceBandLow = parseFloat(fields[9])
	rec.FreezeQty = int(parseFloat(fields[10]))
	rec.TickSize = parseFloat(fields[11])
	rec.LotSize = int(parseFloat(fields[12]))
	return rec, nil
}

func parseCashLine(fields []string, seg model.Segment, lineNo int) (model.ContractRecord, *ParseError) {
	if len(fields) < cmMinFields {
		return model.ContractRecord{}, parseErr(seg, lineNo, "cash row has %d fields, want >= %d", len(fields), cmMinFields)
	}
	rec, perr := parseCommon(fields, seg, lineNo)
	if perr != nil {
		return rec, perr
	}
	// Column 18 carries the long display name when present; column 14 is the
	// short alias used by older files.
	if len(fields) >= 19 {
		rec.DisplayName = trimQuotes(fields[18])
	} else {
		rec.DisplayName = trimQuotes(fields[14])
	}
	rec.ISIN = trimQuotes(fields[15])
	rec.OptionType = model.OptionNone
	return rec, nil
}

func parseDerivativeLine(fields []string, seg model.Segment, lineNo int) (model.ContractRecord, *ParseError) {
	if len(fields) < foMinFields {
		return model.ContractRecord{}, parseErr(seg, lineNo, "derivative row has %d fields, want >= %d", len(fields), foMinFields)
	}
	rec, perr := parseCommon(fields, seg, lineNo)
	if perr != nil {
		return rec, perr
	}

	asset, err := strconv.ParseInt(strings.TrimSpace(fields[14]), 10, 64)
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad asset token %q", fields[14])
	}
	rec.AssetToken = asset

	expiry, perr2 := normalizeExpiry(trimQuotes(fields[16]), seg, lineNo)
	if perr2 != nil {
		return rec, perr2
	}
	rec.Expiry = expiry

	switch rec.InstrumentType {
	case model.InstrumentOption:
		if len(fields) < foOptionMinFields {
			return rec, parseErr(seg, lineNo, "option row has %d fields, want >= %d", len(fields), foOptionMinFields)
		}
		strike, err := strconv.ParseFloat(strings.TrimSpace(trimQuotes(fields[17])), 64)
		if err != nil {
			// The classic mis-alignment symptom: a display name where the
			// strike should be. Escalate, never swallow.
			return rec, parseErr(seg, lineNo, "option strike %q is not numeric", fields[17])
		}
		rec.StrikePrice = strike
		rec.OptionType = parseOptionTypeField(fields[18])
		if rec.OptionType == model.OptionNone {
			return rec, parseErr(seg, lineNo, "option row with unrecognized option type %q", fields[18])
		}
		rec.DisplayName = trimQuotes(fields[19])
		if len(fields) >= 23 {
			rec.ISIN = trimQuotes(fields[22])
		}
	case model.InstrumentSpread:
		rec.OptionType = model.OptionSpread
		rec.DisplayName = trimQuotes(fields[17])
		if len(fields) >= 21 {
			rec.ISIN = trimQuotes(fields[20])
		}
	default: // futures
		rec.OptionType = model.OptionNone
		rec.DisplayName = trimQuotes(fields[17])
		if len(fields) >= 21 {
			rec.ISIN = trimQuotes(fields[20])
		}
	}
	return rec, nil
}

// parseOptionTypeField accepts both the numeric codes the NSE files carry
// (1/3 = call, 2/4 = put) and the CE/PE strings seen in BSE files.
func parseOptionTypeField(raw string) model.OptionType {
	v := strings.ToUpper(trimQuotes(raw))
	switch v {
	case "CE":
		return model.OptionCall
	case "PE":
		return model.OptionPut
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return model.OptionNone
	}
	switch n {
	case 1, 3:
		return model.OptionCall
	case 2, 4:
		return model.OptionPut
	default:
		return model.OptionNone
	}
}

// normalizeExpiry converts YYYYMMDD and ISO-8601 timestamps to the canonical
// DDMMMYYYY form used everywhere downstream.
func normalizeExpiry(raw string, seg model.Segment, lineNo int) (string, *ParseError) {
	if raw == "" {
		return "", nil
	}
	var y, m, d string
	if t := strings.IndexByte(raw, 'T'); t != -1 {
		date := raw[:t]
		parts := strings.SplitN(date, "-", 3)
		if len(parts) == 3 {
			y, m, d = parts[0], parts[1], parts[2]
		}
	} else if len(raw) == 8 && raw[0] >= '0' && raw[0] <= '9' {
		y, m, d = raw[:4], raw[4:6], raw[6:8]
	} else {
		// Already DDMMMYYYY or a close variant; validate it parses.
		if _, err := model.ParseExpiry(raw); err != nil {
			return "", parseErr(seg, lineNo, "unparseable expiry %q", raw)
		}
		return strings.ToUpper(strings.ReplaceAll(raw, "-", "")), nil
	}
	if y == "" {
		return "", parseErr(seg, lineNo, "unparseable expiry %q", raw)
	}
	mn, err := strconv.Atoi(m)
	if err != nil || mn < 1 || mn > 12 {
		return "", parseErr(seg, lineNo, "bad expiry month in %q", raw)
	}
	months := []string{"", "JAN", "FEB", "MAR", "APR", "MAY", "JUN",
		"JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}
	return d + months[mn] + y, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// trimQuotes strips one layer of surrounding double quotes.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
