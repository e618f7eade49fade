package repository

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"marketcore/internal/model"
)

// The processed snapshot is the normalized form written after a successful
// raw load and read back on the next startup in place of the raw parse.
// Loading raw, saving processed and reloading processed must reproduce the
// identical contract count and field values.

var snapshotHeader = []string{
	"Token", "Symbol", "Series", "InstrumentType", "AssetToken", "Expiry",
	"StrikePrice", "OptionType", "LotSize", "TickSize", "DisplayName",
	"Description", "FreezeQty", "PriceBandHigh", "PriceBandLow", "ISIN",
}

// SaveProcessed writes one segment's normalized snapshot.
func (m *Manager) SaveProcessed(seg model.Segment, w io.Writer) error {
	repo := m.repos[seg]
	if repo == nil {
		return fmt.Errorf("segment %s not configured", seg)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotHeader); err != nil {
		return err
	}
	var writeErr error
	repo.ForEach(func(rec model.ContractRecord) {
		if writeErr != nil {
			return
		}
		writeErr = cw.Write([]string{
			strconv.FormatInt(rec.Token, 10),
			rec.Symbol,
			rec.Series,
			strconv.Itoa(rec.InstrumentType),
			strconv.FormatInt(rec.AssetToken, 10),
			rec.Expiry,
			formatFloat(rec.StrikePrice),
			rec.OptionType.String(),
			strconv.Itoa(rec.LotSize),
			formatFloat(rec.TickSize),
			rec.DisplayName,
			rec.Description,
			strconv.Itoa(rec.FreezeQty),
			formatFloat(rec.PriceBandHigh),
			formatFloat(rec.PriceBandLow),
			rec.ISIN,
		})
	})
	if writeErr != nil {
		return writeErr
	}
	cw.Flush()
	return cw.Error()
}

// LoadProcessed reads a normalized snapshot back into the segment repository.
func (m *Manager) LoadProcessed(seg model.Segment, r io.Reader) (LoadSummary, error) {
	var sum LoadSummary
	repo := m.repos[seg]
	if repo == nil {
		return sum, fmt.Errorf("segment %s not configured", seg)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(snapshotHeader)

	// Header row.
	if _, err := cr.Read(); err != nil {
		return sum, fmt.Errorf("snapshot header: %w", err)
	}

	lineNo := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			sum.recordParseErr(parseErr(seg, lineNo, "csv: %v", err))
			continue
		}
		rec, perr := decodeSnapshotRow(row, seg, lineNo)
		if perr != nil {
			sum.recordParseErr(perr)
			continue
		}
		// Asset tokens in the snapshot are already normalized; zero still
		// means an unresolved index underlying, so queue it again.
		if rec.AssetToken == 0 && seg.IsDerivative() {
			m.pendingIndex[seg] = append(m.pendingIndex[seg], rec.Token)
		}
		if err := repo.Insert(rec); err != nil {
			sum.Duplicates++
			continue
		}
		if rec.Token >= SpreadTokenMin {
			sum.Spreads++
		}
		sum.Loaded++
	}
	return sum, nil
}

func decodeSnapshotRow(row []string, seg model.Segment, lineNo int) (model.ContractRecord, *ParseError) {
	var rec model.ContractRecord
	token, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad token %q", row[0])
	}
	itype, err := strconv.Atoi(row[3])
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad instrument type %q", row[3])
	}
	asset, err := strconv.ParseInt(row[4], 10, 64)
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad asset token %q", row[4])
	}
	strike, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return rec, parseErr(seg, lineNo, "bad strike %q", row[6])
	}
	lot, _ := strconv.Atoi(row[8])
	tick, _ := strconv.ParseFloat(row[9], 64)
	freeze, _ := strconv.Atoi(row[12])
	bandHigh, _ := strconv.ParseFloat(row[13], 64)
	bandLow, _ := strconv.ParseFloat(row[14], 64)

	rec = model.ContractRecord{
		Token:          token,
		Symbol:         row[1],
		Series:         row[2],
		InstrumentType: itype,
		AssetToken:     asset,
		Expiry:         row[5],
		StrikePrice:    strike,
		OptionType:     model.ParseOptionType(row[7]),
		LotSize:        lot,
		TickSize:       tick,
		DisplayName:    row[10],
		Description:    row[11],
		FreezeQty:      freeze,
		PriceBandHigh:  bandHigh,
		PriceBandLow:   bandLow,
		ISIN:           row[15],
	}
	return rec, nil
}

// SnapshotPath returns the conventional snapshot filename for a segment.
func SnapshotPath(dir string, seg model.Segment) string {
	return filepath.Join(dir, strings.ToLower(seg.String())+"_processed.csv")
}

// SaveProcessedDir snapshots every loaded segment into dir.
func (m *Manager) SaveProcessedDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, seg := range model.Segments {
		repo := m.repos[seg]
		if repo == nil || repo.Count() == 0 {
			continue
		}
		f, err := os.Create(SnapshotPath(dir, seg))
		if err != nil {
			return err
		}
		if err := m.SaveProcessed(seg, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// LoadProcessedDir loads every snapshot present in dir. Returns false when no
// snapshot file was found, signalling the caller to fall back to raw masters.
func (m *Manager) LoadProcessedDir(dir string) (LoadSummary, bool, error) {
	var sum LoadSummary
	found := false
	for _, seg := range model.Segments {
		path := SnapshotPath(dir, seg)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return sum, found, err
		}
		segSum, err := m.LoadProcessed(seg, f)
		f.Close()
		if err != nil {
			return sum, found, fmt.Errorf("load %s: %w", path, err)
		}
		sum.Merge(segSum)
		found = found || segSum.Loaded > 0
	}
	return sum, found, nil
}

// formatFloat renders a float with full round-trip precision.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
