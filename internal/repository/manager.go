package repository

import (
	"bufio"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"marketcore/internal/model"
)

// Composite-token constants. Asset tokens above PackedAssetTokenMin are
// segment-prefixed identifiers (e.g. 1100100002885 for RELIANCE) whose true
// token is recovered modulo PackedAssetTokenBase. The value -1 is the index
// sentinel: the underlying is an index, resolved by name against the index
// master in a second pass.
const (
	PackedAssetTokenMin  int64 = 1_000_000_000
	PackedAssetTokenBase int64 = 100_000
	IndexAssetSentinel   int64 = -1
)

// DefaultIndexTokens maps the index underlyings to their spot tokens on the
// cash segment. Used when no explicit index master is supplied.
var DefaultIndexTokens = map[string]int64{
	"NIFTY":      26000,
	"BANKNIFTY":  26009,
	"FINNIFTY":   26037,
	"MIDCPNIFTY": 26074,
	"NIFTYNXT50": 26013,
}

// SegmentRecord pairs a parsed record with its destination segment, for the
// in-memory load handoff.
type SegmentRecord struct {
	Segment model.Segment
	Record  model.ContractRecord
}

// Manager owns one SegmentRepository per configured segment. It parses the
// master feed, dispatches records to the right repository, resolves composite
// and index-sentinel asset tokens, and snapshots/reloads the processed form.
//
// The manager is built once at startup and handed by reference to whatever
// needs contract resolution; there is no package-level instance.
type Manager struct {
	log         *slog.Logger
	repos       map[model.Segment]*SegmentRepository
	indexTokens map[string]int64

	// Tokens whose underlying is an index that the index master has not
	// resolved yet. Revisited by ResolveIndexUnderlyings.
	pendingIndex map[model.Segment][]int64

	loaded atomic.Bool
}

// NewManager creates repositories for every segment in DefaultConfigs.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:          log,
		repos:        make(map[model.Segment]*SegmentRepository, len(DefaultConfigs)),
		indexTokens:  DefaultIndexTokens,
		pendingIndex: make(map[model.Segment][]int64),
	}
	for seg, cfg := range DefaultConfigs {
		m.repos[seg] = New(cfg)
	}
	return m
}

// Segment returns the repository for one segment, or nil if unconfigured.
func (m *Manager) Segment(seg model.Segment) *SegmentRepository {
	return m.repos[seg]
}

// Loaded reports whether FinalizeAll has completed at least once.
func (m *Manager) Loaded() bool { return m.loaded.Load() }

// LoadMasterFile parses one segment's raw master feed. Malformed lines are
// counted and skipped; the load always runs to the end of the stream.
func (m *Manager) LoadMasterFile(seg model.Segment, r io.Reader) LoadSummary {
	var sum LoadSummary
	repo := m.repos[seg]
	if repo == nil {
		sum.Skipped++
		return sum
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \r")
		if line == "" {
			continue
		}
		m.ingestLine(seg, repo, line, lineNo, &sum)
	}
	m.log.Info("master file loaded", "segment", seg.String(),
		"loaded", sum.Loaded, "spreads", sum.Spreads,
		"parse_errs", sum.ParseErrs, "dups", sum.Duplicates)
	return sum
}

// LoadCombinedMaster parses a multi-segment master feed, dispatching each
// line by its leading segment tag (1=NSECM, 2=NSEFO, 11=BSECM, 12=BSEFO).
// Lines for unconfigured segments are counted as skipped, not errors.
func (m *Manager) LoadCombinedMaster(r io.Reader) LoadSummary {
	var sum LoadSummary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \r")
		if line == "" {
			continue
		}
		tag := line
		if i := strings.IndexByte(line, '|'); i != -1 {
			tag = line[:i]
		}
		segID, err := strconv.Atoi(strings.TrimSpace(tag))
		if err != nil {
			sum.recordParseErr(parseErr(model.SegmentUnknown, lineNo, "bad segment tag %q", tag))
			continue
		}
		seg := model.Segment(segID)
		repo := m.repos[seg]
		if repo == nil {
			sum.Skipped++
			continue
		}
		m.ingestLine(seg, repo, line, lineNo, &sum)
	}
	m.log.Info("combined master loaded", "summary", sum.String())
	return sum
}

func (m *Manager) ingestLine(seg model.Segment, repo *SegmentRepository, line string, lineNo int, sum *LoadSummary) {
	rec, perr := ParseMasterLine(line, seg, lineNo)
	if perr != nil {
		sum.recordParseErr(perr)
		return
	}
	m.normalizeAssetToken(seg, &rec)
	if err := repo.Insert(rec); err != nil {
		sum.countInsertErr(err)
		return
	}
	if rec.Token >= SpreadTokenMin {
		sum.Spreads++
	}
	sum.Loaded++
}

// LoadFromRecords is the direct in-memory handoff: records already parsed
// elsewhere are dispatched to their segments without touching the raw format.
func (m *Manager) LoadFromRecords(records []SegmentRecord) LoadSummary {
	var sum LoadSummary
	for _, sr := range records {
		repo := m.repos[sr.Segment]
		if repo == nil {
			sum.Skipped++
			continue
		}
		rec := sr.Record
		m.normalizeAssetToken(sr.Segment, &rec)
		if err := repo.Insert(rec); err != nil {
			sum.countInsertErr(err)
			continue
		}
		if rec.Token >= SpreadTokenMin {
			sum.Spreads++
		}
		sum.Loaded++
	}
	return sum
}

// normalizeAssetToken unpacks composite tokens and resolves the index
// sentinel. Unresolvable index underlyings keep asset token 0 and are queued
// for the second pass; they must not be treated as equities.
func (m *Manager) normalizeAssetToken(seg model.Segment, rec *model.ContractRecord) {
	switch {
	case rec.AssetToken == IndexAssetSentinel:
		if tok, ok := m.indexTokens[rec.Symbol]; ok && tok > 0 {
			rec.AssetToken = tok
		} else {
			rec.AssetToken = 0
			m.pendingIndex[seg] = append(m.pendingIndex[seg], rec.Token)
		}
	case rec.AssetToken > PackedAssetTokenMin:
		rec.AssetToken = rec.AssetToken % PackedAssetTokenBase
	}
}

// ResolveIndexUnderlyings runs the second resolution pass once an index
// master is available. Returns the number of contracts resolved. Must be
// called before FinalizeAll for the symbol→asset index to pick the values up.
func (m *Manager) ResolveIndexUnderlyings(indexTokens map[string]int64) int {
	if len(indexTokens) > 0 {
		merged := make(map[string]int64, len(m.indexTokens)+len(indexTokens))
		for k, v := range m.indexTokens {
			merged[k] = v
		}
		for k, v := range indexTokens {
			merged[k] = v
		}
		m.indexTokens = merged
	}

	resolved := 0
	for seg, tokens := range m.pendingIndex {
		repo := m.repos[seg]
		remaining := tokens[:0]
		for _, tok := range tokens {
			rec, ok := repo.Lookup(tok)
			if !ok {
				continue
			}
			asset, known := m.indexTokens[rec.Symbol]
			if known && asset > 0 && repo.UpdateAssetToken(tok, asset) {
				resolved++
			} else {
				remaining = append(remaining, tok)
			}
		}
		m.pendingIndex[seg] = remaining
	}
	if resolved > 0 {
		m.log.Info("index underlyings resolved", "count", resolved)
	}
	return resolved
}

// PendingIndexCount returns how many contracts still await index resolution.
func (m *Manager) PendingIndexCount() int {
	n := 0
	for _, toks := range m.pendingIndex {
		n += len(toks)
	}
	return n
}

// FinalizeAll builds secondary indexes on every repository and marks the
// manager loaded. No index-based query is valid before this returns.
func (m *Manager) FinalizeAll() {
	for _, seg := range model.Segments {
		if repo := m.repos[seg]; repo != nil {
			repo.FinalizeLoad()
			m.log.Info("repository finalized", "segment", seg.String(),
				"contracts", repo.Count(), "spreads", repo.SpreadCount())
		}
	}
	m.loaded.Store(true)
}

// Lookup resolves (segment, token) to a contract.
func (m *Manager) Lookup(seg model.Segment, token int64) (model.ContractRecord, bool) {
	repo := m.repos[seg]
	if repo == nil {
		return model.ContractRecord{}, false
	}
	return repo.Lookup(token)
}

// TotalCount sums contract counts across segments.
func (m *Manager) TotalCount() int {
	n := 0
	for _, repo := range m.repos {
		n += repo.Count()
	}
	return n
}
