package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateToken is returned by Insert when the token already has a
	// valid slot in the current load pass. Fatal to that record only.
	ErrDuplicateToken = errors.New("duplicate token")

	// ErrNotReady is returned by index-based queries issued before
	// FinalizeLoad. Querying an unfinalized repository is a programming
	// error and should fail loudly.
	ErrNotReady = errors.New("repository not finalized")

	// ErrUnresolvedUnderlying means the contract's asset token is still the
	// index sentinel and derived analytics are unavailable until the index
	// master resolves it.
	ErrUnresolvedUnderlying = errors.New("underlying asset token unresolved")
)

// ParseError describes one rejected master-feed line. Parse errors are
// aggregated into the LoadSummary and never abort a load.
type ParseError struct {
	Segment string
	Line    int
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Segment, e.Line, e.Reason)
}

// LoadSummary aggregates per-error-kind counts for one load pass.
type LoadSummary struct {
	Loaded     int
	Spreads    int
	ParseErrs  int
	Duplicates int
	Rejected   int // inserts refused for non-duplicate reasons (e.g. after finalize)
	Skipped    int // lines for segments the manager is not configured to load

	// First few parse errors, kept for the load report.
	SampleErrs []*ParseError
}

const maxSampleErrs = 10

func (s *LoadSummary) countInsertErr(err error) {
	if errors.Is(err, ErrDuplicateToken) {
		s.Duplicates++
	} else {
		s.Rejected++
	}
}

func (s *LoadSummary) recordParseErr(e *ParseError) {
	s.ParseErrs++
	if len(s.SampleErrs) < maxSampleErrs {
		s.SampleErrs = append(s.SampleErrs, e)
	}
}

// Merge folds another summary into s.
func (s *LoadSummary) Merge(o LoadSummary) {
	s.Loaded += o.Loaded
	s.Spreads += o.Spreads
	s.ParseErrs += o.ParseErrs
	s.Duplicates += o.Duplicates
	s.Rejected += o.Rejected
	s.Skipped += o.Skipped
	for _, e := range o.SampleErrs {
		if len(s.SampleErrs) < maxSampleErrs {
			s.SampleErrs = append(s.SampleErrs, e)
		}
	}
}

func (s *LoadSummary) String() string {
	return fmt.Sprintf("loaded=%d spreads=%d parse_errs=%d dups=%d rejected=%d skipped=%d",
		s.Loaded, s.Spreads, s.ParseErrs, s.Duplicates, s.Rejected, s.Skipped)
}
