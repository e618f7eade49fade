package config

import (
	"reflect"
	"testing"
)

func TestParseSegments(t *testing.T) {
	c := &Config{Segments: " NSECM, NSEFO ,,BSEFO"}
	got := c.ParseSegments()
	want := []string{"NSECM", "NSEFO", "BSEFO"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseSegments() = %v, want %v", got, want)
	}
}

func TestParseTokens(t *testing.T) {
	c := &Config{SubscribeTokens: "NSECM:26000, NSEFO:43000,NSEFO:43001,bogus,NSECM:abc"}
	got := c.ParseTokens()
	want := map[string][]int64{
		"NSECM": {26000},
		"NSEFO": {43000, 43001},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseTokens() = %v, want %v", got, want)
	}
}

func TestParseWatches(t *testing.T) {
	c := &Config{ATMWatches: "NSEFO:NIFTY:26MAR2026, NSEFO:BANKNIFTY:26MAR2026,missingexpiry"}
	got := c.ParseWatches()
	want := [][3]string{
		{"NSEFO", "NIFTY", "26MAR2026"},
		{"NSEFO", "BANKNIFTY", "26MAR2026"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseWatches() = %v, want %v", got, want)
	}
}

func TestParseWatchesEmpty(t *testing.T) {
	c := &Config{ATMWatches: ""}
	if got := c.ParseWatches(); got != nil {
		t.Fatalf("ParseWatches() on empty = %v, want nil", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_CFG_INT", "42")
	if got := getEnvInt("TEST_CFG_INT", 7); got != 42 {
		t.Fatalf("getEnvInt = %d, want 42", got)
	}
	t.Setenv("TEST_CFG_INT", "notanint")
	if got := getEnvInt("TEST_CFG_INT", 7); got != 7 {
		t.Fatalf("getEnvInt on invalid = %d, want fallback 7", got)
	}
	if got := getEnvInt("TEST_CFG_INT_UNSET", 7); got != 7 {
		t.Fatalf("getEnvInt on unset = %d, want fallback 7", got)
	}
}
