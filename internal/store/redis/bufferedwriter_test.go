package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketcore/internal/model"
)

// openBufferedWriter returns a BufferedWriter whose breaker is already
// tripped. The wrapped writer never runs while the circuit is open, so a
// zero-value Writer is enough.
func openBufferedWriter(t *testing.T) *BufferedWriter {
	t.Helper()
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(context.Background(), &Writer{}, cb, 100)
	cb.Execute(func() error { return errors.New("fail") })
	if cb.CurrentState() != StateOpen {
		t.Fatal("expected Open breaker")
	}
	return bw
}

func TestBufferedWriterDropsSnapshotsWhileOpen(t *testing.T) {
	bw := openBufferedWriter(t)

	snap := model.PriceSnapshot{Segment: model.NSEFO, Token: 43000, LTP: 101.5}
	if err := bw.WriteSnapshot(snap); err != nil {
		t.Errorf("WriteSnapshot while open = %v, want nil (dropped)", err)
	}
	batch := []model.PriceSnapshot{snap, {Segment: model.NSEFO, Token: 43001, LTP: 99.2}}
	if err := bw.WriteSnapshotBatch(batch); err != nil {
		t.Errorf("WriteSnapshotBatch while open = %v, want nil (dropped)", err)
	}
	if n := bw.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d, want 0: snapshots must never be buffered", n)
	}
}

func TestBufferedWriterEmptyBatchNoop(t *testing.T) {
	// An empty batch must not touch the breaker or the writer at all.
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(context.Background(), &Writer{}, cb, 100)
	if err := bw.WriteSnapshotBatch(nil); err != nil {
		t.Errorf("WriteSnapshotBatch(nil) = %v, want nil", err)
	}
}

func TestBufferedWriterBuffersATMAndGreeksWhileOpen(t *testing.T) {
	bw := openBufferedWriter(t)

	if err := bw.WriteATM(model.ATMInfo{Symbol: "NIFTY", Expiry: "26MAR2026", ATMStrike: 24500}); err != nil {
		t.Errorf("WriteATM while open = %v, want nil (buffered)", err)
	}
	if err := bw.WriteGreeks(model.GreeksResult{Segment: model.NSEFO, Token: 43000, IV: 0.14, Converged: true}); err != nil {
		t.Errorf("WriteGreeks while open = %v, want nil (buffered)", err)
	}
	if n := bw.PendingCount(); n != 2 {
		t.Errorf("PendingCount = %d, want 2", n)
	}
}

func TestBufferedWriterDropsOldestAtCapacity(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(context.Background(), &Writer{}, cb, 3)
	cb.Execute(func() error { return errors.New("fail") })

	for i := 0; i < 5; i++ {
		bw.WriteGreeks(model.GreeksResult{Segment: model.NSEFO, Token: int64(43000 + i)})
	}
	if n := bw.PendingCount(); n != 3 {
		t.Errorf("PendingCount = %d, want capped at 3", n)
	}
}
