package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"marketcore/internal/model"
)

// pendingWrite represents a write that was buffered during circuit-open state.
type pendingWrite struct {
	WriteType string // "atm", "greeks"
	Data      []byte // JSON-encoded payload
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, ATM and greeks writes are buffered locally and
// flushed when the circuit closes again. Snapshot writes are never buffered:
// a newer snapshot always supersedes a missed one.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteSnapshot writes a merged snapshot through the circuit breaker.
// Open circuit drops the write; the next tick for the token replaces it.
func (bw *BufferedWriter) WriteSnapshot(snap model.PriceSnapshot) error {
	err := bw.cb.Execute(func() error {
		bw.writer.writeSnapshot(bw.ctx, snap)
		return nil // writeSnapshot logs errors internally
	})
	if err == ErrCircuitOpen {
		return nil
	}
	return err
}

// WriteSnapshotBatch writes several snapshots in one pipeline through the
// circuit breaker. Open circuit drops the batch, same as WriteSnapshot.
func (bw *BufferedWriter) WriteSnapshotBatch(snaps []model.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		bw.writer.WriteSnapshotBatch(bw.ctx, snaps)
		return nil
	})
	if err == ErrCircuitOpen {
		return nil
	}
	return err
}

// WriteATM writes an ATM transition through the circuit breaker.
// If the circuit is open, the write is buffered locally.
func (bw *BufferedWriter) WriteATM(info model.ATMInfo) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteATM(bw.ctx, info)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("atm", info)
		return nil // buffered, not lost
	}
	return err
}

// WriteGreeks writes a greeks result through the circuit breaker.
func (bw *BufferedWriter) WriteGreeks(res model.GreeksResult) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteGreeks(bw.ctx, res)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("greeks", res)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(writeType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-writer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full — drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{WriteType: writeType, Data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		switch pw.WriteType {
		case "atm":
			var info model.ATMInfo
			if json.Unmarshal(pw.Data, &info) == nil {
				bw.writer.WriteATM(bw.ctx, info)
			}
		case "greeks":
			var res model.GreeksResult
			if json.Unmarshal(pw.Data, &res) == nil {
				bw.writer.WriteGreeks(bw.ctx, res)
			}
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
