// Package stats holds the live keystroke counters of a running daemon.
package stats

import (
	"sync"
	"time"

	"github.com/nilszeilon/keystr/internal/domain"
)

// Engine owns the in-memory record. Increment and Snapshot are mutually
// atomic: a snapshot sees either all of an increment or none of it.
// The engine performs no I/O.
type Engine struct {
	mu     sync.Mutex
	record domain.Record
	// gen counts mutations so callers can tell whether a flush is needed.
	gen uint64
}

// NewEngine returns an engine holding an empty record.
func NewEngine() *Engine {
	return &Engine{record: domain.NewRecord()}
}

// Increment counts one keystroke on the local calendar day of now.
func (e *Engine) Increment(now time.Time) {
	day := domain.DateOf(now)

	e.mu.Lock()
	e.record.Total++
	e.record.Daily[day]++
	e.gen++
	e.mu.Unlock()
}

// Snapshot returns a consistent copy of the current record.
func (e *Engine) Snapshot() domain.Record {
	rec, _ := e.SnapshotGeneration()
	return rec
}

// SnapshotGeneration returns a copy of the record together with the
// generation it was taken at.
func (e *Engine) SnapshotGeneration() (domain.Record, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone(), e.gen
}

// Generation returns the current mutation counter.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Load replaces the in-memory state with a copy of rec.
func (e *Engine) Load(rec domain.Record) {
	c := rec.Clone()

	e.mu.Lock()
	e.record = c
	e.gen++
	e.mu.Unlock()
}

// Reset zeroes the total and clears every daily bucket.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.record = domain.NewRecord()
	e.gen++
	e.mu.Unlock()
}
