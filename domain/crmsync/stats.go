package crmsync

import (
	"sync"

	"github.com/nexus-fundraising/nexus/domain/records"
)

// EntityStats counts the outcomes of one phase.
type EntityStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Processed is the number of records the phase looked at.
func (s EntityStats) Processed() int {
	return s.Created + s.Updated + s.Errors + s.Skipped
}

func (s EntityStats) add(o EntityStats) EntityStats {
	return EntityStats{
		Created: s.Created + o.Created,
		Updated: s.Updated + o.Updated,
		Errors:  s.Errors + o.Errors,
		Skipped: s.Skipped + o.Skipped,
	}
}

// Stats holds independent counters per entity.
type Stats struct {
	Donors       EntityStats `json:"donors"`
	Donations    EntityStats `json:"donations"`
	Interactions EntityStats `json:"interactions"`
}

// Total sums the three entities.
func (s Stats) Total() EntityStats {
	return s.Donors.add(s.Donations).add(s.Interactions)
}

func (s *Stats) entity(e records.Entity) *EntityStats {
	switch e {
	case records.EntityDonations:
		return &s.Donations
	case records.EntityInteractions:
		return &s.Interactions
	default:
		return &s.Donors
	}
}

// SyncResult is the outcome of one run.
type SyncResult struct {
	Success bool     `json:"success"`
	Stats   Stats    `json:"stats"`
	Errors  []string `json:"errors"`

	// ReconnectRequired is set when the run stopped on an auth failure.
	ReconnectRequired bool `json:"-"`
}

// Accumulator folds per-record outcomes and run-level errors into a
// SyncResult. It is safe for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	stats     Stats
	errors    []string
	reconnect bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{errors: []string{}}
}

func (a *Accumulator) bump(e records.Entity, f func(*EntityStats)) {
	a.mu.Lock()
	f(a.stats.entity(e))
	a.mu.Unlock()
}

// Created counts a created record.
func (a *Accumulator) Created(e records.Entity) {
	a.bump(e, func(s *EntityStats) { s.Created++ })
}

// Updated counts an updated record.
func (a *Accumulator) Updated(e records.Entity) {
	a.bump(e, func(s *EntityStats) { s.Updated++ })
}

// Failed counts a record or phase failure.
func (a *Accumulator) Failed(e records.Entity) {
	a.bump(e, func(s *EntityStats) { s.Errors++ })
}

// Skipped counts a record that was deliberately not imported.
func (a *Accumulator) Skipped(e records.Entity) {
	a.bump(e, func(s *EntityStats) { s.Skipped++ })
}

// AddError appends a run-level error message.
func (a *Accumulator) AddError(msg string) {
	a.mu.Lock()
	a.errors = append(a.errors, msg)
	a.mu.Unlock()
}

// RequireReconnect flags the run as stopped on an auth failure.
func (a *Accumulator) RequireReconnect() {
	a.mu.Lock()
	a.reconnect = true
	a.mu.Unlock()
}

// Result returns a snapshot. Success means no record errors and no
// run-level errors; skipped records do not fail a run.
func (a *Accumulator) Result() *SyncResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	errs := make([]string, len(a.errors))
	copy(errs, a.errors)
	return &SyncResult{
		Success:           a.stats.Total().Errors == 0 && len(errs) == 0,
		Stats:             a.stats,
		Errors:            errs,
		ReconnectRequired: a.reconnect,
	}
}

// failedResult is the result of a run that could not start.
func failedResult(msg string, reconnect bool) *SyncResult {
	acc := NewAccumulator()
	acc.AddError(msg)
	if reconnect {
		acc.RequireReconnect()
	}
	return acc.Result()
}
