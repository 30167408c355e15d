// Package endpoint holds the ordered list of upload destinations.
package endpoint

import (
	"errors"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/logic/source"
)

// ErrNoEndpoints is returned by NewTable for an empty list.
var ErrNoEndpoints = errors.New("at least one endpoint is required")

// Endpoint is one upload destination.
type Endpoint struct {
	Name        string
	Interval    uint64 // seconds
	SnapshotURL string
	InfoURL     string
}

// HasInfo reports whether metadata should be sent to this endpoint.
func (e Endpoint) HasInfo() bool {
	return e.InfoURL != ""
}

// Due reports whether an image captured after since has to be sent here.
func (e Endpoint) Due(since time.Duration) bool {
	return source.Elapsed(since, e.Interval)
}

// Table is the static, ordered set of endpoints. The minimum interval is
// computed once at construction.
type Table struct {
	entries []Endpoint
	min     uint64
}

// NewTable copies entries into a Table.
func NewTable(entries []Endpoint) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrNoEndpoints
	}
	t := &Table{entries: make([]Endpoint, len(entries))}
	copy(t.entries, entries)

	t.min = t.entries[0].Interval
	for _, e := range t.entries[1:] {
		if e.Interval < t.min {
			t.min = e.Interval
		}
	}
	return t, nil
}

// FromConfig builds a Table from the endpoints section of the config.
func FromConfig(cfgs []config.EndpointConfig) (*Table, error) {
	entries := make([]Endpoint, 0, len(cfgs))
	for _, c := range cfgs {
		entries = append(entries, Endpoint{
			Name:        c.Name,
			Interval:    c.Interval,
			SnapshotURL: c.SnapshotURL,
			InfoURL:     c.InfoURL,
		})
	}
	return NewTable(entries)
}

// MinInterval returns the smallest interval across all endpoints, in seconds.
func (t *Table) MinInterval() uint64 {
	return t.min
}

// Len returns the number of endpoints.
func (t *Table) Len() int {
	return len(t.entries)
}

// All returns the endpoints in configured order. The slice must not be modified.
func (t *Table) All() []Endpoint {
	return t.entries
}

// Due returns, in configured order, the endpoints due for an image whose
// camera last ran since ago.
func (t *Table) Due(since time.Duration) []Endpoint {
	var due []Endpoint
	for _, e := range t.entries {
		if e.Due(since) {
			due = append(due, e)
		}
	}
	return due
}
