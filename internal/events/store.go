package events

import "time"

// StoreSelect is emitted after a plan executes against the data store.
type StoreSelect struct {
	Type     string
	Rows     int
	Err      error
	Duration time.Duration
}

// StoreTx is emitted when a write unit of work finishes.
type StoreTx struct {
	Type      string
	Committed bool
	Err       error
	Duration  time.Duration
}
