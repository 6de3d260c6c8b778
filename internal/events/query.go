package events

import "time"

// QueryStart is emitted before a resource operation runs the pipeline.
type QueryStart struct {
	Operation string
	Type      string
}

// QueryFinish is emitted after a resource operation completes.
type QueryFinish struct {
	Operation string
	Type      string
	Err       error
	Duration  time.Duration
}
