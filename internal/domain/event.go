package domain

import "time"

// Event is one entry from the community calendar feed, normalized to the
// configured local zone. Events are recomputed from the remote feed on every
// query and never persisted.
type Event struct {
	Begin       time.Time
	End         time.Time
	Description string
}
