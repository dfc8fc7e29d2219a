package health

import "time"

// State is the coarse reachability of the backend.
type State string

const (
	StateOnline   State = "online"
	StateDegraded State = "degraded"
	StateOffline  State = "offline"
)

// Status is a point-in-time health reading. It is a value type: the monitor
// replaces it whole and never mutates one it has handed out.
type Status struct {
	State       State      `json:"state"`
	LastChecked time.Time  `json:"last_checked"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// IsOffline reports whether work must be queued instead of attempted.
func (s Status) IsOffline() bool {
	return s.State == StateOffline
}

// CanAttempt reports whether a synchronous backend call is worth trying.
// Degraded still attempts: the backend answered, just not cleanly.
func (s Status) CanAttempt() bool {
	return s.State == StateOnline || s.State == StateDegraded
}

const awaitingFirstCheck = "awaiting first health check"

func initialStatus() Status {
	return Status{State: StateOffline, Message: awaitingFirstCheck}
}
