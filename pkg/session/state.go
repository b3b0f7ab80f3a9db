package session

import (
	"encoding/json"
	"fmt"
)

type Status int

const (
	StatusNone Status = iota
	StatusOffline
	StatusPaused
	StatusSyncing
	StatusSynced
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusOffline:
		return "offline"
	case StatusPaused:
		return "paused"
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Close codes from RFC 6455 that the session cares about.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseNoStatus  = 1005
	CloseAbnormal  = 1006
)

func graceful(code int) bool {
	switch code {
	case CloseNormal, CloseGoingAway, CloseNoStatus:
		return true
	default:
		return false
	}
}

// ConnectionFailure is the payload of the Error state.
type ConnectionFailure struct {
	Code   int
	Reason string
}

func (f *ConnectionFailure) Error() string {
	return fmt.Sprintf("connection failed: code %d, reason: %s", f.Code, f.Reason)
}

// State is the tagged sync state. Failure is set only when Status is StatusError.
type State struct {
	Status  Status
	Failure *ConnectionFailure
}

func (s State) String() string {
	if s.Status == StatusError && s.Failure != nil {
		return s.Failure.Error()
	}
	return s.Status.String()
}

func (s State) Equal(o State) bool {
	if s.Status != o.Status {
		return false
	}
	if s.Failure == nil || o.Failure == nil {
		return s.Failure == o.Failure
	}
	return *s.Failure == *o.Failure
}

// MarshalJSON renders plain states as a string and errors as {"error": "..."}.
func (s State) MarshalJSON() ([]byte, error) {
	if s.Status == StatusError {
		reason := ""
		if s.Failure != nil {
			reason = s.Failure.Error()
		}
		return json.Marshal(map[string]string{"error": reason})
	}
	return json.Marshal(s.Status.String())
}
