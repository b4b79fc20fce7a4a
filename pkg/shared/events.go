package shared

import (
	"fmt"
	"time"
)

// EventKind names a lifecycle transition of the shared device
type EventKind string

const (
	EventOpened        EventKind = "opened"
	EventReady         EventKind = "ready"
	EventOpenFailed    EventKind = "open_failed"
	EventAcquired      EventKind = "acquired"
	EventReleased      EventKind = "released"
	EventClosed        EventKind = "closed"
	EventSafetyNet     EventKind = "safety_net"
	EventTeardownError EventKind = "teardown_error"
)

// Event is one entry of the manager's lifecycle history
type Event struct {
	Kind     EventKind
	Refs     int
	Lease    string
	Consumer string
	At       time.Time
	Err      error
}

func (e Event) String() string {
	s := fmt.Sprintf("%s refs=%d", e.Kind, e.Refs)
	if e.Consumer != "" {
		s += " consumer=" + e.Consumer
	}
	if e.Err != nil {
		s += " err=" + e.Err.Error()
	}
	return s
}

// Stats counts lifecycle transitions since the manager was created
type Stats struct {
	Opens    int64
	Closes   int64
	Acquires int64
	Releases int64
	Refs     int
}
