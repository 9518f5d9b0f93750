package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/spigell/autoapply/internal/state"
)

// EventType names an unsolicited notification.
type EventType string

const (
	EventStatusUpdate        EventType = "statusUpdate"
	EventApplicationComplete EventType = "applicationComplete"
	EventApplicationError    EventType = "applicationError"
	EventSearchCompleted     EventType = "searchCompleted"
)

// Event is a notification emitted while a run progresses.
type Event struct {
	ID      string        `json:"id"`
	Type    EventType     `json:"type"`
	RunID   string        `json:"runId,omitempty"`
	Status  string        `json:"status,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	UserID  string        `json:"userId,omitempty"`
	Job     *state.JobRef `json:"jobData,omitempty"`
	At      time.Time     `json:"at"`
}

// Notifier receives run events. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

func newEvent(typ EventType, st *state.RunState, now time.Time) Event {
	ev := Event{ID: uuid.NewString(), Type: typ, At: now}
	if st != nil {
		ev.RunID = st.RunID
		ev.UserID = st.UserID
	}
	return ev
}
