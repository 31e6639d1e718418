package instrument

import "time"

type EventType string

const (
	EventSet        EventType = "set"
	EventVerify     EventType = "verify"
	EventMode       EventType = "mode"
	EventConnection EventType = "connection"
)

// Event reports one outcome of an operation on the instrument. Setting and
// Value are empty for mode and connection events.
type Event struct {
	Type    EventType `json:"type"`
	Setting string    `json:"setting,omitempty"`
	Value   string    `json:"value,omitempty"`
	Mode    string    `json:"mode,omitempty"`
	OK      bool      `json:"ok"`
	Status  string    `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives events after the operation that produced them has
// finished. Implementations must not call back into the Driver.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(e Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(e)
		}
	}
}
