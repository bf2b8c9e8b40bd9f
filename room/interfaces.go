package room

import "github.com/wfunc/tapserver/models"

// EventSink receives room events in the order the room changed.
// Publish is called with the room lock held, so implementations must not call
// back into the Machine synchronously.
type EventSink interface {
	Publish(event models.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event models.Event)

func (f EventSinkFunc) Publish(event models.Event) {
	f(event)
}
