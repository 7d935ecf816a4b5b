package activity

import (
	"encoding/json"

	"roomcast/internal/bus"
	"roomcast/internal/metrics"

	"github.com/rs/zerolog/log"
)

// MessageSink receives every freshly created message event, in parallel
// with bus delivery. The notification trigger hangs off this.
type MessageSink interface {
	MessageCreated(ev MessageEvent)
}

// Observer turns store mutations into activity events and publishes them.
// It runs on the goroutine performing the write; publishing is enqueue-only
// so the writer is never blocked on delivery. The observer does not filter:
// empty messages are published too, and each session decides what to push.
type Observer struct {
	bus  bus.Bus
	sink MessageSink
}

func NewObserver(b bus.Bus, sink MessageSink) *Observer {
	return &Observer{bus: b, sink: sink}
}

// MembershipChanged publishes one event for a RoomUser mutation.
func (o *Observer) MembershipChanged(kind Kind, ev MembershipEvent) {
	o.publish(Event{Kind: kind, Membership: &ev})
}

// MessageChanged publishes one event for a message mutation. When the
// mutated message is a reaction, parent carries a fresh snapshot of the
// parent message and a synthetic update is re-announced for it: the
// parent's observable reaction list changed even though its own row did
// not.
func (o *Observer) MessageChanged(kind Kind, ev MessageEvent, parent *MessageEvent) {
	o.publish(Event{Kind: kind, Message: &ev})
	if parent != nil {
		o.publish(Event{Kind: KindUpdate, Message: parent})
	}
	if kind == KindCreate && o.sink != nil {
		go o.sink.MessageCreated(ev)
	}
}

func (o *Observer) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Uint("room_id", e.RoomID()).Msg("marshal activity event")
		return
	}
	for _, topic := range TopicsForEvent(e) {
		if err := o.bus.Publish(topic, payload); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("publish activity event")
			continue
		}
		metrics.BusPublishedTotal.WithLabelValues(string(e.Kind)).Inc()
	}
}
