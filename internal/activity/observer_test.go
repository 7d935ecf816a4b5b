package activity

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"roomcast/internal/bus"
)

type published struct {
	topic string
	event Event
}

// recordingBus captures publishes in order; subscriptions are irrelevant to
// the observer.
type recordingBus struct {
	mu   sync.Mutex
	seen []published
}

func (b *recordingBus) Publish(topic string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.seen = append(b.seen, published{topic: topic, event: ev})
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(topic, connID string, h bus.Handler) error { return nil }
func (b *recordingBus) Unsubscribe(topic, connID string) error              { return nil }
func (b *recordingBus) Close()                                              {}

func (b *recordingBus) all() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]published, len(b.seen))
	copy(out, b.seen)
	return out
}

type chanSink struct {
	got chan MessageEvent
}

func (s *chanSink) MessageCreated(ev MessageEvent) { s.got <- ev }

func TestObserverMembershipChanged(t *testing.T) {
	b := &recordingBus{}
	o := NewObserver(b, nil)

	uid := uint(4)
	o.MembershipChanged(KindCreate, MembershipEvent{ID: 2, RoomID: 5, UserID: &uid, IsOnline: true, IsActive: true})

	seen := b.all()
	if len(seen) != 1 {
		t.Fatalf("published %d events, want 1", len(seen))
	}
	if seen[0].topic != "presence:5" {
		t.Errorf("topic = %q, want presence:5", seen[0].topic)
	}
	if seen[0].event.Kind != KindCreate {
		t.Errorf("kind = %q, want create", seen[0].event.Kind)
	}
	m := seen[0].event.Membership
	if m == nil || m.ID != 2 || !m.IsOnline || !m.IsActive {
		t.Errorf("membership payload = %+v", m)
	}
}

func TestObserverMessageCreateReachesSink(t *testing.T) {
	b := &recordingBus{}
	sink := &chanSink{got: make(chan MessageEvent, 1)}
	o := NewObserver(b, sink)

	ev := MessageEvent{ID: 10, RoomID: 3, RoomUserID: 7, Body: "hi"}
	o.MessageChanged(KindCreate, ev, nil)

	seen := b.all()
	if len(seen) != 1 || seen[0].topic != "messages:3" {
		t.Fatalf("published = %+v, want one event on messages:3", seen)
	}
	select {
	case got := <-sink.got:
		if got.ID != 10 {
			t.Errorf("sink event id = %d, want 10", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("sink never saw the created message")
	}
}

func TestObserverReactionReannouncesParent(t *testing.T) {
	b := &recordingBus{}
	o := NewObserver(b, nil)

	parentID := uint(10)
	reaction := MessageEvent{ID: 11, RoomID: 3, RoomUserID: 7, ParentID: &parentID, Body: "+1", IsReaction: true}
	parent := MessageEvent{ID: 10, RoomID: 3, RoomUserID: 8, Body: "hello", Reactions: []MessageEvent{reaction}}

	o.MessageChanged(KindCreate, reaction, &parent)

	seen := b.all()
	if len(seen) != 2 {
		t.Fatalf("published %d events, want 2 (reaction then parent)", len(seen))
	}
	if seen[0].event.Message.ID != 11 || seen[0].event.Kind != KindCreate {
		t.Errorf("first event = %+v, want reaction create", seen[0].event)
	}
	if seen[1].event.Message.ID != 10 || seen[1].event.Kind != KindUpdate {
		t.Errorf("second event = %+v, want parent update", seen[1].event)
	}
}

// Deleting a reaction re-announces the parent too: its observable reaction
// list shrank.
func TestObserverReactionDeleteReannouncesParent(t *testing.T) {
	b := &recordingBus{}
	sink := &chanSink{got: make(chan MessageEvent, 1)}
	o := NewObserver(b, sink)

	parentID := uint(10)
	reaction := MessageEvent{ID: 11, RoomID: 3, ParentID: &parentID, Body: "+1", IsReaction: true}
	parent := MessageEvent{ID: 10, RoomID: 3, Body: "hello"}

	o.MessageChanged(KindDelete, reaction, &parent)

	seen := b.all()
	if len(seen) != 2 {
		t.Fatalf("published %d events, want 2", len(seen))
	}
	if seen[0].event.Kind != KindDelete {
		t.Errorf("first kind = %q, want delete", seen[0].event.Kind)
	}
	if seen[1].event.Kind != KindUpdate || seen[1].event.Message.ID != 10 {
		t.Errorf("second event = %+v, want parent update", seen[1].event)
	}
	select {
	case <-sink.got:
		t.Fatal("delete must not reach the notification sink")
	case <-time.After(50 * time.Millisecond):
	}
}
