package notify

import (
	"reflect"
	"testing"
	"time"

	"roomcast/internal/activity"
)

func uintp(v uint) *uint { return &v }

type fakeDirectory struct {
	members []uint
	online  map[uint]bool
	muted   map[uint]bool
}

func (d *fakeDirectory) ActiveMemberUserIDs(roomID uint) ([]uint, error) { return d.members, nil }
func (d *fakeDirectory) OnlineUserIDs(userIDs []uint) (map[uint]bool, error) {
	return d.online, nil
}
func (d *fakeDirectory) MutedUserIDs(roomID uint) (map[uint]bool, error) { return d.muted, nil }

type fakeNotifier struct {
	got chan []uint
}

func (n *fakeNotifier) Notify(messageID uint, userIDs []uint) { n.got <- userIDs }

func TestTriggerRecipients(t *testing.T) {
	tests := []struct {
		name string
		dir  fakeDirectory
		ev   activity.MessageEvent
		want []uint
	}{
		{
			name: "author excluded",
			dir:  fakeDirectory{members: []uint{1, 2, 3}, online: map[uint]bool{}, muted: map[uint]bool{}},
			ev:   activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "hi"},
			want: []uint{2, 3},
		},
		{
			name: "online members excluded",
			dir:  fakeDirectory{members: []uint{1, 2, 3}, online: map[uint]bool{2: true}, muted: map[uint]bool{}},
			ev:   activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "hi"},
			want: []uint{3},
		},
		{
			name: "muted members excluded",
			dir:  fakeDirectory{members: []uint{1, 2, 3}, online: map[uint]bool{}, muted: map[uint]bool{3: true}},
			ev:   activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "hi"},
			want: []uint{2},
		},
		{
			name: "everyone filtered",
			dir:  fakeDirectory{members: []uint{1, 2}, online: map[uint]bool{2: true}, muted: map[uint]bool{}},
			ev:   activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "hi"},
			want: []uint{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trg := NewTrigger(&tt.dir, nil)
			got, err := trg.Recipients(tt.ev)
			if err != nil {
				t.Fatalf("Recipients() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Recipients() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTriggerSkipsNoise(t *testing.T) {
	tests := []struct {
		name string
		ev   activity.MessageEvent
	}{
		{"reaction", activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "+1", IsReaction: true}},
		{"empty placeholder", activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1)}},
		{"system message", activity.MessageEvent{ID: 9, RoomID: 4, Body: "user joined"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{got: make(chan []uint, 1)}
			dir := &fakeDirectory{members: []uint{1, 2}, online: map[uint]bool{}, muted: map[uint]bool{}}
			NewTrigger(dir, n).MessageCreated(tt.ev)
			select {
			case ids := <-n.got:
				t.Fatalf("notified %v for %s", ids, tt.name)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestTriggerNotifies(t *testing.T) {
	n := &fakeNotifier{got: make(chan []uint, 1)}
	dir := &fakeDirectory{members: []uint{1, 2, 3}, online: map[uint]bool{3: true}, muted: map[uint]bool{}}
	NewTrigger(dir, n).MessageCreated(activity.MessageEvent{ID: 9, RoomID: 4, UserID: uintp(1), Body: "hi"})

	select {
	case ids := <-n.got:
		if !reflect.DeepEqual(ids, []uint{2}) {
			t.Errorf("notified %v, want [2]", ids)
		}
	case <-time.After(time.Second):
		t.Fatal("notifier never called")
	}
}
