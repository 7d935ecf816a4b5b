package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"roomcast/internal/activity"
	"roomcast/internal/bus"
	"roomcast/internal/config"
	"roomcast/internal/db"
	"roomcast/internal/models"

	"gorm.io/gorm"
)

// recordingBus captures every published event so the tests can assert on
// the exact broadcast traffic a mutation produces.
type recordingBus struct {
	mu     sync.Mutex
	events []activity.Event
}

func (b *recordingBus) Publish(topic string, payload []byte) error {
	var ev activity.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(topic, connID string, h bus.Handler) error { return nil }
func (b *recordingBus) Unsubscribe(topic, connID string) error              { return nil }
func (b *recordingBus) Close()                                              {}

func (b *recordingBus) all() []activity.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]activity.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

func testServices(t *testing.T) (*Services, *recordingBus, *gorm.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("skip: TEST_DATABASE_DSN not set")
	}
	gdb, err := db.Connect(dsn)
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	rb := &recordingBus{}
	cfg := config.Config{JWTSecret: "secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	return NewServices(gdb, cfg, activity.NewObserver(rb, nil)), rb, gdb
}

func createUser(t *testing.T, gdb *gorm.DB) *models.User {
	t.Helper()
	u := models.User{
		Username:     fmt.Sprintf("u%d", time.Now().UnixNano()),
		PasswordHash: "x",
	}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &u
}

func TestMembershipGetOrCreateEmitsOnce(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("members", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	rb.reset()
	ru1, err := svc.Memberships.GetOrCreate(room.ID, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	events := rb.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].Kind != activity.KindCreate || events[0].Membership == nil || events[0].Membership.ID != ru1.ID {
		t.Errorf("event = %+v, want membership create for %d", events[0], ru1.ID)
	}
	if !events[0].Membership.IsActive {
		t.Error("fresh membership announced inactive")
	}

	rb.reset()
	ru2, err := svc.Memberships.GetOrCreate(room.ID, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate() second call error = %v", err)
	}
	if ru2.ID != ru1.ID {
		t.Errorf("second call returned row %d, want %d", ru2.ID, ru1.ID)
	}
	if got := rb.all(); len(got) != 0 {
		t.Errorf("reuse published %d events, want 0", len(got))
	}
}

func TestPresenceFlipAnnouncesMemberships(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("presence", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Memberships.GetOrCreate(room.ID, user.ID); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	rb.reset()
	changed, err := svc.Presence.SetOnline(user.ID, true)
	if err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if !changed {
		t.Error("first flip reported unchanged")
	}
	events := rb.all()
	if len(events) != 1 || events[0].Membership == nil || !events[0].Membership.IsOnline {
		t.Fatalf("events = %+v, want one online membership update", events)
	}

	// Same value again is a no-op, no duplicate announcement.
	rb.reset()
	changed, err = svc.Presence.SetOnline(user.ID, true)
	if err != nil {
		t.Fatalf("SetOnline() repeat error = %v", err)
	}
	if changed || len(rb.all()) != 0 {
		t.Error("repeated flip announced again")
	}

	rb.reset()
	if _, err := svc.Presence.SetOnline(user.ID, false); err != nil {
		t.Fatalf("SetOnline(false) error = %v", err)
	}
	events = rb.all()
	if len(events) != 1 || events[0].Membership.IsOnline {
		t.Fatalf("events = %+v, want one offline membership update", events)
	}
}

func TestReactionLifecycleReannouncesParent(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("reactions", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	parent, err := svc.Messages.Create(room.ID, &user.ID, "hello", nil, false)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	rb.reset()
	reaction, err := svc.Messages.Create(room.ID, &user.ID, "+1", &parent.ID, true)
	if err != nil {
		t.Fatalf("create reaction: %v", err)
	}
	events := rb.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want reaction create plus parent update", len(events))
	}
	if events[0].Kind != activity.KindCreate || !events[0].Message.IsReaction {
		t.Errorf("first event = %+v, want reaction create", events[0])
	}
	if events[1].Kind != activity.KindUpdate || events[1].Message.ID != parent.ID {
		t.Errorf("second event = %+v, want parent update", events[1])
	}
	if len(events[1].Message.Reactions) != 1 {
		t.Errorf("parent snapshot carries %d reactions, want 1", len(events[1].Message.Reactions))
	}

	rb.reset()
	if err := svc.Messages.Delete(reaction.ID, user.ID); err != nil {
		t.Fatalf("delete reaction: %v", err)
	}
	events = rb.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want delete plus parent update", len(events))
	}
	if events[0].Kind != activity.KindDelete {
		t.Errorf("first event kind = %q, want delete", events[0].Kind)
	}
	if events[1].Kind != activity.KindUpdate || len(events[1].Message.Reactions) != 0 {
		t.Errorf("second event = %+v, want parent update with empty reactions", events[1])
	}
}

func TestDeleteCascadesReactionTree(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("cascade", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	root, err := svc.Messages.Create(room.ID, &user.ID, "root", nil, false)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	reaction, err := svc.Messages.Create(room.ID, &user.ID, "+1", &root.ID, true)
	if err != nil {
		t.Fatalf("create reaction: %v", err)
	}
	if _, err := svc.Messages.AttachImage(reaction.ID, user.ID, "https://img.example/r.png", 8, 8); err != nil {
		t.Fatalf("attach image: %v", err)
	}
	nested, err := svc.Messages.Create(room.ID, &user.ID, "!!", &reaction.ID, true)
	if err != nil {
		t.Fatalf("create nested reaction: %v", err)
	}

	rb.reset()
	if err := svc.Messages.Delete(root.ID, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int64
	ids := []uint{root.ID, reaction.ID, nested.ID}
	if err := gdb.Model(&models.Message{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 0 {
		t.Errorf("%d message rows survived the delete", n)
	}
	if err := gdb.Model(&models.MessageImage{}).Where("message_id IN ?", ids).Count(&n).Error; err != nil {
		t.Fatalf("count images: %v", err)
	}
	if n != 0 {
		t.Errorf("%d image rows survived the delete", n)
	}

	events := rb.all()
	if len(events) == 0 || events[0].Kind != activity.KindDelete || events[0].Message.ID != root.ID {
		t.Errorf("events = %+v, want a delete for the root first", events)
	}
}

func TestMarkSeenSkipsUnmarkable(t *testing.T) {
	svc, _, gdb := testServices(t)
	author := createUser(t, gdb)
	reader := createUser(t, gdb)
	public, err := svc.Rooms.Create("seen-public", "", true, author.ID)
	if err != nil {
		t.Fatalf("create public room: %v", err)
	}
	private, err := svc.Rooms.Create("seen-private", "", false, author.ID)
	if err != nil {
		t.Fatalf("create private room: %v", err)
	}
	visible, err := svc.Messages.Create(public.ID, &author.ID, "hello", nil, false)
	if err != nil {
		t.Fatalf("create visible message: %v", err)
	}
	hidden, err := svc.Messages.Create(private.ID, &author.ID, "secret", nil, false)
	if err != nil {
		t.Fatalf("create hidden message: %v", err)
	}

	// Unknown and unentitled ids are skipped; the batch keeps going.
	marked, err := svc.Messages.MarkSeen(reader.ID, []uint{999999999, hidden.ID, visible.ID})
	if err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if len(marked) != 1 || marked[0] != visible.ID {
		t.Errorf("marked = %v, want [%d]", marked, visible.ID)
	}
}

func TestMembershipAnnounceSurvivesSnapshotFailure(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("degraded", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	ru := models.RoomUser{ID: 12345, RoomID: room.ID, UserID: &user.ID, IsActive: true}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// With the pool closed the presence lookup fails, so the announcement
	// falls back to an offline snapshot instead of going missing.
	sqlDB.Close()

	rb.reset()
	svc.Memberships.announceCreated(&ru)
	events := rb.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != activity.KindCreate || ev.Membership == nil || ev.Membership.ID != ru.ID {
		t.Fatalf("event = %+v, want membership create for %d", ev, ru.ID)
	}
	if ev.Membership.IsOnline || !ev.Membership.IsActive {
		t.Errorf("fallback snapshot = %+v, want offline and active", ev.Membership)
	}
}

func TestReactionRequiresParent(t *testing.T) {
	svc, _, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("strays", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Messages.Create(room.ID, &user.ID, "+1", nil, true); !errors.Is(err, ErrReactionNoParent) {
		t.Errorf("Create() error = %v, want ErrReactionNoParent", err)
	}
}

func TestSystemMessageHasNoUser(t *testing.T) {
	svc, rb, gdb := testServices(t)
	user := createUser(t, gdb)
	room, err := svc.Rooms.Create("system", "", false, user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	rb.reset()
	if _, err := svc.Messages.Create(room.ID, nil, "user joined", nil, false); err != nil {
		t.Fatalf("create system message: %v", err)
	}
	events := rb.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].Message.UserID != nil {
		t.Errorf("system message carries user id %d", *events[0].Message.UserID)
	}
}

func TestMarkSeenIsSilent(t *testing.T) {
	svc, rb, gdb := testServices(t)
	author := createUser(t, gdb)
	reader := createUser(t, gdb)
	room, err := svc.Rooms.Create("seen", "", true, author.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	msg, err := svc.Messages.Create(room.ID, &author.ID, "hello", nil, false)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	rb.reset()
	marked, err := svc.Messages.MarkSeen(reader.ID, []uint{msg.ID})
	if err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if len(marked) != 1 || marked[0] != msg.ID {
		t.Errorf("marked = %v, want [%d]", marked, msg.ID)
	}
	if got := rb.all(); len(got) != 0 {
		t.Errorf("MarkSeen broadcast %d events, want 0", len(got))
	}

	ev, err := svc.Messages.EventFor(msg.ID)
	if err != nil {
		t.Fatalf("EventFor() error = %v", err)
	}
	found := false
	for _, id := range ev.SeenBy {
		if id == reader.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("seen set %v is missing reader %d", ev.SeenBy, reader.ID)
	}
}

func TestPublicRoomMutedByDefault(t *testing.T) {
	svc, _, gdb := testServices(t)
	creator := createUser(t, gdb)
	joiner := createUser(t, gdb)
	room, err := svc.Rooms.Create("public", "", true, creator.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if _, err := svc.Memberships.GetOrCreate(room.ID, joiner.ID); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	muted, err := svc.Rooms.IsMuted(room.ID, joiner.ID)
	if err != nil {
		t.Fatalf("IsMuted() error = %v", err)
	}
	if !muted {
		t.Error("joining a public room did not mute it by default")
	}

	if err := svc.Rooms.Unmute(room.ID, joiner.ID); err != nil {
		t.Fatalf("Unmute() error = %v", err)
	}
	muted, err = svc.Rooms.IsMuted(room.ID, joiner.ID)
	if err != nil {
		t.Fatalf("IsMuted() error = %v", err)
	}
	if muted {
		t.Error("room still muted after unmute")
	}
}
