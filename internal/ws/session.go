// Package ws hosts connection sessions: the per-socket glue between the
// broadcast bus and one websocket client. A session subscribes to the
// topics of the rooms it watches, shapes each incoming activity event for
// its own recipient, and pushes envelopes down the socket.
package ws

import (
	"encoding/json"
	"sync"

	"roomcast/internal/activity"
	"roomcast/internal/bus"
	"roomcast/internal/metrics"
	"roomcast/internal/models"
	"roomcast/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Store is the slice of the service layer a session consumes.
type Store interface {
	RoomVisibleTo(roomID, userID uint) (bool, error)
	RoomIDsForUser(userID uint) ([]uint, error)
	EnsureMembership(roomID, userID uint) (*models.RoomUser, error)
	SetPresence(userID uint, online bool) (bool, error)
	TouchPresence(userID uint) error
	CreateMessage(roomID, userID uint, body string, parentID *uint, isReaction bool) (*models.Message, error)
}

// Mode selects how a session resolves authorship. A room session knows its
// own membership id and compares against that; an aggregate session spans
// rooms and compares user ids instead.
type Mode int

const (
	ModeRoom Mode = iota
	ModeAggregate
)

// Session is one live websocket connection. Bus handlers run on bus
// goroutines and only ever enqueue; the write pump is the sole writer on
// the socket.
type Session struct {
	id           string
	userID       uint
	mode         Mode
	roomID       uint // ModeRoom only
	membershipID uint // ModeRoom only

	store Store
	bus   bus.Bus
	conn  *websocket.Conn

	send      chan []byte
	done      chan struct{}
	topics    []string
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, store Store, b bus.Bus, userID uint, mode Mode) *Session {
	s := &Session{
		id:     uuid.NewString(),
		userID: userID,
		mode:   mode,
		store:  store,
		bus:    b,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	metrics.WsSessions.Inc()
	return s
}

// OpenRoomSession wires a session to a single room: flip the user online,
// ensure an active membership, then start listening. The caller has already
// checked entitlement. The session's own membership snapshot is pushed
// directly, so the client always receives exactly one membership
// announcement on connect regardless of subscription timing.
func OpenRoomSession(conn *websocket.Conn, store Store, b bus.Bus, userID, roomID uint) (*Session, error) {
	s := newSession(conn, store, b, userID, ModeRoom)
	s.roomID = roomID

	if _, err := store.SetPresence(userID, true); err != nil {
		s.Close()
		return nil, err
	}
	ru, err := store.EnsureMembership(roomID, userID)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.membershipID = ru.ID

	if err := s.subscribeRoom(roomID); err != nil {
		s.Close()
		return nil, err
	}
	s.announceSelf(ru)
	return s, nil
}

// OpenAggregateSession wires a session to every room the user belongs to.
func OpenAggregateSession(conn *websocket.Conn, store Store, b bus.Bus, userID uint) (*Session, error) {
	s := newSession(conn, store, b, userID, ModeAggregate)

	roomIDs, err := store.RoomIDsForUser(userID)
	if err != nil {
		s.Close()
		return nil, err
	}
	if _, err := store.SetPresence(userID, true); err != nil {
		s.Close()
		return nil, err
	}
	for _, rid := range roomIDs {
		ru, err := store.EnsureMembership(rid, userID)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := s.subscribeRoom(rid); err != nil {
			s.Close()
			return nil, err
		}
		s.announceSelf(ru)
	}
	return s, nil
}

func (s *Session) subscribeRoom(roomID uint) error {
	for _, topic := range activity.TopicsForRoom(roomID) {
		if err := s.bus.Subscribe(topic, s.id, s.deliver); err != nil {
			return err
		}
		s.topics = append(s.topics, topic)
	}
	return nil
}

// announceSelf pushes the session's own membership snapshot. The presence
// flip preceded the membership lookup, so the row is online by definition.
func (s *Session) announceSelf(ru *models.RoomUser) {
	ev := activity.MembershipEvent{
		ID:       ru.ID,
		RoomID:   ru.RoomID,
		UserID:   ru.UserID,
		IsOnline: true,
		IsActive: ru.IsActive,
	}
	s.enqueue(wire.MembershipEnvelope(wire.ShapeMembership(ev, s.identity())))
}

func (s *Session) identity() wire.Identity {
	if s.mode == ModeRoom {
		return wire.Identity{UserID: s.userID, MembershipID: s.membershipID, ByMembership: true}
	}
	return wire.Identity{UserID: s.userID}
}

// deliver is the bus handler shared by all of the session's subscriptions.
func (s *Session) deliver(topic string, payload []byte) {
	var ev activity.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("decode bus payload")
		return
	}
	switch {
	case ev.Membership != nil:
		m := *ev.Membership
		shaped := wire.ShapeMembership(m, s.identity())
		if s.mode == ModeAggregate && shaped.IsMe && !m.IsActive {
			// Own membership went inactive underneath a live session;
			// recreate it so the stream keeps flowing.
			go s.heal(m.RoomID)
		}
		s.enqueue(wire.MembershipEnvelope(shaped))
	case ev.Message != nil:
		if wire.Suppress(*ev.Message) {
			metrics.SendsSuppressedTotal.Inc()
			return
		}
		s.enqueue(wire.MessageEnvelope(wire.ShapeMessage(*ev.Message, s.identity())))
	}
}

func (s *Session) heal(roomID uint) {
	if _, err := s.store.EnsureMembership(roomID, s.userID); err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", s.userID).Msg("recreate membership")
	}
}

func (s *Session) enqueue(env wire.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("marshal envelope")
		return
	}
	select {
	case s.send <- b:
	case <-s.done:
	default:
		// Client stopped draining; drop it rather than block the bus.
		metrics.BusDroppedTotal.Inc()
		go s.Close()
	}
}

// Close tears the session down exactly once: unsubscribe everywhere, flip
// the user offline (announcing the change to every room they are active
// in), and stop the write pump.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, topic := range s.topics {
			if err := s.bus.Unsubscribe(topic, s.id); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("unsubscribe")
			}
		}
		if _, err := s.store.SetPresence(s.userID, false); err != nil {
			log.Error().Err(err).Uint("user_id", s.userID).Msg("presence offline")
		}
		close(s.done)
		metrics.WsSessions.Dec()
	})
}
