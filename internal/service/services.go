package service

import (
	"strconv"
	"time"

	"roomcast/internal/activity"
	"roomcast/internal/config"
	"roomcast/internal/models"

	"gorm.io/gorm"
)

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Services bundles the stores and is the single collaborator the websocket
// and sweeper layers depend on (they consume it through their own small
// interfaces).
type Services struct {
	Users       *UserService
	Rooms       *RoomService
	Memberships *MembershipService
	Presence    *PresenceService
	Messages    *MessageService
}

func NewServices(db *gorm.DB, cfg config.Config, obs *activity.Observer) *Services {
	memberships := NewMembershipService(db, obs)
	rooms := NewRoomService(db)
	return &Services{
		Users:       NewUserService(db, cfg),
		Rooms:       rooms,
		Memberships: memberships,
		Presence:    NewPresenceService(db, memberships),
		Messages:    NewMessageService(db, obs, memberships, rooms),
	}
}

// The delegating methods below satisfy ws.Store and presence.Store.

func (s *Services) RoomVisibleTo(roomID, userID uint) (bool, error) {
	return s.Rooms.VisibleTo(roomID, userID)
}

func (s *Services) RoomIDsForUser(userID uint) ([]uint, error) {
	return s.Rooms.RoomIDsForUser(userID)
}

func (s *Services) EnsureMembership(roomID, userID uint) (*models.RoomUser, error) {
	return s.Memberships.GetOrCreate(roomID, userID)
}

func (s *Services) SetPresence(userID uint, online bool) (bool, error) {
	return s.Presence.SetOnline(userID, online)
}

func (s *Services) TouchPresence(userID uint) error {
	return s.Presence.Touch(userID)
}

func (s *Services) CreateMessage(roomID, userID uint, body string, parentID *uint, isReaction bool) (*models.Message, error) {
	return s.Messages.Create(roomID, &userID, body, parentID, isReaction)
}

func (s *Services) StaleOnlineUserIDs(cutoff time.Time) ([]uint, error) {
	return s.Presence.StaleOnlineUserIDs(cutoff)
}
