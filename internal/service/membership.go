package service

import (
	"errors"

	"roomcast/internal/activity"
	"roomcast/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MembershipService owns RoomUser rows. The partial unique index created in
// db.Migrate keeps create-or-get atomic: under a race the loser's insert
// collides and it re-reads the winner's row instead of erroring.
type MembershipService struct {
	db  *gorm.DB
	obs *activity.Observer
}

func NewMembershipService(db *gorm.DB, obs *activity.Observer) *MembershipService {
	return &MembershipService{db: db, obs: obs}
}

// GetOrCreate returns the active membership for (room, user), creating one
// if none exists. A fresh membership also enrolls the user in the room's
// member set and, for public rooms, in its muted set (public rooms are
// muted by default). Deactivated rows are never reused; reconnecting after
// deactivation yields a brand new row.
func (s *MembershipService) GetOrCreate(roomID, userID uint) (*models.RoomUser, error) {
	var ru models.RoomUser
	err := s.db.Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).First(&ru).Error
	if err == nil {
		return &ru, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ru = models.RoomUser{RoomID: roomID, UserID: &userID, IsActive: true}
	if err := s.db.Create(&ru).Error; err != nil {
		// Lost the first-connection race; the winner's row is ours now.
		if err2 := s.db.Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).First(&ru).Error; err2 != nil {
			return nil, err
		}
		return &ru, nil
	}

	if err := s.enroll(roomID, userID); err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", userID).Msg("enroll member")
	}

	s.announceCreated(&ru)
	return &ru, nil
}

// announceCreated publishes the create event for a freshly inserted row. The
// row already exists, so a failed presence lookup degrades to an offline
// snapshot rather than failing the caller's connect.
func (s *MembershipService) announceCreated(ru *models.RoomUser) {
	ev, err := s.EventFor(ru)
	if err != nil {
		log.Error().Err(err).Uint("room_user_id", ru.ID).Msg("membership snapshot")
		ev = activity.MembershipEvent{ID: ru.ID, RoomID: ru.RoomID, UserID: ru.UserID, IsActive: ru.IsActive}
	}
	s.obs.MembershipChanged(activity.KindCreate, ev)
}

func (s *MembershipService) enroll(roomID, userID uint) error {
	var room models.Room
	if err := s.db.First(&room, roomID).Error; err != nil {
		return err
	}
	user := models.User{ID: userID}
	if err := s.db.Model(&room).Association("Members").Append(&user); err != nil {
		return err
	}
	if room.IsPublic {
		return s.db.Model(&room).Association("MutedBy").Append(&user)
	}
	return nil
}

// GetOrCreateSystem returns the room's active system membership (no user),
// creating it on first use. System memberships carry system messages.
func (s *MembershipService) GetOrCreateSystem(roomID uint) (*models.RoomUser, error) {
	var ru models.RoomUser
	err := s.db.Where("room_id = ? AND user_id IS NULL AND is_active = ?", roomID, true).First(&ru).Error
	if err == nil {
		return &ru, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ru = models.RoomUser{RoomID: roomID, IsActive: true}
	if err := s.db.Create(&ru).Error; err != nil {
		return nil, err
	}
	return &ru, nil
}

// Deactivate turns a membership inactive and announces the change. The row
// is kept; an aggregator session observing its own deactivation recreates
// a fresh active membership.
func (s *MembershipService) Deactivate(id uint) error {
	var ru models.RoomUser
	if err := s.db.First(&ru, id).Error; err != nil {
		return err
	}
	if !ru.IsActive {
		return nil
	}
	if err := s.db.Model(&ru).Update("is_active", false).Error; err != nil {
		return err
	}
	ru.IsActive = false
	ev, err := s.EventFor(&ru)
	if err != nil {
		return err
	}
	s.obs.MembershipChanged(activity.KindUpdate, ev)
	return nil
}

// Get loads one membership row.
func (s *MembershipService) Get(id uint) (*models.RoomUser, error) {
	var ru models.RoomUser
	if err := s.db.First(&ru, id).Error; err != nil {
		return nil, err
	}
	return &ru, nil
}

// ListByRoom returns membership snapshots for every row of a room.
func (s *MembershipService) ListByRoom(roomID uint) ([]activity.MembershipEvent, error) {
	var rows []models.RoomUser
	if err := s.db.Where("room_id = ?", roomID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]activity.MembershipEvent, 0, len(rows))
	for i := range rows {
		ev, err := s.EventFor(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// AnnouncePresence emits one membership update per active membership of a
// user whose global presence flag just flipped. Called by the presence
// store so subscribers of each room's presence topic see the transition.
func (s *MembershipService) AnnouncePresence(userID uint, online bool) {
	var rows []models.RoomUser
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&rows).Error; err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("announce presence")
		return
	}
	for i := range rows {
		ev := activity.MembershipEvent{
			ID:       rows[i].ID,
			RoomID:   rows[i].RoomID,
			UserID:   rows[i].UserID,
			IsOnline: online,
			IsActive: rows[i].IsActive,
		}
		s.obs.MembershipChanged(activity.KindUpdate, ev)
	}
}

// EventFor snapshots a membership row, deriving isOnline from the user's
// presence record. System memberships are never online.
func (s *MembershipService) EventFor(ru *models.RoomUser) (activity.MembershipEvent, error) {
	online := false
	if ru.UserID != nil {
		var p models.Presence
		err := s.db.Where("user_id = ?", *ru.UserID).First(&p).Error
		if err == nil {
			online = p.IsOnline
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return activity.MembershipEvent{}, err
		}
	}
	return activity.MembershipEvent{
		ID:       ru.ID,
		RoomID:   ru.RoomID,
		UserID:   ru.UserID,
		IsOnline: online,
		IsActive: ru.IsActive,
	}, nil
}
