package service

import (
	"errors"

	"roomcast/internal/models"

	"gorm.io/gorm"
)

// RoomService owns rooms, their member/admin/muted sets, and the
// entitlement rule the websocket layer enforces before accepting a
// connection.
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// RoomDTO is the REST view of a room, with the per-user unread counters
// the sidebar needs.
type RoomDTO struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	IsPublic          bool   `json:"isPublic"`
	CreatorID         string `json:"creatorId"`
	IsMuted           bool   `json:"isMuted"`
	MessageTotalCount int64  `json:"messageTotalCount"`
	MessageNewCount   int64  `json:"messageNewCount"`
}

// Create makes a room; the creator is implicitly a member and admin.
func (s *RoomService) Create(title, description string, isPublic bool, creatorID uint) (*models.Room, error) {
	room := models.Room{Title: title, Description: description, IsPublic: isPublic, CreatorID: creatorID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		creator := models.User{ID: creatorID}
		if err := tx.Model(&room).Association("Members").Append(&creator); err != nil {
			return err
		}
		return tx.Model(&room).Association("Admins").Append(&creator)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// VisibleTo is the entitlement check: public room, member, admin, or
// creator.
func (s *RoomService) VisibleTo(roomID, userID uint) (bool, error) {
	var room models.Room
	if err := s.db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrRoomNotFound
		}
		return false, err
	}
	if room.IsPublic || room.CreatorID == userID {
		return true, nil
	}
	var count int64
	err := s.db.Table("room_members").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	err = s.db.Table("room_admins").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns a room the user is entitled to see.
func (s *RoomService) Get(roomID, userID uint) (*models.Room, error) {
	ok, err := s.VisibleTo(roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotEntitled
	}
	var room models.Room
	if err := s.db.First(&room, roomID).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomIDsForUser lists the rooms the user belongs to (member, admin, or
// creator); this is the set an aggregator session subscribes to. Public
// rooms the user never joined are not included.
func (s *RoomService) RoomIDsForUser(userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.Room{}).
		Distinct("rooms.id").
		Joins("LEFT JOIN room_members ON room_members.room_id = rooms.id AND room_members.user_id = ?", userID).
		Joins("LEFT JOIN room_admins ON room_admins.room_id = rooms.id AND room_admins.user_id = ?", userID).
		Where("rooms.creator_id = ? OR room_members.user_id IS NOT NULL OR room_admins.user_id IS NOT NULL", userID).
		Order("rooms.id").
		Pluck("rooms.id", &ids).Error
	return ids, err
}

// ListForUser returns every room visible to the user with unread counters
// and the user's mute flag.
func (s *RoomService) ListForUser(userID uint) ([]RoomDTO, error) {
	var rooms []models.Room
	err := s.db.Model(&models.Room{}).
		Distinct("rooms.*").
		Joins("LEFT JOIN room_members ON room_members.room_id = rooms.id AND room_members.user_id = ?", userID).
		Joins("LEFT JOIN room_admins ON room_admins.room_id = rooms.id AND room_admins.user_id = ?", userID).
		Where("rooms.is_public = ? OR rooms.creator_id = ? OR room_members.user_id IS NOT NULL OR room_admins.user_id IS NOT NULL", true, userID).
		Order("rooms.updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	out := make([]RoomDTO, 0, len(rooms))
	for _, room := range rooms {
		dto, err := s.dtoFor(&room, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

func (s *RoomService) dtoFor(room *models.Room, userID uint) (RoomDTO, error) {
	var total, read int64
	err := s.db.Model(&models.Message{}).
		Joins("JOIN room_users ON room_users.id = messages.room_user_id").
		Where("room_users.room_id = ?", room.ID).
		Count(&total).Error
	if err != nil {
		return RoomDTO{}, err
	}
	err = s.db.Model(&models.Message{}).
		Joins("JOIN room_users ON room_users.id = messages.room_user_id").
		Joins("JOIN message_seen_by ON message_seen_by.message_id = messages.id AND message_seen_by.user_id = ?", userID).
		Where("room_users.room_id = ?", room.ID).
		Count(&read).Error
	if err != nil {
		return RoomDTO{}, err
	}
	muted, err := s.IsMuted(room.ID, userID)
	if err != nil {
		return RoomDTO{}, err
	}
	return RoomDTO{
		ID:                itoa(room.ID),
		Title:             room.Title,
		Description:       room.Description,
		IsPublic:          room.IsPublic,
		CreatorID:         itoa(room.CreatorID),
		IsMuted:           muted,
		MessageTotalCount: total,
		MessageNewCount:   total - read,
	}, nil
}

// Mute and Unmute edit the room's muted set directly. The set is shared
// with the public-room default mute; there is no precedence between the
// two, last write wins.
func (s *RoomService) Mute(roomID, userID uint) error {
	room := models.Room{ID: roomID}
	return s.db.Model(&room).Association("MutedBy").Append(&models.User{ID: userID})
}

func (s *RoomService) Unmute(roomID, userID uint) error {
	room := models.Room{ID: roomID}
	return s.db.Model(&room).Association("MutedBy").Delete(&models.User{ID: userID})
}

func (s *RoomService) IsMuted(roomID, userID uint) (bool, error) {
	var count int64
	err := s.db.Table("room_muted_by").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}
