package service

import (
	"errors"

	"roomcast/internal/activity"
	"roomcast/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// reactionDepth bounds how deep the reaction tree is serialized, matching
// the three-level prefetch of the REST reads.
const reactionDepth = 3

// MessageService owns the message tree. Every mutation is reported to the
// observer synchronously, before the call returns to the writer; delivery
// itself is asynchronous on the bus.
type MessageService struct {
	db          *gorm.DB
	obs         *activity.Observer
	memberships *MembershipService
	rooms       *RoomService
}

func NewMessageService(db *gorm.DB, obs *activity.Observer, memberships *MembershipService, rooms *RoomService) *MessageService {
	return &MessageService{db: db, obs: obs, memberships: memberships, rooms: rooms}
}

// Create persists a message authored by the user's membership in the room.
// userID nil makes it a system message. Reactions must reference a parent
// and also re-announce that parent, since the parent's reaction list is
// the only place subscribers ever see them. Empty bodies are allowed:
// image-only flows create a placeholder first.
func (s *MessageService) Create(roomID uint, userID *uint, body string, parentID *uint, isReaction bool) (*models.Message, error) {
	if isReaction && parentID == nil {
		return nil, ErrReactionNoParent
	}

	var ru *models.RoomUser
	var err error
	if userID != nil {
		ru, err = s.memberships.GetOrCreate(roomID, *userID)
	} else {
		ru, err = s.memberships.GetOrCreateSystem(roomID)
	}
	if err != nil {
		return nil, err
	}

	if parentID != nil {
		var parent models.Message
		if err := s.db.Joins("RoomUser").Where("messages.id = ?", *parentID).First(&parent).Error; err != nil {
			return nil, ErrMessageNotFound
		}
		if parent.RoomUser.RoomID != roomID {
			return nil, ErrMessageNotFound
		}
	}

	msg := models.Message{RoomUserID: ru.ID, ParentID: parentID, Body: body, IsReaction: isReaction}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}

	ev, err := s.EventFor(msg.ID)
	if err != nil {
		return nil, err
	}
	parentEv, err := s.parentEventIfReaction(&msg)
	if err != nil {
		return nil, err
	}
	s.obs.MessageChanged(activity.KindCreate, ev, parentEv)
	return &msg, nil
}

// UpdateBody edits a message's body; only the author may edit.
func (s *MessageService) UpdateBody(messageID, userID uint, body string) (*models.Message, error) {
	msg, err := s.authored(messageID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(msg).Update("body", body).Error; err != nil {
		return nil, err
	}
	msg.Body = body

	ev, err := s.EventFor(msg.ID)
	if err != nil {
		return nil, err
	}
	parentEv, err := s.parentEventIfReaction(msg)
	if err != nil {
		return nil, err
	}
	s.obs.MessageChanged(activity.KindUpdate, ev, parentEv)
	return msg, nil
}

// Delete removes a message; only the author may delete. The event is built
// from the row as it stood before deletion. Deleting a reaction
// re-announces its parent, whose observable reaction list just shrank.
func (s *MessageService) Delete(messageID, userID uint) error {
	msg, err := s.authored(messageID, userID)
	if err != nil {
		return err
	}
	ev, err := s.EventFor(msg.ID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return deleteTree(tx, msg.ID)
	})
	if err != nil {
		return err
	}

	parentEv, err := s.parentEventIfReaction(msg)
	if err != nil {
		return err
	}
	s.obs.MessageChanged(activity.KindDelete, ev, parentEv)
	return nil
}

// deleteTree removes a message and everything hanging off it, bottom-up so
// no image or child row ever outlives its message within the transaction.
func deleteTree(tx *gorm.DB, id uint) error {
	var childIDs []uint
	if err := tx.Model(&models.Message{}).Where("parent_id = ?", id).Pluck("id", &childIDs).Error; err != nil {
		return err
	}
	for _, cid := range childIDs {
		if err := deleteTree(tx, cid); err != nil {
			return err
		}
	}
	if err := tx.Where("message_id = ?", id).Delete(&models.MessageImage{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Message{}, id).Error
}

// MarkSeen adds the user to the seen set of every listed message the user
// is entitled to, returning the ids that were actually marked. The batch is
// best-effort: an id that cannot be marked is skipped, not fatal. Seen
// bookkeeping is not broadcast; unread counts refresh over REST.
func (s *MessageService) MarkSeen(userID uint, messageIDs []uint) ([]uint, error) {
	marked := make([]uint, 0, len(messageIDs))
	for _, id := range messageIDs {
		var msg models.Message
		if err := s.db.Joins("RoomUser").Where("messages.id = ?", id).First(&msg).Error; err != nil {
			continue
		}
		ok, err := s.rooms.VisibleTo(msg.RoomUser.RoomID, userID)
		if err != nil || !ok {
			continue
		}
		if err := s.db.Model(&msg).Association("SeenBy").Append(&models.User{ID: userID}); err != nil {
			log.Warn().Err(err).Uint("message_id", id).Uint("user_id", userID).Msg("mark seen")
			continue
		}
		marked = append(marked, id)
	}
	return marked, nil
}

// AttachImage records image metadata on a message and re-announces the
// message: an empty placeholder becomes visible once it has an attachment.
func (s *MessageService) AttachImage(messageID, userID uint, url string, width, height int) (*models.MessageImage, error) {
	msg, err := s.authored(messageID, userID)
	if err != nil {
		return nil, err
	}
	img := models.MessageImage{MessageID: msg.ID, URL: url, Width: width, Height: height}
	if err := s.db.Create(&img).Error; err != nil {
		return nil, err
	}
	ev, err := s.EventFor(msg.ID)
	if err != nil {
		return nil, err
	}
	s.obs.MessageChanged(activity.KindUpdate, ev, nil)
	return &img, nil
}

// ListByRoom returns root messages (reactions ride along nested), newest
// first, keyset-paginated on id.
func (s *MessageService) ListByRoom(roomID uint, limit int, beforeID uint) ([]activity.MessageEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Model(&models.Message{}).
		Joins("JOIN room_users ON room_users.id = messages.room_user_id").
		Where("room_users.room_id = ? AND messages.is_reaction = ?", roomID, false)
	if beforeID > 0 {
		q = q.Where("messages.id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("messages.id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]activity.MessageEvent, 0, len(msgs))
	for i := range msgs {
		ev, err := s.EventFor(msgs[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// EventFor builds the recipient-agnostic snapshot of a message, reaction
// tree included.
func (s *MessageService) EventFor(messageID uint) (activity.MessageEvent, error) {
	return s.eventFor(messageID, reactionDepth)
}

func (s *MessageService) eventFor(messageID uint, depth int) (activity.MessageEvent, error) {
	var msg models.Message
	if err := s.db.Joins("RoomUser").Preload("Images").Where("messages.id = ?", messageID).First(&msg).Error; err != nil {
		return activity.MessageEvent{}, err
	}

	var seenBy []uint
	if err := s.db.Table("message_seen_by").Where("message_id = ?", msg.ID).Pluck("user_id", &seenBy).Error; err != nil {
		return activity.MessageEvent{}, err
	}

	images := make([]activity.ImageEvent, 0, len(msg.Images))
	for _, img := range msg.Images {
		images = append(images, activity.ImageEvent{ID: img.ID, URL: img.URL, Width: img.Width, Height: img.Height})
	}

	var reactions []activity.MessageEvent
	if depth > 0 {
		var children []models.Message
		if err := s.db.Where("parent_id = ? AND is_reaction = ?", msg.ID, true).Order("id").Find(&children).Error; err != nil {
			return activity.MessageEvent{}, err
		}
		for i := range children {
			child, err := s.eventFor(children[i].ID, depth-1)
			if err != nil {
				return activity.MessageEvent{}, err
			}
			reactions = append(reactions, child)
		}
	}

	return activity.MessageEvent{
		ID:         msg.ID,
		RoomID:     msg.RoomUser.RoomID,
		RoomUserID: msg.RoomUserID,
		UserID:     msg.RoomUser.UserID,
		ParentID:   msg.ParentID,
		Body:       msg.Body,
		IsReaction: msg.IsReaction,
		SeenBy:     seenBy,
		Images:     images,
		Reactions:  reactions,
	}, nil
}

// parentEventIfReaction snapshots the parent of a reaction, nil otherwise.
func (s *MessageService) parentEventIfReaction(msg *models.Message) (*activity.MessageEvent, error) {
	if !msg.IsReaction || msg.ParentID == nil {
		return nil, nil
	}
	ev, err := s.EventFor(*msg.ParentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func (s *MessageService) authored(messageID, userID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Joins("RoomUser").Where("messages.id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if msg.RoomUser.UserID == nil || *msg.RoomUser.UserID != userID {
		return nil, ErrNotAuthor
	}
	return &msg, nil
}
