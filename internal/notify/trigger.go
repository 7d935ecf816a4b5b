// Package notify computes the recipient set for push notifications when a
// message is created. Delivery itself is pluggable; the default sink just
// logs, which is enough for development and for tests.
package notify

import (
	"roomcast/internal/activity"
	"roomcast/internal/metrics"
	"roomcast/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Notifier delivers a notification about a message to a set of users.
type Notifier interface {
	Notify(messageID uint, userIDs []uint)
}

// LogNotifier is the default Notifier: it records the decision and does
// nothing else.
type LogNotifier struct{}

func (LogNotifier) Notify(messageID uint, userIDs []uint) {
	log.Info().Uint("message_id", messageID).Uints("user_ids", userIDs).Msg("notify")
}

// Directory answers the membership, presence and mute questions the trigger
// needs to shape its recipient set.
type Directory interface {
	ActiveMemberUserIDs(roomID uint) ([]uint, error)
	OnlineUserIDs(userIDs []uint) (map[uint]bool, error)
	MutedUserIDs(roomID uint) (map[uint]bool, error)
}

// GormDirectory backs Directory with the database.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ActiveMemberUserIDs(roomID uint) ([]uint, error) {
	var ids []uint
	err := d.db.Model(&models.RoomUser{}).
		Where("room_id = ? AND is_active = ? AND user_id IS NOT NULL", roomID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (d *GormDirectory) OnlineUserIDs(userIDs []uint) (map[uint]bool, error) {
	online := make(map[uint]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	var ids []uint
	err := d.db.Model(&models.Presence{}).
		Where("user_id IN ? AND is_online = ?", userIDs, true).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		online[id] = true
	}
	return online, nil
}

func (d *GormDirectory) MutedUserIDs(roomID uint) (map[uint]bool, error) {
	var ids []uint
	err := d.db.Table("room_muted_by").Where("room_id = ?", roomID).Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	muted := make(map[uint]bool, len(ids))
	for _, id := range ids {
		muted[id] = true
	}
	return muted, nil
}

// Trigger decides who gets notified about a new message: active members of
// the room, minus the author, minus anyone currently online, minus anyone
// who muted the room. Reactions, empty placeholders and system messages
// never notify.
type Trigger struct {
	dir      Directory
	notifier Notifier
}

func NewTrigger(dir Directory, notifier Notifier) *Trigger {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Trigger{dir: dir, notifier: notifier}
}

// MessageCreated implements activity.MessageSink.
func (t *Trigger) MessageCreated(ev activity.MessageEvent) {
	if ev.IsReaction || ev.IsEmpty() || ev.UserID == nil {
		return
	}
	recipients, err := t.Recipients(ev)
	if err != nil {
		log.Error().Err(err).Uint("message_id", ev.ID).Msg("notification recipients")
		return
	}
	if len(recipients) == 0 {
		return
	}
	metrics.NotificationsTotal.Add(float64(len(recipients)))
	t.notifier.Notify(ev.ID, recipients)
}

// Recipients returns the notification target set for a message event.
func (t *Trigger) Recipients(ev activity.MessageEvent) ([]uint, error) {
	members, err := t.dir.ActiveMemberUserIDs(ev.RoomID)
	if err != nil {
		return nil, err
	}
	online, err := t.dir.OnlineUserIDs(members)
	if err != nil {
		return nil, err
	}
	muted, err := t.dir.MutedUserIDs(ev.RoomID)
	if err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(members))
	for _, id := range members {
		if ev.UserID != nil && id == *ev.UserID {
			continue
		}
		if online[id] || muted[id] {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
