package service

import (
	"errors"
	"time"

	"roomcast/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceService owns the one global online flag per user. Rows are
// created lazily on first connect; flips are compare-and-set updates so
// concurrent sessions of one user cannot double-announce a transition.
type PresenceService struct {
	db          *gorm.DB
	memberships *MembershipService
}

func NewPresenceService(db *gorm.DB, memberships *MembershipService) *PresenceService {
	return &PresenceService{db: db, memberships: memberships}
}

// SetOnline flips the user's presence and reports whether the stored value
// actually changed. A real transition is announced as one membership
// update event per active membership of the user, since membership
// isOnline derives from this flag.
func (s *PresenceService) SetOnline(userID uint, online bool) (bool, error) {
	now := time.Now()
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.Presence{UserID: userID, IsOnline: false, LastSeenAt: now}).Error
	if err != nil {
		return false, err
	}

	res := s.db.Model(&models.Presence{}).
		Where("user_id = ? AND is_online = ?", userID, !online).
		Updates(map[string]interface{}{"is_online": online, "last_seen_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	changed := res.RowsAffected > 0
	if changed {
		s.memberships.AnnouncePresence(userID, online)
	}
	return changed, nil
}

// Touch refreshes the liveness heartbeat without changing the flag.
func (s *PresenceService) Touch(userID uint) error {
	return s.db.Model(&models.Presence{}).
		Where("user_id = ?", userID).
		Update("last_seen_at", time.Now()).Error
}

// StaleOnlineUserIDs lists users still flagged online whose heartbeat
// predates cutoff; the sweeper force-flips them offline.
func (s *PresenceService) StaleOnlineUserIDs(cutoff time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.Presence{}).
		Where("is_online = ? AND last_seen_at < ?", true, cutoff).
		Pluck("user_id", &ids).Error
	return ids, err
}

// IsOnline reads the flag; missing rows read as offline.
func (s *PresenceService) IsOnline(userID uint) (bool, error) {
	var p models.Presence
	if err := s.db.Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.IsOnline, nil
}
