// Package presence hosts the background sweep that flips users offline when
// their connections stop heartbeating, covering crashed clients whose
// sockets never closed cleanly.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the slice of the service layer the sweeper consumes.
type Store interface {
	StaleOnlineUserIDs(cutoff time.Time) ([]uint, error)
	SetPresence(userID uint, online bool) (bool, error)
}

// Sweeper periodically marks stale online users offline. Flipping through
// SetPresence keeps the side effects: every room the user is a member of
// gets its membership update announced.
type Sweeper struct {
	store      Store
	interval   time.Duration
	staleAfter time.Duration
}

func NewSweeper(store Store, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval, staleAfter: staleAfter}
}

// Run blocks until ctx is done, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.staleAfter)
	ids, err := s.store.StaleOnlineUserIDs(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("presence sweep query")
		return
	}
	for _, id := range ids {
		if _, err := s.store.SetPresence(id, false); err != nil {
			log.Error().Err(err).Uint("user_id", id).Msg("presence sweep flip")
			continue
		}
		log.Info().Uint("user_id", id).Msg("presence swept offline")
	}
}
