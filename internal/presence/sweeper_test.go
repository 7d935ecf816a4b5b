package presence

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	stale   []uint
	flipped []uint
}

func (s *fakeStore) StaleOnlineUserIDs(cutoff time.Time) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stale
	s.stale = nil
	return out, nil
}

func (s *fakeStore) SetPresence(userID uint, online bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		return false, nil
	}
	s.flipped = append(s.flipped, userID)
	return true, nil
}

func (s *fakeStore) flippedIDs() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint, len(s.flipped))
	copy(out, s.flipped)
	return out
}

func TestSweepFlipsStaleUsersOffline(t *testing.T) {
	store := &fakeStore{stale: []uint{3, 7}}
	NewSweeper(store, time.Minute, time.Minute).Sweep()

	if got := store.flippedIDs(); !reflect.DeepEqual(got, []uint{3, 7}) {
		t.Errorf("flipped %v, want [3 7]", got)
	}
}

func TestSweepWithNothingStale(t *testing.T) {
	store := &fakeStore{}
	NewSweeper(store, time.Minute, time.Minute).Sweep()

	if got := store.flippedIDs(); len(got) != 0 {
		t.Errorf("flipped %v, want none", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{stale: []uint{1}}
	s := NewSweeper(store, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.flippedIDs()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(store.flippedIDs()) == 0 {
		t.Fatal("sweeper never swept")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
