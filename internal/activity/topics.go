package activity

import "strconv"

// Two independent topics per room, so a client can watch presence and
// messages separately. The producer-side TopicsForEvent and the
// consumer-side TopicsForRoom share this one naming scheme.

func PresenceTopic(roomID uint) string {
	return "presence:" + strconv.FormatUint(uint64(roomID), 10)
}

func MessagesTopic(roomID uint) string {
	return "messages:" + strconv.FormatUint(uint64(roomID), 10)
}

// TopicsForEvent maps a mutated entity to its broadcast topic. The mapping
// is a pure function: one event yields exactly one topic per kind.
func TopicsForEvent(e Event) []string {
	switch {
	case e.Membership != nil:
		return []string{PresenceTopic(e.Membership.RoomID)}
	case e.Message != nil:
		return []string{MessagesTopic(e.Message.RoomID)}
	}
	return nil
}

// TopicsForRoom is the subscriber-side mirror: every topic a session
// watching roomID subscribes to.
func TopicsForRoom(roomID uint) []string {
	return []string{PresenceTopic(roomID), MessagesTopic(roomID)}
}
