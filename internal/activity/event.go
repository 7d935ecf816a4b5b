package activity

// Kind is the mutation kind carried by an activity event.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is the normalized form of one store mutation, as published on the
// broadcast bus. Exactly one of Membership or Message is set. The payload
// is recipient-agnostic: per-recipient fields (is-me, is-seen-by-me) are
// resolved by each session at send time.
type Event struct {
	Kind       Kind             `json:"kind"`
	Membership *MembershipEvent `json:"membership,omitempty"`
	Message    *MessageEvent    `json:"message,omitempty"`
}

// RoomID returns the room the event originated in.
func (e Event) RoomID() uint {
	switch {
	case e.Membership != nil:
		return e.Membership.RoomID
	case e.Message != nil:
		return e.Message.RoomID
	}
	return 0
}

// MembershipEvent is the snapshot of a RoomUser row. UserID is nil for
// system memberships and is stripped before the payload reaches a socket.
type MembershipEvent struct {
	ID       uint  `json:"id"`
	RoomID   uint  `json:"room_id"`
	UserID   *uint `json:"user_id,omitempty"`
	IsOnline bool  `json:"is_online"`
	IsActive bool  `json:"is_active"`
}

type ImageEvent struct {
	ID     uint   `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MessageEvent is the snapshot of a message and its reaction tree. SeenBy
// and UserID are routing metadata consumed during shaping, not wire fields.
type MessageEvent struct {
	ID         uint           `json:"id"`
	RoomID     uint           `json:"room_id"`
	RoomUserID uint           `json:"room_user_id"`
	UserID     *uint          `json:"user_id,omitempty"`
	ParentID   *uint          `json:"parent_id,omitempty"`
	Body       string         `json:"body"`
	IsReaction bool           `json:"is_reaction"`
	SeenBy     []uint         `json:"seen_by,omitempty"`
	Images     []ImageEvent   `json:"images,omitempty"`
	Reactions  []MessageEvent `json:"reactions,omitempty"`
}

// IsEmpty reports whether the message carries no visible content.
func (m MessageEvent) IsEmpty() bool {
	return m.Body == "" && len(m.Images) == 0
}
