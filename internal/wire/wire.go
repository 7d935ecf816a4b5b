// Package wire holds the client-facing payload shapes and the shaping
// helpers that turn a recipient-agnostic activity event into one
// recipient's view. Shaping is a pure function of (event, identity) and
// runs once per delivery, never earlier and never cached across
// recipients.
package wire

import (
	"strconv"

	"roomcast/internal/activity"
)

// Identity is the recipient a payload is being shaped for. A single-room
// session resolves authorship against its own membership id; an aggregator
// session against its user id.
type Identity struct {
	UserID       uint
	MembershipID uint
	ByMembership bool
}

type Image struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	RoomUserID string    `json:"roomUserId"`
	ParentID   *string   `json:"parentId"`
	Body       string    `json:"body"`
	IsMe       bool      `json:"isMe"`
	IsReaction bool      `json:"isReaction"`
	IsSeenByMe bool      `json:"isSeenByMe"`
	Images     []Image   `json:"images"`
	Reactions  []Message `json:"reactions"`
}

type Membership struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	IsMe     bool   `json:"isMe"`
	IsOnline bool   `json:"isOnline"`
	IsActive bool   `json:"isActive"`
}

// Envelope is what a session writes to its socket. One of the two arrays
// is always empty: membership and message events are never batched
// together.
type Envelope struct {
	Messages []Message    `json:"messages"`
	Users    []Membership `json:"users"`
}

func MessageEnvelope(m Message) Envelope {
	return Envelope{Messages: []Message{m}, Users: []Membership{}}
}

func MembershipEnvelope(m Membership) Envelope {
	return Envelope{Messages: []Message{}, Users: []Membership{m}}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ShapeMessage builds one recipient's view of a message event, including
// self-identification across the whole reaction tree.
func ShapeMessage(ev activity.MessageEvent, ident Identity) Message {
	var parentID *string
	if ev.ParentID != nil {
		p := itoa(*ev.ParentID)
		parentID = &p
	}
	images := make([]Image, 0, len(ev.Images))
	for _, img := range ev.Images {
		images = append(images, Image{ID: itoa(img.ID), URL: img.URL, Width: img.Width, Height: img.Height})
	}
	reactions := make([]Message, 0, len(ev.Reactions))
	for _, r := range ev.Reactions {
		reactions = append(reactions, ShapeMessage(r, ident))
	}
	seen := false
	for _, uid := range ev.SeenBy {
		if uid == ident.UserID {
			seen = true
			break
		}
	}
	return Message{
		ID:         itoa(ev.ID),
		RoomID:     itoa(ev.RoomID),
		RoomUserID: itoa(ev.RoomUserID),
		ParentID:   parentID,
		Body:       ev.Body,
		IsMe:       isAuthor(ev, ident),
		IsReaction: ev.IsReaction,
		IsSeenByMe: seen,
		Images:     images,
		Reactions:  reactions,
	}
}

func isAuthor(ev activity.MessageEvent, ident Identity) bool {
	if ident.ByMembership {
		return ev.RoomUserID == ident.MembershipID
	}
	return ev.UserID != nil && *ev.UserID == ident.UserID
}

// ShapeMembership builds one recipient's view of a membership event.
func ShapeMembership(ev activity.MembershipEvent, ident Identity) Membership {
	isMe := false
	if ident.ByMembership {
		isMe = ev.ID == ident.MembershipID
	} else {
		isMe = ev.UserID != nil && *ev.UserID == ident.UserID
	}
	return Membership{
		ID:       itoa(ev.ID),
		RoomID:   itoa(ev.RoomID),
		IsMe:     isMe,
		IsOnline: ev.IsOnline,
		IsActive: ev.IsActive,
	}
}

// Suppress reports whether a message event is noise a session must not
// push: reactions and empty placeholders reach clients only through their
// parent's re-announcement, never directly. Membership events are never
// suppressed.
func Suppress(ev activity.MessageEvent) bool {
	return ev.IsReaction || ev.IsEmpty()
}
