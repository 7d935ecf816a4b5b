package service

import "errors"

// Service-level sentinels; handlers map these to HTTP status codes. The
// websocket layer checks entitlement before the upgrade, so it never sees
// ErrNotEntitled on an open socket.
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotEntitled        = errors.New("not entitled to room")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotAuthor          = errors.New("not the message author")
	ErrReactionNoParent   = errors.New("reaction requires a parent message")
)
