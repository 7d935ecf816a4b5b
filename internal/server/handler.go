package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomcast/internal/auth"
	"roomcast/internal/service"
	"roomcast/internal/wire"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler aggregates the HTTP handlers over the service layer.
type Handler struct {
	svc *service.Services
}

func NewHandler(svc *service.Services) *Handler {
	return &Handler{svc: svc}
}

// identity resolves the REST recipient. REST reads always resolve
// authorship by user id; only room websocket sessions use membership ids.
func identity(c *gin.Context) wire.Identity {
	return wire.Identity{UserID: auth.GetUserID(c)}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return uint(v), true
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.svc.Users.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		IsPublic    bool   `json:"isPublic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
		return
	}
	userID := auth.GetUserID(c)
	room, err := h.svc.Rooms.Create(req.Title, req.Description, req.IsPublic, userID)
	if err != nil {
		log.Error().Err(err).Uint("creator_id", userID).Str("title", req.Title).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	// System greeting, authored by the room's system membership.
	if _, err := h.svc.Messages.Create(room.ID, nil, "room created", nil, false); err != nil {
		log.Error().Err(err).Uint("room_id", room.ID).Msg("system greeting")
	}
	c.JSON(http.StatusOK, gin.H{"id": strconv.FormatUint(uint64(room.ID), 10), "title": room.Title})
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.svc.Rooms.ListForUser(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	room, err := h.svc.Rooms.Get(roomID, auth.GetUserID(c))
	if err != nil {
		h.roomError(c, err, roomID)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          strconv.FormatUint(uint64(room.ID), 10),
		"title":       room.Title,
		"description": room.Description,
		"isPublic":    room.IsPublic,
	})
}

func (h *Handler) MuteRoom(c *gin.Context) {
	h.setMute(c, true)
}

func (h *Handler) UnmuteRoom(c *gin.Context) {
	h.setMute(c, false)
}

func (h *Handler) setMute(c *gin.Context, mute bool) {
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	visible, err := h.svc.Rooms.VisibleTo(roomID, userID)
	if err != nil || !visible {
		h.roomError(c, err, roomID)
		return
	}
	if mute {
		err = h.svc.Rooms.Mute(roomID, userID)
	} else {
		err = h.svc.Rooms.Unmute(roomID, userID)
	}
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", userID).Msg("set mute")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update mute"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"isMuted": mute})
}

// ListRoomUsers returns the room's membership snapshots shaped for the
// caller, same fields the websocket pushes.
func (h *Handler) ListRoomUsers(c *gin.Context) {
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	visible, err := h.svc.Rooms.VisibleTo(roomID, userID)
	if err != nil || !visible {
		h.roomError(c, err, roomID)
		return
	}
	events, err := h.svc.Memberships.ListByRoom(roomID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("list room users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list room users"})
		return
	}
	ident := identity(c)
	out := make([]wire.Membership, 0, len(events))
	for _, ev := range events {
		out = append(out, wire.ShapeMembership(ev, ident))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	visible, err := h.svc.Rooms.VisibleTo(roomID, userID)
	if err != nil || !visible {
		h.roomError(c, err, roomID)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	events, err := h.svc.Messages.ListByRoom(roomID, limit, beforeID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	ident := identity(c)
	out := make([]wire.Message, 0, len(events))
	for _, ev := range events {
		out = append(out, wire.ShapeMessage(ev, ident))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (h *Handler) CreateMessage(c *gin.Context) {
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Body       string  `json:"body"`
		ParentID   *string `json:"parentId"`
		IsReaction bool    `json:"isReaction"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	visible, err := h.svc.Rooms.VisibleTo(roomID, userID)
	if err != nil || !visible {
		h.roomError(c, err, roomID)
		return
	}
	var parentID *uint
	if req.ParentID != nil {
		v, err := strconv.ParseUint(*req.ParentID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parentId"})
			return
		}
		p := uint(v)
		parentID = &p
	}
	msg, err := h.svc.Messages.Create(roomID, &userID, req.Body, parentID, req.IsReaction)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReactionNoParent), errors.Is(err, service.ErrMessageNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", userID).Msg("create message")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		}
		return
	}
	ev, err := h.svc.Messages.EventFor(msg.ID)
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("snapshot message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		return
	}
	c.JSON(http.StatusOK, wire.ShapeMessage(ev, identity(c)))
}

func (h *Handler) UpdateMessage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.svc.Messages.UpdateBody(messageID, auth.GetUserID(c), req.Body)
	if err != nil {
		h.messageError(c, err, messageID)
		return
	}
	ev, err := h.svc.Messages.EventFor(msg.ID)
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("snapshot message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message"})
		return
	}
	c.JSON(http.StatusOK, wire.ShapeMessage(ev, identity(c)))
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Messages.Delete(messageID, auth.GetUserID(c)); err != nil {
		h.messageError(c, err, messageID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// MarkSeen records that the caller has seen the listed messages. Seen
// state is not broadcast; clients refresh unread counts over REST.
func (h *Handler) MarkSeen(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ids := make([]uint, 0, len(req.MessageIDs))
	for _, s := range req.MessageIDs {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		ids = append(ids, uint(v))
	}
	marked, err := h.svc.Messages.MarkSeen(auth.GetUserID(c), ids)
	if err != nil {
		log.Error().Err(err).Msg("mark seen")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark seen"})
		return
	}
	out := make([]string, 0, len(marked))
	for _, id := range marked {
		out = append(out, strconv.FormatUint(uint64(id), 10))
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": out})
}

// AttachImage records image metadata on an existing message; the upload
// itself lives elsewhere, only the URL and dimensions are stored.
func (h *Handler) AttachImage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	img, err := h.svc.Messages.AttachImage(messageID, auth.GetUserID(c), req.URL, req.Width, req.Height)
	if err != nil {
		h.messageError(c, err, messageID)
		return
	}
	c.JSON(http.StatusOK, wire.Image{
		ID:     strconv.FormatUint(uint64(img.ID), 10),
		URL:    img.URL,
		Width:  img.Width,
		Height: img.Height,
	})
}

func (h *Handler) roomError(c *gin.Context, err error, roomID uint) {
	switch {
	case err == nil, errors.Is(err, service.ErrNotEntitled):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
	case errors.Is(err, service.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	default:
		log.Error().Err(err).Uint("room_id", roomID).Msg("room lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) messageError(c *gin.Context, err error, messageID uint) {
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, service.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the author"})
	default:
		log.Error().Err(err).Uint("message_id", messageID).Msg("message mutation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
