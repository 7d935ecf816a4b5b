package ws

import (
	"net/http"
	"strconv"

	"roomcast/internal/auth"
	"roomcast/internal/bus"
	"roomcast/internal/config"
	"roomcast/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// authenticate resolves the connecting user before the upgrade, so auth
// failures come back as plain HTTP errors.
func authenticate(c *gin.Context, db *gorm.DB, cfg config.Config) (*models.User, bool) {
	token := auth.TokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return nil, false
	}
	claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	var user models.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, false
	}
	return &user, true
}

// ServeRoom handles GET /ws/rooms/:id, a single-room session. Entitlement
// is checked before the upgrade; unauthorized users never get a socket.
func ServeRoom(db *gorm.DB, cfg config.Config, store Store, b bus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authenticate(c, db, cfg)
		if !ok {
			return
		}
		rid64, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		roomID := uint(rid64)
		visible, err := store.RoomVisibleTo(roomID, user.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		if !visible {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		sess, err := OpenRoomSession(conn, store, b, user.ID, roomID)
		if err != nil {
			_ = conn.Close()
			return
		}
		go sess.writePump()
		sess.readPump()
	}
}

// ServeAggregate handles GET /ws, the cross-room session covering every
// room the user belongs to.
func ServeAggregate(db *gorm.DB, cfg config.Config, store Store, b bus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authenticate(c, db, cfg)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		sess, err := OpenAggregateSession(conn, store, b, user.ID)
		if err != nil {
			_ = conn.Close()
			return
		}
		go sess.writePump()
		sess.readPump()
	}
}
