package ws

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB
)

// Inbound is what a room session accepts from its client. Ids ride as
// strings, mirroring the outbound shapes.
type Inbound struct {
	Body       string  `json:"body"`
	ParentID   *string `json:"parentId"`
	IsReaction bool    `json:"isReaction"`
}

func (s *Session) readPump() {
	defer func() {
		s.Close()
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		// Pongs double as liveness heartbeats for the stale sweep.
		if err := s.store.TouchPresence(s.userID); err != nil {
			log.Error().Err(err).Uint("user_id", s.userID).Msg("touch presence")
		}
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		// Aggregate sessions are read-only: there is no single room an
		// inbound message could belong to.
		if s.mode != ModeRoom {
			continue
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		var parentID *uint
		if in.ParentID != nil {
			v, err := strconv.ParseUint(*in.ParentID, 10, 64)
			if err != nil {
				continue
			}
			p := uint(v)
			parentID = &p
		}
		if _, err := s.store.CreateMessage(s.roomID, s.userID, in.Body, parentID, in.IsReaction); err != nil {
			log.Warn().Err(err).Uint("room_id", s.roomID).Uint("user_id", s.userID).Msg("inbound message rejected")
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
