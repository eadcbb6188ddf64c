package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/metrics"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum control message size allowed from peer.
)

// session is one live websocket connection. It is the connection's Sink in the registry.
type session struct {
	id      ConnID
	who     identity.Identity
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	server  *Server
	ctx     context.Context // carries the connection id as request_id

	kick sync.Once
}

// Enqueue never blocks. A connection that cannot keep up is closed so its
// client reconnects and re-fetches a snapshot instead of silently missing events.
func (s *session) Enqueue(msg []byte) error {
	select {
	case s.send <- msg:
		return nil
	default:
		s.kick.Do(func() {
			go s.conn.Close()
		})
		return ErrSendBufferFull
	}
}

// readPump reads control messages. It is the only reader of the connection and
// the only goroutine that unregisters it, after which send is closed.
func (s *session) readPump() {
	defer func() {
		s.server.registry.Unregister(s.id)
		close(s.send)
		s.conn.Close()
		s.server.active.Add(-1)
		s.server.logger.Info(s.ctx, "ws_disconnected", "Live connection closed and unregistered", map[string]any{
			"identity": s.who.String(),
		})
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.server.logger.Warn(s.ctx, "ws_read_failed", "Unexpected websocket close", map[string]any{"error": err.Error()})
			}
			return
		}

		if !s.limiter.Allow() {
			s.ack(contracts.Ack{Event: contracts.AckError, Error: "rate limited"})
			continue
		}

		var msg contracts.ControlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.ack(contracts.Ack{Event: contracts.AckError, Error: "malformed control message"})
			continue
		}
		s.handleControl(msg)
	}
}

// writePump is the only writer of the connection. Messages leave in enqueue order.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// unregistered
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.server.logger.Warn(s.ctx, "ws_write_failed", "Failed to write to live connection", map[string]any{"error": err.Error()})
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.server.appCtx.Done():
			return
		}
	}
}

// controlTopic maps a control action onto its topic and direction.
func controlTopic(msg contracts.ControlMessage) (topic Topic, join bool, err error) {
	switch msg.Action {
	case contracts.ActionJoinSystemStats:
		return SystemStatsTopic, true, nil
	case contracts.ActionLeaveSystemStats:
		return SystemStatsTopic, false, nil
	}

	if msg.ID == "" {
		return "", false, errors.New("id is required")
	}
	switch msg.Action {
	case contracts.ActionJoinOrderRoom:
		return OrderTopic(msg.ID), true, nil
	case contracts.ActionLeaveOrderRoom:
		return OrderTopic(msg.ID), false, nil
	case contracts.ActionJoinRestaurantRoom:
		return RestaurantTopic(msg.ID), true, nil
	case contracts.ActionLeaveRestaurantRoom:
		return RestaurantTopic(msg.ID), false, nil
	}
	return "", false, errors.New("unknown action")
}

func (s *session) handleControl(msg contracts.ControlMessage) {
	topic, join, err := controlTopic(msg)
	if err != nil {
		s.ack(contracts.Ack{Event: contracts.AckError, Action: msg.Action, Error: err.Error()})
		return
	}

	if !join {
		if err := s.server.registry.Leave(s.id, topic); err != nil {
			s.ack(contracts.Ack{Event: contracts.AckError, Action: msg.Action, Topic: string(topic), Error: err.Error()})
			return
		}
		s.ack(contracts.Ack{Event: contracts.AckLeft, Action: msg.Action, Topic: string(topic)})
		return
	}

	if err := s.server.entitlements.CanJoin(s.ctx, s.who, topic); err != nil {
		if errors.Is(err, ErrTopicAuthorizationDenied) {
			metrics.JoinsDenied.Inc()
			s.server.logger.Warn(s.ctx, "join_denied", "Join outside caller entitlement", map[string]any{
				"identity": s.who.String(),
				"topic":    topic,
			})
			s.ack(contracts.Ack{Event: contracts.AckJoinDenied, Action: msg.Action, Topic: string(topic)})
			return
		}
		s.server.logger.Error(s.ctx, "entitlement_lookup_failed", "Failed to check topic entitlement", err)
		s.ack(contracts.Ack{Event: contracts.AckError, Action: msg.Action, Topic: string(topic), Error: "try again later"})
		return
	}

	if err := s.server.registry.Join(s.id, topic); err != nil {
		s.ack(contracts.Ack{Event: contracts.AckError, Action: msg.Action, Topic: string(topic), Error: err.Error()})
		return
	}
	s.ack(contracts.Ack{Event: contracts.AckJoined, Action: msg.Action, Topic: string(topic)})
}

func (s *session) ack(a contracts.Ack) {
	msg, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = s.Enqueue(msg)
}
