// Package ws serves negotiation parties over WebSocket.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/hub"
	"github.com/xiaot623/gogo/negotiator/internal/negotiation"
	"github.com/xiaot623/gogo/negotiator/internal/protocol"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/synchronizer"
)

const actionTimeout = 30 * time.Second

// Server handles WebSocket connections. Each connection acts as one party.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	backend  negotiation.Backend
	feed     *realtime.Broker
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, h *hub.Hub, backend negotiation.Backend, feed *realtime.Broker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		backend: backend,
		feed:    feed,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Stats reports open connections and sessions with at least one of them.
func (s *Server) Stats() (connections, sessions int) {
	return s.hub.GetConnectionCount(), s.hub.GetSessionCount()
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	if err := s.hub.Register(conn); err != nil {
		_ = ws.Close()
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	gate := &joinGate{}
	party := negotiation.NewParty(s.backend, s.feed, s.observer(conn, gate), s.logger.With(zap.String("connection_id", conn.ID)))

	go s.writePump(conn)
	go s.readPump(conn, party, gate)
	return nil
}

// observer relays mirror updates to the connection's socket. Updates that
// arrive while a hello is in progress are skipped; hello_ack carries them.
func (s *Server) observer(conn *hub.Connection, gate *joinGate) synchronizer.Observer {
	return func(u synchronizer.Update) {
		var frame interface{}
		now := time.Now().UnixMilli()

		switch u.Kind {
		case synchronizer.UpdateLoaded:
			frame = snapshotFrame(*u.Snapshot, now)
		case synchronizer.UpdateChange:
			change := u.Change
			base := protocol.BaseMessage{Ts: now, SessionID: change.SessionID}
			switch change.Table {
			case domain.TableMessages:
				base.Type = protocol.TypeMessage
				frame = protocol.MessageEvent{BaseMessage: base, Event: change.Event, Message: change.Message}
			case domain.TableSettlementTerms:
				base.Type = protocol.TypeTerm
				frame = protocol.TermEvent{BaseMessage: base, Event: change.Event, Term: change.Term, CanRatify: u.CanRatify}
			case domain.TableSessions:
				base.Type = protocol.TypeSession
				frame = protocol.SessionEvent{BaseMessage: base, Session: change.Session}
			default:
				return
			}
		}

		gate.relay(func() {
			if err := s.hub.SendJSONToConnection(conn, frame); err != nil {
				s.logger.Warn("failed to relay change", zap.String("connection_id", conn.ID), zap.Error(err))
			}
		})
	}
}

func (s *Server) readPump(conn *hub.Connection, party *negotiation.Party, gate *joinGate) {
	defer func() {
		sessionID, role := party.SessionID(), party.Role()
		party.Leave()
		s.hub.Unregister(conn)
		conn.Close()
		if sessionID != "" {
			s.broadcastPresence(sessionID, role, protocol.PresenceLeft)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, party, gate, message)
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write frame", zap.String("connection_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches a frame. Frames from one connection are handled
// in the order they arrive.
func (s *Server) handleMessage(conn *hub.Connection, party *negotiation.Party, gate *joinGate, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	if baseMsg.Type != protocol.TypeHello && party.SessionID() == "" {
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(ctx, conn, party, gate, data)
	case protocol.TypeSendMessage:
		s.handleSendMessage(ctx, conn, party, data)
	case protocol.TypeProposeTerm:
		s.handleProposeTerm(ctx, conn, party, data)
	case protocol.TypeUpdateTerm:
		s.handleUpdateTerm(ctx, conn, party, data)
	case protocol.TypeRatify:
		s.handleRatify(ctx, conn, party, baseMsg.RequestID)
	default:
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

func (s *Server) handleHello(ctx context.Context, conn *hub.Connection, party *negotiation.Party, gate *joinGate, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(msg.APIKey), []byte(s.cfg.APIKey)) != 1 {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	previous, previousRole := party.SessionID(), party.Role()

	gate.hold()
	acked := false
	defer func() {
		if !acked {
			gate.release(nil)
		}
	}()

	var err error
	switch {
	case strings.TrimSpace(msg.Link) != "":
		err = party.JoinLink(ctx, msg.Link)
	case msg.SessionID != "":
		err = party.Join(ctx, msg.SessionID, msg.Role)
	case strings.TrimSpace(msg.CaseName) != "":
		role := msg.Role
		if role == "" {
			role = domain.RolePartyA
		}
		_, err = party.Create(ctx, msg.CaseName, role)
	default:
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeInvalidMessage, "session_id, link or case_name is required")
		return
	}

	// The hub binding follows the party before anyone hears about it.
	sessionID, role := party.SessionID(), party.Role()
	if sessionID == "" {
		s.hub.UnbindSession(conn)
	} else {
		s.hub.BindSession(conn, sessionID, role)
	}
	if previous != "" && previous != sessionID {
		s.broadcastPresence(previous, previousRole, protocol.PresenceLeft)
	}
	if err != nil {
		s.sendError(conn, msg.RequestID, protocol.ErrorCode(err), err.Error())
		return
	}

	invite, err := party.InviteLink(s.cfg.PublicBaseURL)
	if err != nil {
		s.logger.Warn("failed to build invite link", zap.Error(err))
	}
	acked = true
	gate.release(func() {
		snap, _ := party.Snapshot()
		s.hub.SendJSONToConnection(conn, protocol.HelloAckMessage{
			BaseMessage: protocol.BaseMessage{
				Type:      protocol.TypeHelloAck,
				Ts:        time.Now().UnixMilli(),
				RequestID: msg.RequestID,
				SessionID: sessionID,
			},
			Role:       role,
			InviteLink: invite,
			Snapshot:   snapshotFrame(snap, 0).Snapshot,
		})
	})
	s.broadcastPresence(sessionID, role, protocol.PresenceJoined)

	s.logger.Info("party joined", zap.String("session_id", sessionID), zap.String("role", string(role)))
}

func snapshotFrame(snap synchronizer.Snapshot, ts int64) protocol.SnapshotMessage {
	frame := protocol.SnapshotMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeSnapshot, Ts: ts},
		Snapshot: domain.SessionSnapshot{
			Session:   snap.Session,
			Messages:  snap.Messages,
			Terms:     snap.Terms,
			CanRatify: snap.CanRatify,
		},
		Loading: snap.Loading,
	}
	if snap.Session != nil {
		frame.SessionID = snap.Session.ID
	}
	if snap.Err != nil {
		frame.Error = snap.Err.Error()
	}
	return frame
}

func (s *Server) handleSendMessage(ctx context.Context, conn *hub.Connection, party *negotiation.Party, data []byte) {
	var msg protocol.SendMessageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid send_message message")
		return
	}
	created, err := party.SendMessage(ctx, msg.Content, msg.LanguageCode)
	if err != nil {
		s.sendError(conn, msg.RequestID, protocol.ErrorCode(err), err.Error())
		return
	}
	s.sendAck(conn, msg.RequestID, created.ID, nil)
}

func (s *Server) handleProposeTerm(ctx context.Context, conn *hub.Connection, party *negotiation.Party, data []byte) {
	var msg protocol.ProposeTermMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid propose_term message")
		return
	}
	term, err := party.ProposeTerm(ctx, msg.ClauseTitle, msg.ClauseContent)
	if err != nil {
		s.sendError(conn, msg.RequestID, protocol.ErrorCode(err), err.Error())
		return
	}
	s.sendAck(conn, msg.RequestID, term.ID, nil)
}

func (s *Server) handleUpdateTerm(ctx context.Context, conn *hub.Connection, party *negotiation.Party, data []byte) {
	var msg protocol.UpdateTermMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid update_term message")
		return
	}
	if msg.TermID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeInvalidMessage, "term_id is required")
		return
	}
	term, err := party.SetTermStatus(ctx, msg.TermID, msg.Status, msg.ExpectedVersion)
	if err != nil {
		s.sendError(conn, msg.RequestID, protocol.ErrorCode(err), err.Error())
		return
	}
	s.sendAck(conn, msg.RequestID, term.ID, nil)
}

func (s *Server) handleRatify(ctx context.Context, conn *hub.Connection, party *negotiation.Party, requestID string) {
	res, err := party.Ratify(ctx)
	if err != nil {
		s.sendError(conn, requestID, protocol.ErrorCode(err), err.Error())
		return
	}
	ratified := res.Ratified
	s.sendAck(conn, requestID, party.SessionID(), &ratified)
}

func (s *Server) broadcastPresence(sessionID string, role domain.Role, state string) {
	if !s.hub.HasActiveConnections(sessionID) {
		return
	}
	frame := protocol.PresenceMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypePresence,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		Role:   role,
		State:  state,
		Online: s.hub.Online(sessionID),
	}
	if err := s.hub.BroadcastJSON(sessionID, frame); err != nil {
		s.logger.Debug("failed to broadcast presence", zap.Error(err))
	}
}

func (s *Server) sendAck(conn *hub.Connection, requestID, id string, ratified *bool) {
	s.hub.SendJSONToConnection(conn, protocol.AckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: conn.SessionID,
		},
		ID:       id,
		Ratified: ratified,
	})
}

func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	s.hub.SendJSONToConnection(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: conn.SessionID,
		},
		Code:    code,
		Message: message,
	})
}
