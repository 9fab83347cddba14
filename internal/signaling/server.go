package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/callmesh/signaling-server/internal/config"
	"github.com/callmesh/signaling-server/internal/directory"
	"github.com/callmesh/signaling-server/internal/metrics"
	"github.com/callmesh/signaling-server/internal/origin"
	"github.com/callmesh/signaling-server/internal/ratelimit"
	"github.com/callmesh/signaling-server/internal/rooms"
)

const wsWriteWait = 1 * time.Second

// Server owns the WebSocket endpoint browser clients connect to. Each
// accepted connection gets a server-assigned connection id, a read loop that
// dispatches requests in arrival order, and teardown through the coordinator
// when the loop exits.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	coord *Coordinator
	peers *PeerSet

	upgrader websocket.Upgrader
	clock    ratelimit.Clock
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	peers := NewPeerSet()
	dir := directory.New(logger)
	reg := rooms.New(logger)

	s := &Server{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		peers:   peers,
		coord:   NewCoordinator(logger, m, dir, reg, peers),
		clock:   ratelimit.RealClock{},
	}
	s.upgrader = websocket.Upgrader{
		// Origin is checked before the upgrade so rejected clients get a
		// plain 403 instead of a handshake failure.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Coordinator exposes the protocol engine, mainly for wiring and tests.
func (s *Server) Coordinator() *Coordinator {
	return s.coord
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connectionID := uuid.NewString()
	sess := &wsSession{conn: conn}

	s.peers.Attach(connectionID, sess)
	s.metrics.Inc(metrics.ConnectionsOpened)
	s.log.Info("signaling_connection_opened", "connection_id", connectionID, "remote_addr", r.RemoteAddr)

	s.readLoop(connectionID, sess)

	s.peers.Detach(connectionID)
	s.coord.Disconnect(connectionID)
	_ = conn.Close()
	s.metrics.Inc(metrics.ConnectionsClosed)
	s.log.Info("signaling_connection_closed", "connection_id", connectionID)
}

func (s *Server) originAllowed(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		// Non-browser clients send no Origin; cross-site WebSocket hijacking
		// only applies to browsers.
		return true
	}
	normalized, host, ok := origin.Normalize(originHeader)
	return ok && origin.Allowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) readLoop(connectionID string, sess *wsSession) {
	conn := sess.conn
	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	// Zero disables the idle timeout and the rate limit.
	idleTimeout := s.cfg.SignalingWSIdleTimeout
	if idleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idleTimeout))
		})
	}

	stopPings := make(chan struct{})
	defer close(stopPings)
	go s.pingLoop(conn, stopPings)

	var limiter *ratelimit.TokenBucket
	if rate := int64(s.cfg.MaxSignalingMessagesPerSecond); rate > 0 {
		limiter = ratelimit.NewTokenBucket(s.clock, rate, rate)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.Inc(metrics.DropReasonOversized)
				s.log.Warn("signaling_message_too_large", "connection_id", connectionID)
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			s.log.Warn("signaling_rate_limit_exceeded", "connection_id", connectionID)
			_ = sess.Send(Event{Event: EventError, Message: "Rate limit exceeded"})
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		req, err := parseRequest(data)
		if err != nil {
			// A malformed request degrades to an Error event; the connection
			// stays alive.
			s.metrics.Inc(metrics.DropReasonMalformed)
			s.log.Warn("signaling_malformed_request", "connection_id", connectionID, "err", err)
			_ = sess.Send(Event{Event: EventError, Message: errMsgInvalidRequest})
			continue
		}

		s.dispatch(connectionID, req)
	}
}

// dispatch routes one parsed request to the coordinator. A panic in a
// handler is contained here so one bad request cannot take down the
// connection, let alone the process.
func (s *Server) dispatch(connectionID string, req request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("signaling_handler_panic", "connection_id", connectionID, "op", req.Op, "recover", rec)
			if sess, ok := s.peers.Get(connectionID); ok {
				_ = sess.Send(Event{Event: EventError, Message: errMsgInternalFailure})
			}
		}
	}()

	switch req.Op {
	case OpRegisterUser:
		s.coord.RegisterUser(connectionID, req.UserID)
	case OpCallUser:
		s.coord.CallUser(connectionID, req.TargetUserID, req.Payload)
	case OpAcceptCall:
		s.coord.AcceptCall(connectionID, req.CallerUserID)
	case OpAnswerCall:
		s.coord.AnswerCall(connectionID, req.CallerUserID, req.Payload)
	case OpRejectCall:
		s.coord.RejectCall(connectionID, req.CallerUserID, req.Reason)
	case OpCancelCall:
		s.coord.CancelCall(connectionID, req.TargetUserID)
	case OpEndCall:
		s.coord.EndCall(connectionID, req.OtherUserID)
	case OpSendIceCandidate:
		s.coord.SendIceCandidate(connectionID, req.TargetUserID, req.Payload)
	case OpCreateRoom:
		s.coord.CreateRoom(connectionID, req.RoomID)
	case OpJoinRoom:
		s.coord.JoinRoom(connectionID, req.RoomID)
	case OpLeaveRoom:
		s.coord.LeaveRoom(connectionID, req.RoomID)
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	interval := s.cfg.SignalingWSPingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Close force-closes every live connection. Used during shutdown after the
// HTTP server stops accepting upgrades.
func (s *Server) Close() {
	s.peers.Each(func(connectionID string, sess Sender) {
		_ = sess.Close()
	})
}

// wsSession adapts one gorilla connection to the Sender interface. The
// mutex serializes writes; gorilla connections allow one concurrent writer.
type wsSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSession) Send(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(evt)
}

func (s *wsSession) Close() error {
	return s.conn.Close()
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
