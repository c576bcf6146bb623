package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/firewatch-core/internal/ingest"
	"github.com/nerrad567/firewatch-core/internal/session"
)

// deviceContactTimeout bounds the store write made for a register or
// heartbeat.
const deviceContactTimeout = 5 * time.Second

// handleDeviceSocket serves one device push connection.
//
// The connection carries no identity until the device sends register. From
// then on commands for that code are routed here until the socket closes or
// a newer connection registers the same code. Registering a different code
// on the same socket releases the previous one.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device websocket upgrade failed", "error", err)
		return
	}

	conn := session.NewWSConn(ws, time.Duration(s.wsCfg.WriteTimeout)*time.Second)
	logger := s.logger.With("conn", conn.ID(), "remote_addr", conn.RemoteAddr())
	logger.Debug("device connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if s.sessions.Unregister(conn) {
			logger.Info("device session closed")
		}
		//nolint:errcheck // socket may already be closed
		conn.Close()
	}()

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	ws.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	go pingLoop(ctx, conn, pingInterval)

	var code string
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("device websocket read error", "device_code", code, "error", err)
			} else {
				logger.Debug("device websocket closed", "device_code", code, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		msg, err := session.DecodeInbound(data)
		if err != nil {
			logger.Debug("rejected device message", "device_code", code, "error", err)
			reply(conn, session.ErrorReply(session.ErrorCodeInvalidMessage, err.Error()))
			continue
		}

		switch m := msg.(type) {
		case session.Register:
			if !s.registerDevice(ctx, conn, m) {
				return
			}
			code = m.DeviceCode
		case session.Heartbeat:
			s.deviceHeartbeat(ctx, conn, code)
		case session.Ack:
			logger.Info("device acknowledged command",
				"device_code", code,
				"action", m.Action,
				"status", m.Status,
			)
		default:
			reply(conn, session.ErrorReply(session.ErrorCodeInvalidMessage, "unsupported message"))
		}
	}
}

// registerDevice binds conn to the code in m. It reports false when the
// connection has been closed.
func (s *Server) registerDevice(ctx context.Context, conn *session.WSConn, m session.Register) bool {
	if err := s.sessions.Register(ctx, m.DeviceCode, conn); err != nil {
		if errors.Is(err, session.ErrUnknownDevice) {
			s.logger.Warn("registration from unknown device",
				"device_code", m.DeviceCode,
				"remote_addr", conn.RemoteAddr(),
			)
			reply(conn, session.ErrorReply(session.ErrorCodeUnknownDevice, "unknown device code"))
			//nolint:errcheck // the socket is closed regardless
			conn.CloseWith(session.CloseUnknownDevice, "unknown device")
			return false
		}
		s.logger.Error("registration failed", "device_code", m.DeviceCode, "error", err)
		reply(conn, session.ErrorReply(session.ErrorCodeInternal, "registration failed"))
		return true
	}

	cctx, cancel := context.WithTimeout(ctx, deviceContactTimeout)
	defer cancel()
	if _, err := s.ingest.RecordContact(cctx, m.DeviceCode, "", m.Version, ingest.SourcePush); err != nil {
		s.logger.Warn("recording registration contact failed", "device_code", m.DeviceCode, "error", err)
	}

	s.logger.Info("device registered",
		"device_code", m.DeviceCode,
		"firmware_version", m.Version,
		"conn", conn.ID(),
	)
	reply(conn, session.RegisteredReply(m.DeviceCode))
	return true
}

// deviceHeartbeat refreshes liveness for the registered code when heartbeats
// are configured to count as contact. Heartbeats never get a reply unless
// the connection has not registered.
func (s *Server) deviceHeartbeat(ctx context.Context, conn *session.WSConn, code string) {
	if code == "" {
		reply(conn, session.ErrorReply(session.ErrorCodeNotRegistered, "register before sending heartbeats"))
		return
	}
	if !s.liveCfg.HeartbeatRefreshes {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, deviceContactTimeout)
	defer cancel()
	if _, err := s.ingest.RecordContact(cctx, code, "", "", ingest.SourceHeartbeat); err != nil {
		s.logger.Warn("recording heartbeat failed", "device_code", code, "error", err)
	}
}

// pingLoop sends protocol pings until ctx ends or a ping fails.
func pingLoop(ctx context.Context, conn *session.WSConn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func reply(conn *session.WSConn, r session.Reply) {
	//nolint:errcheck // a failed reply surfaces as a read error on the next frame
	conn.Send(r)
}
