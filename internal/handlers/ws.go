package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsReadLimit    = 16 << 10
	wsEventBuffer  = 128
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades UI sessions to the WebSocket event channel. Clients
// join and leave conversation rooms with action messages and receive the
// normalized bridge events for the rooms they are in.
type WSHandler struct {
	logger *slog.Logger
	hub    *hub.Hub
}

func NewWSHandler(log *slog.Logger, h *hub.Hub) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		logger: log.With(slog.String("handler", "ws")),
		hub:    h,
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

type clientMessage struct {
	Action         string            `json:"action"`
	Provider       bridge.ProviderID `json:"provider,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

func (h *WSHandler) Serve(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.hub.NewSubscriber(wsEventBuffer)
	log := h.logger.With(slog.String("subscriber", sub.ID()))
	log.Info("websocket connected", slog.String("remote_ip", c.RealIP()))

	defer func() {
		h.hub.Unsubscribe(sub)
		_ = ws.Close()
		log.Info("websocket closed")
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go h.writeLoop(ws, sub, done, log)
	defer close(done)

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return nil
		}
		switch msg.Action {
		case "join":
			if msg.Provider == "" || msg.ConversationID == "" {
				continue
			}
			h.hub.Join(sub, msg.Provider, msg.ConversationID)
		case "leave":
			if msg.Provider == "" || msg.ConversationID == "" {
				continue
			}
			h.hub.Leave(sub, msg.Provider, msg.ConversationID)
		case "ping":
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = ws.WriteJSON(map[string]string{"type": "pong"})
		default:
			log.Debug("unknown action", slog.String("action", msg.Action))
		}
	}
}

// writeLoop drains the subscriber's event feed onto the socket and keeps the
// connection alive with protocol pings. It exits when the feed is closed,
// the read side finishes, or a write fails.
func (h *WSHandler) writeLoop(ws *websocket.Conn, sub *hub.Subscriber, done <-chan struct{}, log *slog.Logger) {
	pingPeriod := wsPongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = ws.Close()
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug("write failed", slog.Any("error", err))
				_ = ws.Close()
				return
			}
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
