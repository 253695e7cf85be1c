package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-sos-alerts/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// bannerView is the banner frame sent to dashboard clients.
type bannerView struct {
	Visible     bool  `json:"visible"`
	Banner      any   `json:"banner,omitempty"`
	RemainingMs int64 `json:"remainingMs,omitempty"`
}

func (h *Handler) serveStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	route := c.Query("route")
	id, messages := h.stream.Subscribe()
	defer h.stream.Unsubscribe(id)
	slog.Info("dashboard client connected", "subscriber", id)

	for _, msg := range h.initialMessages(route) {
		if err := writeMessage(ws, msg); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go readUntilClose(ws, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if msg.Type == stream.TypeBanner {
				msg.Data = h.bannerFrame(route)
			}
			if err := writeMessage(ws, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("dashboard client disconnected", "subscriber", id)
			return
		}
	}
}

func (h *Handler) initialMessages(route string) []stream.Message {
	return []stream.Message{
		{Type: stream.TypeAlerts, Data: h.alerts.Alerts()},
		{Type: stream.TypeBanner, Data: h.bannerFrame(route)},
		{Type: stream.TypeNotifications, Data: h.notifications.List()},
	}
}

// bannerFrame renders the banner for one client's route, so suppression
// applies per client.
func (h *Handler) bannerFrame(route string) bannerView {
	rec, ok := h.banner.Current()
	if !ok {
		return bannerView{}
	}
	return bannerView{
		Visible:     h.banner.Visible(route),
		Banner:      rec,
		RemainingMs: h.banner.Remaining().Milliseconds(),
	}
}

func writeMessage(ws *websocket.Conn, msg stream.Message) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(msg); err != nil {
		slog.Warn("failed to write websocket message", "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// readUntilClose drains client frames so control messages are processed
// and closes done when the client goes away.
func readUntilClose(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
