package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type EventHandler struct {
	bus *event.Bus
}

func NewEventHandler(bus *event.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

// Stream sends every event of the modems the user may see as a JSON text
// message. The optional modem_id and type query parameters narrow the
// stream.
func (h *EventHandler) Stream(c *gin.Context) {
	user := currentUser(c)
	modemID := c.Query("modem_id")
	typ := c.Query("type")

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe(100)
	defer cancel()

	// Reader: only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if (modemID != "" && e.ModemID != modemID) || (typ != "" && string(e.Type) != typ) || !canAccess(user, e.ModemID) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				logger.Log.Debugf("websocket write failed: %v", err)
				return
			}
		}
	}
}
