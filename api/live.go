package api

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// live streams the merged report view over a websocket. The first message is
// the current view; every later message is a newer one.
func (a *API) live(c *gin.Context) {
	id := c.Params.ByName("id")

	// Observe before upgrading so lookup failures keep their HTTP status.
	obs, err := a.svc.Views.Observe(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer obs.Close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("live %s: upgrade: %v", id, err)
		return
	}
	defer ws.Close()

	// The client sends nothing; reading is only for pongs and close frames.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case view, ok := <-obs.Updates():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := obs.Err(); err != nil {
					msg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, truncate(err.Error(), 120))
				}
				ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(PriceResponse{Report: view.Report, Comments: view.Comments}); err != nil {
				a.logger.Debug("live %s: write: %v", id, err)
				return
			}

		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-gone:
			return
		}
	}
}

// Close frame reasons are limited to 123 bytes and must stay valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
