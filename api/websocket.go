package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	cyclePollInterval = time.Second
	pingInterval      = 30 * time.Second
	writeTimeout      = 10 * time.Second
	readTimeout       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

// sameOrigin accepts clients without an Origin header (non-browser tools)
// and browser pages served from the API's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleWebSocket streams each completed enforcement cycle to the client.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.cfg.Loop == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "enforcement loop not running"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	hello := gin.H{
		"state":   s.cfg.Loop.State().String(),
		"network": s.cfg.Network,
	}
	lastID := ""
	if report, ok := s.cfg.Loop.LastReport(); ok {
		hello["last_cycle"] = report
		lastID = report.ID
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(wsMessage{Type: "hello", Data: hello}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		poll := time.NewTicker(cyclePollInterval)
		defer poll.Stop()
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-poll.C:
				report, ok := s.cfg.Loop.LastReport()
				if !ok || report.ID == lastID {
					continue
				}
				lastID = report.ID
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(wsMessage{Type: "cycle", Data: report}); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Only control frames are expected from the client.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			<-done
			return
		}
	}
}
