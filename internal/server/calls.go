package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var liveCallsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards live on other origins; auth happens upstream.
		return true
	},
}

func (s *Server) getActiveCalls(c *gin.Context) {
	snapshot := s.hub.Current()
	c.JSON(http.StatusOK, gin.H{
		"active_call_count": snapshot.ActiveCallCount,
		"active_calls":      snapshot.ActiveCalls,
	})
}

// streamLiveCalls pushes a snapshot per call-state change over a websocket.
// The current snapshot goes out immediately so late joiners render without
// waiting for traffic.
func (s *Server) streamLiveCalls(c *gin.Context) {
	conn, err := liveCallsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, current := s.hub.Subscribe()
	defer sub.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(current); err != nil {
		return
	}

	// Reader only services pong frames and notices the peer going away.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) getSwitchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":             s.connector.State().String(),
		"active_call_count": s.hub.Current().ActiveCallCount,
	})
}
