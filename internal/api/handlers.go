package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chat-relay/internal/relay"
)

type HealthResponse struct {
	Status         string    `json:"status"`
	ConnectedUsers int       `json:"connectedUsers"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RelayApp) health(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ConnectedUsers: s.rs.Registry().OnlineCount(),
		Timestamp:      relay.Now(),
	})
}

// users lists every user the relay has seen this process lifetime,
// with online flag and last-seen timestamp.
func (s *RelayApp) users(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.rs.Registry().Users())
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := relay.NewClient(conn, s.rs, s.log)
	s.rs.RegisterChan <- client

	go client.Write()
	go client.Read()
}
