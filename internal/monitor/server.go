package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddforge/wristlink/internal/history"
	"github.com/oddforge/wristlink/internal/wire"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// LinkView is the read-plus-send surface the monitor exposes.
type LinkView interface {
	State() string
	UnreadCount() int
	Messages() []wire.MeshMessage
	Nodes() []wire.NodeInfo
	Status() (wire.MeshStatus, bool)
	Send(to, text string, channel uint8, wantAck bool) (uint32, error)
}

// Server holds handler dependencies. The history store may be nil; the
// history endpoint then reports 404.
type Server struct {
	link  LinkView
	store *history.Store
	bus   *EventBus
}

// NewRouter wires the monitor routes and returns an http.Handler.
func NewRouter(link LinkView, store *history.Store, bus *EventBus) http.Handler {
	s := &Server{link: link, store: store, bus: bus}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/state", s.getState)
	mux.HandleFunc("GET /api/v1/messages", s.listMessages)
	mux.HandleFunc("GET /api/v1/nodes", s.listNodes)
	mux.HandleFunc("GET /api/v1/status", s.getStatus)
	mux.HandleFunc("GET /api/v1/history", s.listHistory)
	mux.HandleFunc("POST /api/v1/send", s.sendMessage)
	mux.HandleFunc("GET /ws", s.eventStream)
	return withLogging(mux)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":  s.link.State(),
		"unread": s.link.UnreadCount(),
	})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.link.Messages()
	if msgs == nil {
		msgs = []wire.MeshMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.link.Nodes()
	if nodes == nil {
		nodes = []wire.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.link.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"known":  ok,
		"status": st,
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.store.Recent(limit)
	if err != nil {
		slog.Warn("[monitor] history query failed", "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type sendRequest struct {
	To      string `json:"to"`
	Text    string `json:"text"`
	Channel uint8  `json:"channel"`
	WantAck bool   `json:"want_ack"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	seq, err := s.link.Send(req.To, req.Text, req.Channel, req.WantAck)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"seq": seq})
}

// eventStream upgrades to WebSocket and relays bus events until the client
// goes away.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[monitor] ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				slog.Debug("[monitor] ws write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("[monitor] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
