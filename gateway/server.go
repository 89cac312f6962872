// Package gateway exposes the orchestration core over HTTP: a websocket
// endpoint streams per-agent progress and final records to UI clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/backend"
	"github.com/smallnest/crewrelay/config"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/relay"
	"github.com/smallnest/crewrelay/run"
	"github.com/smallnest/crewrelay/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds to loopback by default; tighten this before
		// exposing it further.
		return true
	},
}

// Server serves the websocket gateway.
type Server struct {
	cfg    config.GatewayConfig
	svc    *relay.Service
	server *http.Server

	mu      sync.Mutex
	running bool
}

// NewServer creates a gateway server over the given service.
func NewServer(cfg config.GatewayConfig, svc *relay.Service) *Server {
	return &Server{cfg: cfg, svc: svc}
}

// Start begins listening. It returns once the listener is installed; serve
// errors are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/chat", s.handleChat)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

// wsClient wraps one websocket connection with a write lock: the reader
// goroutine and the run relay both push frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(msg *ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Debug("websocket write failed", zap.Error(err))
	}
}

// handleWebSocket serves one client connection, one conversation per
// connection. Frames are read on a dedicated goroutine so cancel and reset
// take effect while a run is in flight; ask frames queue and execute one at
// a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn}
	key := "ws:" + uuid.New().String()
	logger.Info("websocket client connected", zap.String("key", key))

	asks := make(chan *ClientMessage, 4)
	go func() {
		defer close(asks)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("websocket client gone", zap.String("key", key), zap.Error(err))
				return
			}

			msg, err := DecodeClientMessage(data)
			if err != nil {
				c.write(&ServerMessage{Type: TypeError, Error: err.Error()})
				continue
			}

			switch msg.Type {
			case TypeCancel:
				s.svc.Cancel()
			case TypeReset:
				s.svc.Reset(key)
			case TypeAsk:
				select {
				case asks <- msg:
				default:
					c.write(&ServerMessage{Type: TypeError, Error: "too many queued questions"})
				}
			}
		}
	}()

	for msg := range asks {
		s.serveRun(r.Context(), c, key, msg)
	}
}

// serveRun executes one question and relays its progress to the client.
func (s *Server) serveRun(ctx context.Context, c *wsClient, key string, msg *ClientMessage) {
	rn := s.svc.Ask(ctx, key, relay.Question{
		Message: msg.Message,
		Mode:    agents.Mode(msg.Mode),
		Path:    run.Path(msg.Path),
		Tier:    backend.Tier(msg.Tier),
		Repos:   msg.Repos,
	})
	c.write(&ServerMessage{Type: TypeRunStarted, RunID: rn.ID})

	for update := range rn.Updates() {
		if update.Final() {
			s.svc.Commit(key, msg.Message, update.Result)
			c.write(&ServerMessage{
				Type:   TypeResult,
				RunID:  rn.ID,
				Agents: update.Agents,
				Result: update.Result,
			})
			return
		}
		c.write(&ServerMessage{Type: TypeProgress, RunID: rn.ID, Agents: update.Agents})
	}

	// Updates closed without a final record: the run was abandoned.
	c.write(&ServerMessage{Type: TypeError, RunID: rn.ID, Error: run.ErrRunCanceled.Error()})
}

type chatRequest struct {
	// Key names the conversation; requests sharing a key share the
	// continuation id and history window. Empty means a fresh conversation.
	Key     string   `json:"key,omitempty"`
	Message string   `json:"message"`
	Mode    string   `json:"mode,omitempty"`
	Path    string   `json:"path,omitempty"`
	Tier    string   `json:"tier,omitempty"`
	Repos   []string `json:"repos,omitempty"`
}

type chatResponse struct {
	RunID  string              `json:"run_id"`
	Key    string              `json:"key"`
	Result *types.ResultRecord `json:"result"`
}

// handleChat serves the request/response entry point: one question, one
// JSON answer, progress observable only through the run's elapsed facts.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	key := req.Key
	if key == "" {
		key = "http:" + uuid.New().String()
	}

	rn := s.svc.Ask(r.Context(), key, relay.Question{
		Message: req.Message,
		Mode:    agents.Mode(req.Mode),
		Path:    run.Path(req.Path),
		Tier:    backend.Tier(req.Tier),
		Repos:   req.Repos,
	})

	var record *types.ResultRecord
	for update := range rn.Updates() {
		if update.Final() {
			record = update.Result
		}
	}
	if record == nil {
		http.Error(w, run.ErrRunCanceled.Error(), http.StatusConflict)
		return
	}
	s.svc.Commit(key, req.Message, record)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&chatResponse{RunID: rn.ID, Key: key, Result: record}); err != nil {
		logger.Debug("chat response write failed", zap.Error(err))
	}
}
