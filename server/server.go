// Package server exposes search and question answering over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/metrics"
	"github.com/xhad/docseek/internal/models"
)

const (
	TypeSearch   = "search"
	TypeQuery    = "query"
	TypeResults  = "results"
	TypeStream   = "stream"
	TypeResponse = "response"
	TypeError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is both the request and the reply format on /ws.
type Message struct {
	Type    string                `json:"type"`
	Content string                `json:"content"`
	TopK    int                   `json:"top_k,omitempty"`
	Results []models.SearchResult `json:"results,omitempty"`
}

// Engine is the part of the retrieval engine the server needs.
type Engine interface {
	SearchQuery(ctx context.Context, text string, k int) ([]models.SearchResult, error)
	AskStream(ctx context.Context, question string, k int, onChunk func(string)) (string, []models.SearchResult, error)
}

type Config struct {
	Addr      string
	Streaming bool
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type WSServer struct {
	config Config
	engine Engine
	logger *zap.Logger
}

func NewWSServer(engine Engine, config Config) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	return &WSServer{
		config: config,
		engine: engine,
		logger: logger.OrNop(config.Logger),
	}
}

// Handler routes /ws, /health and, when metrics are configured, /metrics.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Add a simple health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.config.Metrics != nil {
		mux.Handle("/metrics", s.config.Metrics.Handler())
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer conn.Close()
	defer wg.Wait()
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError(c, fmt.Errorf("invalid message: %v", err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *client, msg Message) {
	switch msg.Type {
	case TypeSearch:
		results, err := s.engine.SearchQuery(ctx, msg.Content, msg.TopK)
		if err != nil {
			s.sendError(c, err)
			return
		}
		s.sendMessage(c, Message{Type: TypeResults, Content: msg.Content, Results: results})

	case TypeQuery:
		var onChunk func(string)
		if s.config.Streaming {
			onChunk = func(chunk string) {
				s.sendMessage(c, Message{Type: TypeStream, Content: chunk})
			}
		}
		answer, sources, err := s.engine.AskStream(ctx, msg.Content, msg.TopK, onChunk)
		if err != nil {
			s.sendError(c, err)
			return
		}
		s.sendMessage(c, Message{Type: TypeResponse, Content: answer, Results: sources})

	default:
		s.sendError(c, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *WSServer) sendError(c *client, err error) {
	s.logger.Warn("request failed", zap.Error(err))
	s.sendMessage(c, Message{Type: TypeError, Content: err.Error()})
}

func (s *WSServer) sendMessage(c *client, msg Message) {
	if err := c.send(msg); err != nil {
		s.logger.Debug("error sending message", zap.Error(err))
	}
}
