package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/ragline/pkg/rag"
)

const (
	TypeQuery    = "query"
	TypeIngest   = "ingest"
	TypeContext  = "context"
	TypeResponse = "response"
	TypeStatus   = "status"
	TypeError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	K       int    `json:"k,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Pipeline is the part of rag.Pipeline the server drives.
type Pipeline interface {
	Ask(ctx context.Context, question string, k int) (rag.Answer, error)
	IngestURL(ctx context.Context, rawURL string) (rag.IngestReport, error)
}

type Config struct {
	DefaultK int
	// AllowIngest enables "ingest" messages that crawl a URL into the store.
	AllowIngest bool
	Logger      *slog.Logger
}

type WSServer struct {
	config   Config
	pipeline Pipeline
	logger   *slog.Logger
}

func NewWSServer(config Config, pipeline Pipeline) (*WSServer, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &WSServer{
		config:   config,
		pipeline: pipeline,
		logger:   config.Logger.With("component", "server"),
	}, nil
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *WSServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}

// conn serialises writes; gorilla connections allow one writer at a time.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}

	// in-flight handlers are cancelled before the connection closes
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(c, Message{Type: TypeError, Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, msg Message) {
	switch msg.Type {
	case TypeQuery, "":
		s.handleQuery(ctx, c, msg)
	case TypeIngest:
		if !s.config.AllowIngest {
			s.sendMessage(c, Message{Type: TypeError, Content: "ingest is disabled"})
			return
		}
		s.handleIngest(ctx, c, msg)
	default:
		s.sendMessage(c, Message{Type: TypeError, Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *WSServer) handleQuery(ctx context.Context, c *conn, msg Message) {
	question := strings.TrimSpace(msg.Content)
	if question == "" {
		s.sendMessage(c, Message{Type: TypeError, Content: "query is empty"})
		return
	}
	k := msg.K
	if k <= 0 {
		k = s.config.DefaultK
	}

	answer, err := s.pipeline.Ask(ctx, question, k)
	if err != nil {
		s.logger.WarnContext(ctx, "query failed", "error", err)
		if answer.Results != nil {
			s.sendMessage(c, Message{Type: TypeContext, Content: answer.Context, Data: answer.Results})
		}
		s.sendMessage(c, Message{Type: TypeError, Content: err.Error()})
		return
	}

	s.sendMessage(c, Message{Type: TypeContext, Content: answer.Context, Data: answer.Results})
	s.sendMessage(c, Message{Type: TypeResponse, Content: answer.Text})
}

func (s *WSServer) handleIngest(ctx context.Context, c *conn, msg Message) {
	rawURL := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}
	s.sendMessage(c, Message{Type: TypeStatus, Content: fmt.Sprintf("Processing URL: %s", rawURL)})

	report, err := s.pipeline.IngestURL(ctx, rawURL)
	if err != nil {
		s.sendMessage(c, Message{Type: TypeError, Content: fmt.Sprintf("Failed to ingest URL: %v", err)})
		return
	}
	s.sendMessage(c, Message{
		Type:    TypeStatus,
		Content: fmt.Sprintf("Stored %d chunks in %s", report.Stored, report.Collection),
		Data:    report,
	})
}

func (s *WSServer) sendMessage(c *conn, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteJSON(msg); err != nil {
		s.logger.Debug("error sending message", "type", msg.Type, "error", err)
	}
}
