// Package server exposes assessments over HTTP and streams their progress
// over a websocket.
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
	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/extractor"
	"github.com/xhad/assessor/pkg/pipeline"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// AssessRequest is the body of POST /assess and the data of an "assess"
// websocket message. Raw bytes are sent base64 encoded in Data; Text is a
// shortcut for plain text answers.
type AssessRequest struct {
	Prompt            string `json:"prompt"`
	Filename          string `json:"filename"`
	Format            string `json:"format,omitempty"`
	Language          string `json:"language,omitempty"`
	Text              string `json:"text,omitempty"`
	Data              []byte `json:"data,omitempty"`
	ReferenceMaterial string `json:"reference_material,omitempty"`
	Submitter         string `json:"submitter,omitempty"`
}

func (r AssessRequest) submission() pipeline.Submission {
	raw := r.Data
	if len(raw) == 0 {
		raw = []byte(r.Text)
	}
	filename := r.Filename
	if filename == "" && r.Format == "" {
		filename = "submission.txt"
	}
	return pipeline.Submission{
		Raw:          raw,
		Format:       models.SourceFormat(r.Format),
		Filename:     filename,
		LanguageHint: r.Language,
		Submitter:    r.Submitter,
	}
}

// CapabilitiesResponse is the body of GET /capabilities.
type CapabilitiesResponse struct {
	Extensions []string               `json:"extensions"`
	Formats    []extractor.Capability `json:"formats"`
}

// Progress is sent for every pipeline transition.
type Progress struct {
	RunID string               `json:"run_id"`
	From  models.PipelineState `json:"from"`
	To    models.PipelineState `json:"to"`
}

type Assessor interface {
	Assess(ctx context.Context, sub pipeline.Submission, prompt string, opts ...pipeline.RunOption) (*models.AssessmentResult, error)
}

type Config struct {
	Addr string
	// RequestTimeout bounds one assessment. Zero means five minutes.
	RequestTimeout time.Duration
}

type WSServer struct {
	assessor Assessor
	config   Config
	logger   zerolog.Logger
}

func NewWSServer(assessor Assessor, config Config, logger zerolog.Logger) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	return &WSServer{assessor: assessor, config: config, logger: logger}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/assess", s.handleAssess)
	mux.HandleFunc("/capabilities", s.handleCapabilities)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *WSServer) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.assess(ctx, req, nil)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(statusFor(err))
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (s *WSServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CapabilitiesResponse{
		Extensions: extractor.SupportedExtensions(),
		Formats:    extractor.Capabilities(),
	})
}

func (s *WSServer) assess(ctx context.Context, req AssessRequest, observer types.Observer) (*models.AssessmentResult, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	opts := []pipeline.RunOption{}
	if req.ReferenceMaterial != "" {
		opts = append(opts, pipeline.WithReferenceMaterial(req.ReferenceMaterial))
	}
	if observer != nil {
		opts = append(opts, pipeline.WithObserver(observer))
	}
	return s.assessor.Assess(ctx, req.submission(), req.Prompt, opts...)
}

func statusFor(err error) int {
	if errors.Is(err, extractor.ErrTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, extractor.ErrUnsupportedFormat) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}

// wsConn serializes writes from concurrent runs on one connection.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (c *wsConn) send(msgType, content string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.logger.Debug().Err(err).Msg("Error sending message")
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &wsConn{conn: conn, logger: s.logger}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Error reading message")
			}
			cancel()
			return
		}

		var msg struct {
			Type string        `json:"type"`
			Data AssessRequest `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send("error", fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}
		if msg.Type != "assess" {
			c.send("error", fmt.Sprintf("unknown message type %q", msg.Type), nil)
			continue
		}

		wg.Add(1)
		go func(req AssessRequest) {
			defer wg.Done()
			s.handleMessage(ctx, c, req)
		}(msg.Data)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *wsConn, req AssessRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	c.send("status", fmt.Sprintf("Assessing %s", req.submission().Filename), nil)

	observer := types.ObserverFunc(func(runID string, from, to models.PipelineState) {
		c.send("progress", string(to), Progress{RunID: runID, From: from, To: to})
	})

	result, err := s.assess(ctx, req, observer)
	if err != nil {
		c.send("error", err.Error(), nil)
		return
	}
	c.send("result", result.Status.String(), result)
}
