package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/pkg/pipeline"
)

const maxUploadBytes = 10 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Config struct {
	Addr string
}

// Server exposes uploads over HTTP and question streaming over WebSocket.
type Server struct {
	config       Config
	ingestor     *pipeline.Ingestor
	orchestrator *pipeline.Orchestrator
	log          *zap.Logger
}

func New(config Config, ingestor *pipeline.Ingestor, orchestrator *pipeline.Orchestrator, log *zap.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{config: config, ingestor: ingestor, orchestrator: orchestrator, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/documents", s.handleDocuments)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) ListenAndServe() error {
	s.log.Info("starting server", zap.String("addr", s.config.Addr))
	return http.ListenAndServe(s.config.Addr, s.Handler())
}

// wsQuestion is what the client sends on the socket.
type wsQuestion struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
	Mode      string `json:"mode,omitempty"`
	Language  string `json:"language,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var q wsQuestion
		if err := conn.ReadJSON(&q); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		events := s.orchestrator.StreamQuery(ctx, pipeline.StreamRequest{
			Question:  q.Question,
			SessionID: q.SessionID,
			ChatID:    q.ChatID,
			Mode:      pipeline.StreamMode(q.Mode),
			Language:  q.Language,
		})
		for event := range events {
			if err := conn.WriteJSON(event); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	sessionID := r.FormValue("sessionId")
	result, err := s.ingestor.Ingest(r.Context(), sessionID, header.Filename, data)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	switch r.Method {
	case http.MethodGet:
		docs, err := s.ingestor.ListDocuments(r.Context(), sessionID)
		if err != nil {
			s.writeIngestError(w, err)
			return
		}
		if docs == nil {
			docs = []models.DocumentInfo{}
		}
		writeJSON(w, http.StatusOK, docs)

	case http.MethodDelete:
		filename := r.URL.Query().Get("filename")
		var err error
		if filename == "" {
			err = s.ingestor.DeleteAll(r.Context())
		} else {
			err = s.ingestor.DeleteDocument(r.Context(), sessionID, filename)
		}
		if err != nil {
			s.writeIngestError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDuplicateDocument):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
