// Package server relays the multiplayer protocol between game clients over
// websockets and exposes a small read-only JSON API.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"tetrecs/internal/lobby"
	"tetrecs/internal/protocol"
	"tetrecs/internal/storage"
)

// DefaultHiScoreLimit is the number of online high scores returned.
const DefaultHiScoreLimit = 10

// Server is the HTTP server.
type Server struct {
	mux     *http.ServeMux
	manager *lobby.Manager
	store   *storage.Store
	log     *zap.SugaredLogger
}

// New creates a server with all routes.
func New(manager *lobby.Manager, store *storage.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		manager: manager,
		store:   store,
		log:     log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /api/channels/{name}", s.handleGetChannel)
	s.mux.HandleFunc("GET /api/channels/{name}/results", s.handleResults)
	s.mux.HandleFunc("GET /api/hiscores", s.handleHiScores)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.manager.Get(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": lobby.ErrChannelNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

type resultJSON struct {
	Player string `json:"player"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.store.GetChannel(name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": lobby.ErrChannelNotFound.Error()})
			return
		}
		s.log.Errorw("get channel", "channel", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}
	rows, err := s.store.ListResults(name)
	if err != nil {
		s.log.Errorw("list results", "channel", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}
	out := make([]resultJSON, len(rows))
	for i, row := range rows {
		out[i] = resultJSON{Player: row.Player, Score: row.Score, Rank: row.Rank}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHiScores(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHiScoreLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	unique, _ := strconv.ParseBool(r.URL.Query().Get("unique"))
	scores, err := s.hiScores(limit, unique)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) hiScores(limit int, unique bool) ([]protocol.NameScore, error) {
	rows, err := s.store.TopHiScores(limit, unique)
	if err != nil {
		s.log.Errorw("top hiscores", "error", err)
		return nil, err
	}
	out := make([]protocol.NameScore, len(rows))
	for i, row := range rows {
		out[i] = protocol.NameScore{Name: row.Name, Score: row.Score}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
