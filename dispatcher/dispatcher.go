// Package dispatcher implements the Dispatcher service: code ingest,
// result ingest, and per-bot query endpoints, per spec.md §4.I.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"lineup"
	"lineup/cmd"
	"lineup/db"
)

// maxQueryRows caps the get_part_info / latest_versions_info responses
// at 20 rows, per spec.md §4.I.
const maxQueryRows = 20

// Server is the Dispatcher's HTTP surface.
type Server struct {
	DB           *db.DB
	SchedulerURL string

	httpClient *http.Client
	httpServer *http.Server
	port       uint
}

// New returns a Server wired to d, triggering the Scheduler at
// schedulerURL after every accepted code update.
func New(d *db.DB, schedulerURL string, port uint) *Server {
	return &Server{
		DB:           d,
		SchedulerURL: schedulerURL,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		port:         port,
	}
}

// Register builds a Server from conf.Dispatcher and registers it as a
// cmd.Manager on st.
func Register(st *cmd.State, conf *cmd.Conf, d *db.DB) *Server {
	dc := conf.Dispatcher
	s := New(d, dc.SchedulerURL, dc.Port)
	st.Register(s)
	return s
}

func (s *Server) String() string { return "Dispatcher HTTP Server" }

func (s *Server) Start(st *cmd.State) {
	r := mux.NewRouter()
	r.HandleFunc("/update_code", requireAuth(s.DB, s.handleUpdateCode)).Methods(http.MethodPost)
	r.HandleFunc("/game_result", s.handleGameResult).Methods(http.MethodPost)
	r.HandleFunc("/get_part_info/", requireAuth(s.DB, s.handleGetPartInfo)).Methods(http.MethodGet)
	r.HandleFunc("/latest_versions_info/", requireAuth(s.DB, s.handleLatestVersionsInfo)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: r,
	}
	lineup.Debug.Printf("dispatcher listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Print(err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Print(err)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type updateCodeRequest struct {
	Source  string `json:"source"`
	ClsName string `json:"cls_name"`
}

type updateCodeResponse struct {
	Updated bool `json:"updated"`
}

// handleUpdateCode compares the submitted code against the bot's latest
// CodeVersion; an identical resubmission is a no-op. A genuine change
// inserts a new CodeVersion, clears suspension, and triggers a
// Scheduler pass, per spec.md §4.I.
func (s *Server) handleUpdateCode(w http.ResponseWriter, r *http.Request) {
	bot := botFromContext(r.Context())

	var req updateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}

	latest, err := s.DB.LatestCodeVersion(r.Context(), bot.Id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if latest != nil && latest.Source == req.Source && latest.ClsName == req.ClsName {
		writeJSON(w, http.StatusOK, updateCodeResponse{Updated: false})
		return
	}

	if _, err := s.DB.InsertCodeVersionAndUnsuspend(r.Context(), bot.Id, req.Source, req.ClsName); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.triggerScheduler()
	writeJSON(w, http.StatusOK, updateCodeResponse{Updated: true})
}

func (s *Server) triggerScheduler() {
	if s.SchedulerURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.SchedulerURL, nil)
	if err != nil {
		log.Print(err)
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Print(err)
		return
	}
	resp.Body.Close()
}

// handleGameResult accepts a GameLog and schedules save_game_result as a
// background task, returning 202 immediately per spec.md §4.I. No auth:
// the Runner, not a bot, is the caller, and the GameLog's game_id is
// itself the Scheduler-issued capability.
func (s *Server) handleGameResult(w http.ResponseWriter, r *http.Request) {
	var gameLog lineup.GameLog
	if err := json.NewDecoder(r.Body).Decode(&gameLog); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go func() {
		if err := s.DB.SaveGameResult(context.Background(), &gameLog); err != nil {
			log.Print(err)
		}
	}()
}

// handleGetPartInfo returns up to maxQueryRows of the authenticated
// bot's finished participations created after the ?after= query
// parameter (RFC3339; omitted means no lower bound), ascending.
func (s *Server) handleGetPartInfo(w http.ResponseWriter, r *http.Request) {
	bot := botFromContext(r.Context())

	after, err := parseAfter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.DB.ParticipantInfo(r.Context(), bot.Id, after, maxQueryRows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleLatestVersionsInfo returns up to maxQueryRows of the
// authenticated bot's most recent CodeVersions, oldest first, each
// annotated with either a crash or aggregate stats.
func (s *Server) handleLatestVersionsInfo(w http.ResponseWriter, r *http.Request) {
	bot := botFromContext(r.Context())

	rows, err := s.DB.LatestVersionsInfo(r.Context(), bot.Id, maxQueryRows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseAfter(q url.Values) (time.Time, error) {
	raw := q.Get("after")
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Print(err)
	}
}
