// Package runner implements the Runner service: it accepts a RunGameTask
// over HTTP, plays the match behind a sandbox.Executor, and reports the
// resulting GameLog back to the task's callback URL, per spec.md §4.D.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"lineup"
	"lineup/cmd"
	"lineup/engine"
	"lineup/sandbox"
)

// Server is the Runner's HTTP surface plus the single-consumer callback
// queue behind it.
type Server struct {
	Executor sandbox.Executor
	Width    int
	Height   int

	poster     *poster
	httpServer *http.Server
	port       uint
}

// New returns a Server that plays games with ex on a Width x Height board
// and posts callbacks with the given per-request timeout.
func New(ex sandbox.Executor, width, height int, port uint, callbackTimeout time.Duration) *Server {
	return &Server{
		Executor: ex,
		Width:    width,
		Height:   height,
		poster:   newPoster(callbackTimeout),
		port:     port,
	}
}

// Register builds a Server from conf.Runner and registers it as a
// cmd.Manager on st.
func Register(st *cmd.State, conf *cmd.Conf, ex sandbox.Executor) *Server {
	rc := conf.Runner
	s := New(ex, int(rc.BoardWidth), int(rc.BoardHeight), rc.Port, rc.CallbackTimeout)
	st.Register(s)
	return s
}

func (s *Server) String() string { return "Runner HTTP Server" }

func (s *Server) Start(st *cmd.State) {
	go s.poster.run(st.Context)

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRunGame).Methods(http.MethodPost)
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: r,
	}
	lineup.Debug.Printf("runner listening on %s", s.httpServer.Addr)
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

// handleRunGame decodes a RunGameTask, validates its game_id is a UUID,
// acknowledges with 202, and runs the match in the background.
func (s *Server) handleRunGame(w http.ResponseWriter, r *http.Request) {
	var task lineup.RunGameTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "malformed task: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(task.GameId); err != nil {
		http.Error(w, "game_id is not a valid uuid", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go s.play(task)
}

func (s *Server) play(task lineup.RunGameTask) {
	gameLog := engine.Play(task.GameId, task.BlueCode, task.RedCode, s.Executor, s.Width, s.Height)
	s.poster.enqueue(task.Callback, gameLog)
}
