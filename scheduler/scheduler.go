// Package scheduler implements the Scheduler service: a single-flight
// "trigger" endpoint that runs a matchmaking pass, dispatching one
// RunGameTask per pair to the Runner through a leaky-bucket limiter, per
// spec.md §4.G.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"lineup"
	"lineup/bucket"
	"lineup/cmd"
	"lineup/db"
	"lineup/matchmaker"
)

// Server is the Scheduler's HTTP surface plus its single-flight pass
// state.
type Server struct {
	DB            *db.DB
	Matchmaker    *matchmaker.Matchmaker
	Bucket        *bucket.Bucket
	RunnerURL     string
	DispatcherURL string // the Dispatcher's /game_result endpoint, used as the RunGameTask callback

	httpClient *http.Client
	httpServer *http.Server
	port       uint

	// done is the single-flight flag: false means a trigger has arrived
	// that no pass has picked up yet. running is true while a schedule
	// goroutine is executing passes. Both are only read/written under mu.
	mu      sync.Mutex
	done    bool
	running bool

	passes int64 // for tests/observability only
}

// New returns a Server wired to d, mm and a bucket with the given burst
// size and replenishment rate, dispatching to runnerURL and reporting
// results to dispatcherURL.
func New(d *db.DB, mm *matchmaker.Matchmaker, bucketSize, requestsPerMinute uint, runnerURL, dispatcherURL string, port uint) *Server {
	return &Server{
		DB:            d,
		Matchmaker:    mm,
		Bucket:        bucket.New(bucketSize, requestsPerMinute),
		RunnerURL:     runnerURL,
		DispatcherURL: dispatcherURL,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		port:          port,
		done:          true,
	}
}

// Register builds a Server from conf.Scheduler and registers it as a
// cmd.Manager on st.
func Register(st *cmd.State, conf *cmd.Conf, d *db.DB) *Server {
	sc := conf.Scheduler
	mm := matchmaker.New(d, int(sc.MinGamesPerVersion), int(sc.MaxGamesToSchedule), int(sc.MaxBotsToSchedule))
	s := New(d, mm, sc.BucketSize, sc.RequestsPerMinute, sc.RunnerURL, sc.DispatcherURL, sc.Port)
	st.Register(s)
	return s
}

func (s *Server) String() string { return "Scheduler HTTP Server" }

func (s *Server) Start(st *cmd.State) {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleTrigger(st.Context)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: r,
	}
	lineup.Debug.Printf("scheduler listening on %s", s.httpServer.Addr)
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

// handleTrigger sets done=false and launches schedule in the background,
// returning 202 immediately regardless of whether this trigger ends up
// starting a pass or coalescing into an already-running one.
func (s *Server) handleTrigger(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.done = false
		s.mu.Unlock()

		go s.schedule(ctx)

		w.WriteHeader(http.StatusAccepted)
	}
}

// schedule is the single-flight pass entry point: only one schedule
// goroutine is ever "in" at a time. A burst of triggers while a pass is
// in flight is collapsed into at most one extra pass: trigger clears done
// before each call, a schedule call that finds a pass running returns at
// once, and the running goroutine starts one more pass if it finds done
// cleared when the current pass finishes.
func (s *Server) schedule(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.done {
		s.mu.Unlock()
		return
	}
	s.running = true
	for !s.done {
		s.done = true
		s.mu.Unlock()

		s.runPass(ctx)
		atomic.AddInt64(&s.passes, 1)

		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}

// runPass enumerates pairs from the Matchmaker and, for each, creates the
// Game/Participant rows, then dispatches a RunGameTask to the Runner
// through the leaky bucket. A single pair's failure (throttle
// cancellation, Runner unreachable) is logged and does not abort the
// rest of the pass.
func (s *Server) runPass(ctx context.Context) {
	pairs, err := s.Matchmaker.Pairs(ctx)
	if err != nil {
		log.Print(err)
		return
	}

	for _, pair := range pairs {
		if err := s.Bucket.Throttle(ctx); err != nil {
			log.Print(err)
			continue
		}
		if err := s.dispatch(ctx, pair); err != nil {
			log.Print(err)
			continue
		}
	}
}

// dispatch creates the Game + Participant rows for pair, then posts a
// RunGameTask carrying both bots' latest code to the Runner. The Game
// row is always created before the task is posted, per spec.md §5.
func (s *Server) dispatch(ctx context.Context, pair matchmaker.Pair) error {
	game, err := s.DB.CreateGameWithParticipants(ctx, pair.Blue.Id, pair.Red.Id)
	if err != nil {
		return err
	}

	blueCode, err := s.DB.LatestCodeVersion(ctx, pair.Blue.Id)
	if err != nil {
		return err
	}
	redCode, err := s.DB.LatestCodeVersion(ctx, pair.Red.Id)
	if err != nil {
		return err
	}

	task := lineup.RunGameTask{
		GameId:   game.Id,
		Callback: s.DispatcherURL,
		BlueCode: lineup.Code{Source: blueCode.Source, ClsName: blueCode.ClsName},
		RedCode:  lineup.Code{Source: redCode.Source, ClsName: redCode.ClsName},
	}
	return s.postTask(ctx, task)
}

func (s *Server) postTask(ctx context.Context, task lineup.RunGameTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.RunnerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("runner returned %d", resp.StatusCode)
	}
	return nil
}
