package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"lineup"
)

// Manager is anything a service binary starts and later shuts down in
// reverse registration order — an HTTP server, a background worker, a
// database handle.
type Manager interface {
	fmt.Stringer
	Start(*State)
	Shutdown()
}

// State is the shared run context for one service binary: a cancellable
// context plus the ordered list of Managers it owns.
type State struct {
	Context context.Context
	Kill    context.CancelFunc
	Running bool

	Conf     Conf
	Managers []Manager
}

// MakeState constructs a State bound to conf with a fresh cancellable
// context.
func MakeState(conf Conf) *State {
	ctx, kill := context.WithCancel(context.Background())
	return &State{
		Context: ctx,
		Kill:    kill,
		Conf:    conf,
	}
}

// Register adds m to the managed set. Must be called before Start.
func (st *State) Register(m Manager) {
	if st.Running {
		panic(fmt.Sprintf("late register: %#v", m))
	}
	st.Managers = append(st.Managers, m)
}

// Start launches every registered Manager in its own goroutine, then
// blocks until SIGINT or st.Kill, shutting managers down in reverse
// registration order.
func (st *State) Start() {
	for _, m := range st.Managers {
		log.Printf("starting %s", m)
		go m.Start(st)
	}
	st.Running = true

	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	select {
	case <-intr:
		log.Println("caught interrupt")
	case <-st.Context.Done():
		log.Println("requested shutdown")
	}

	done := make(chan struct{})
	go func() {
		lineup.Debug.Println("waiting for managers to shut down...")
		for i := len(st.Managers) - 1; i >= 0; i-- {
			m := st.Managers[i]
			log.Printf("shutting %s down", m)
			m.Shutdown()
		}
		done <- struct{}{}
	}()

	select {
	case <-intr:
		log.Println("forced shutdown")
	case <-done:
		log.Println("shut down regularly")
	}
}
