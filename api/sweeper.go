/*
sweeper.go - Response window sweeper

PURPOSE:
  Offers that nobody answers would hold a slot forever. The sweeper
  periodically releases pending offers older than the response window
  so the slot can be offered to someone else.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates to allocation.Engine.SweepExpired for each role
  - Each release is its own atomic section; a fulfiller accepting at the
    same moment wins or loses cleanly

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Window: How long an offer may stay pending (default: 15 minutes)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweeper(handler)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - allocation/sweep.go: SweepExpired
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/fulfillment-engine/generic"
)

// Sweeper releases expired offers on a timer.
type Sweeper struct {
	Handler       *Handler
	CheckInterval time.Duration
	Window        time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper using the handler's response window.
func NewSweeper(handler *Handler) *Sweeper {
	return &Sweeper{
		Handler:       handler,
		CheckInterval: time.Minute,
		Window:        handler.ResponseWindow,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval %v, window %v", s.CheckInterval, s.Window)
}

// Stop stops the sweeper and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one pass over both roles and returns the released rows.
func (s *Sweeper) RunNow(ctx context.Context) []generic.Assignment {
	released, err := s.Handler.sweep(ctx, generic.Roles, s.Window)
	if err != nil {
		log.Printf("[Sweeper] Error: %v", err)
	}
	if len(released) > 0 {
		log.Printf("[Sweeper] Released %d expired offers", len(released))
	}
	return released
}
