// Package scheduler runs the capture polling loop: a fixed-rate ticker that
// keeps at most one capture fetch in flight, reclaims attempts that exceed
// the timeout, and publishes the freshest frame it gets back.
package scheduler

import (
	"context"
	"sync"
	"time"

	"spyglass/internal/types"

	"github.com/google/uuid"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

// Fetcher retrieves one capture for a session. token is a cache-bust value,
// distinct per attempt.
type Fetcher interface {
	FetchCapture(ctx context.Context, sessionID, token string) ([]byte, error)
}

// Config holds everything a Scheduler needs. OnFrame and OnStatus may be
// nil. Both are invoked while the scheduler holds its internal lock, which
// serializes frame publication with the attempt state; they must not call
// back into the Scheduler.
type Config struct {
	Fetch   Fetcher
	Period  time.Duration // tick interval, default 1s
	Timeout time.Duration // per-attempt grace window, default 800ms

	OnFrame  types.FrameFunc
	OnStatus types.StatusFunc
}

const (
	DefaultPeriod  = time.Second
	DefaultTimeout = 800 * time.Millisecond
)

// Scheduler drives the polling loop for one session at a time. All of the
// attempt state (inFlight, lastRequestedAt, the armed timeout) lives behind
// one mutex; the tick path, the timeout timer and fetch completions are the
// only mutators.
type Scheduler struct {
	cfg Config

	mu              sync.Mutex
	running         bool
	sessionID       string
	inFlight        bool
	lastRequestedAt time.Time
	timeoutTimer    *time.Timer
	attempt         uint64 // bumped per issued fetch; stale callbacks compare against it

	stop chan struct{}
	done chan struct{}

	now func() time.Time // test hook
}

func New(cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Scheduler{cfg: cfg, now: time.Now}
}

// Start begins polling for the given session. It is an error-free no-op if
// the scheduler is already running.
func (s *Scheduler) Start(sessionID string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.sessionID = sessionID
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.run(stop, done)
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop halts the ticker, disarms any pending timeout and forgets the
// session. A fetch already in flight is abandoned: its completion finds the
// attempt superseded and discards the result. Safe to call when not
// running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.sessionID = ""
	s.inFlight = false
	s.attempt++ // invalidates callbacks of the abandoned attempt
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done
}

// Tick is one iteration of the polling loop. It never blocks on the
// network: the fetch runs on its own goroutine and reports back through
// the attempt number it was issued under.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.running || s.sessionID == "" {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if s.inFlight {
		if now.Sub(s.lastRequestedAt) < s.cfg.Timeout {
			// previous fetch still within its grace window
			s.mu.Unlock()
			return
		}
		// The armed timer should have reclaimed this attempt already;
		// reclaim it here so a misbehaving timer can never wedge the loop.
		s.inFlight = false
		if s.timeoutTimer != nil {
			s.timeoutTimer.Stop()
			s.timeoutTimer = nil
		}
		log.Warningf("capture attempt stalled after %v, retrying", now.Sub(s.lastRequestedAt))
		s.statusLocked(types.StatusTimeout)
	}

	s.attempt++
	attempt := s.attempt
	s.inFlight = true
	s.lastRequestedAt = now
	s.timeoutTimer = time.AfterFunc(s.cfg.Timeout, func() { s.reclaim(attempt) })
	sessionID := s.sessionID
	token := uuid.NewString()
	s.statusLocked(types.StatusDownloading)
	s.mu.Unlock()

	go s.fetch(sessionID, token, attempt)
}

// reclaim is the timeout path: the fetch neither succeeded nor failed
// within the grace window, so the attempt is written off and the next tick
// may issue a fresh one. The in-flight request itself is not canceled, only
// abandoned; if it completes later its attempt number no longer matches.
func (s *Scheduler) reclaim(attempt uint64) {
	s.mu.Lock()
	if attempt != s.attempt || !s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.timeoutTimer = nil
	s.statusLocked(types.StatusTimeout)
	s.mu.Unlock()

	log.Warningf("capture fetch timed out after %v", s.cfg.Timeout)
}

func (s *Scheduler) fetch(sessionID, token string, attempt uint64) {
	data, err := s.cfg.Fetch.FetchCapture(context.Background(), sessionID, token)

	s.mu.Lock()
	if attempt != s.attempt || !s.inFlight {
		// Timed out, superseded, or the session stopped while we were out.
		// The result is stale either way and must not touch frame or status.
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	if err != nil {
		s.statusLocked(types.StatusError)
		s.mu.Unlock()
		log.Errorf("capture fetch failed: %v", err)
		return
	}
	// Publish while still holding the lock: no tick can issue the next
	// attempt, and no newer completion can publish, until this frame has
	// been delivered. Frames therefore reach the consumer in strictly
	// increasing attempt order.
	frame := &types.Frame{Data: data, FetchedAt: s.now()}
	s.statusLocked(types.StatusIdle)
	if s.cfg.OnFrame != nil {
		s.cfg.OnFrame(frame)
	}
	s.mu.Unlock()
}

func (s *Scheduler) statusLocked(st types.Status) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st)
	}
}
