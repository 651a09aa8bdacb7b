package player

import (
	"sync"
	"time"
)

// State is the lifecycle phase of one handoff session.
type State string

const (
	StateLaunching            State = "launching"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateFallbackTriggered    State = "fallback_triggered"
)

// DefaultConfirmTimeout is how long a launch waits for confirmation before
// the fallback fires.
const DefaultConfirmTimeout = 2 * time.Second

// Session tracks one external player launch. The launch is considered
// confirmed when the player's x-success callback (or any explicit user
// signal) arrives before the timeout; otherwise the fallback action runs
// exactly once.
type Session struct {
	mu       sync.Mutex
	state    State
	timer    *time.Timer
	player   Player
	link     string
	onExpire func()
}

// NewSession creates a session in the launching state.
func NewSession(p Player, link string) *Session {
	return &Session{state: StateLaunching, player: p, link: link}
}

// Player returns the player this session launched.
func (s *Session) Player() Player { return s.player }

// Link returns the deep link handed to the player.
func (s *Session) Link() string { return s.link }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Await arms the confirmation timeout. onExpire runs once if Confirm does
// not arrive within timeout. Calling Await on a session past launching is a
// no-op.
func (s *Session) Await(timeout time.Duration, onExpire func()) {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLaunching {
		return
	}
	s.state = StateAwaitingConfirmation
	s.onExpire = onExpire
	s.timer = time.AfterFunc(timeout, s.expire)
}

// Confirm marks the launch successful and disarms the fallback. It reports
// whether the confirmation was in time.
func (s *Session) Confirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLaunching && s.state != StateAwaitingConfirmation {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = StateConfirmed
	return true
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return
	}
	s.state = StateFallbackTriggered
	onExpire := s.onExpire
	s.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}
