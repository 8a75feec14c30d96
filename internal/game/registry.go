package game

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	pinMin = 100000
	pinMax = 999999

	maxPINAttempts = 10000
)

type Config struct {
	EventBus *event.Bus
	Clock    clockwork.Clock

	// TimeLimit is used for sessions created without one.
	TimeLimit int

	// FinishedTTL is how long a finished session stays readable before it is evicted.
	FinishedTTL time.Duration
	// IdleTTL evicts sessions that received no event for that long, whatever their phase.
	IdleTTL time.Duration

	// NewPIN overrides the PIN generator, mostly for tests.
	NewPIN func() (string, error)
}

// Registry holds the live sessions keyed by PIN.
type Registry struct {
	eb          *event.Bus
	clock       clockwork.Clock
	timeLimit   int
	finishedTTL time.Duration
	idleTTL     time.Duration
	newPIN      func() (string, error)

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(c Config) *Registry {
	r := &Registry{
		eb:          c.EventBus,
		clock:       c.Clock,
		timeLimit:   c.TimeLimit,
		finishedTTL: c.FinishedTTL,
		idleTTL:     c.IdleTTL,
		newPIN:      c.NewPIN,
		sessions:    make(map[string]*Session),
	}

	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.timeLimit <= 0 {
		r.timeLimit = domain.DefaultTimeLimit
	}
	if r.newPIN == nil {
		r.newPIN = randomPIN
	}

	return r
}

// Create registers a new session in the lobby and returns its PIN.
func (r *Registry) Create(ctx context.Context, questions []domain.Question, timeLimit int) (string, error) {
	if err := domain.ValidateQuestions(questions); err != nil {
		return "", err
	}
	if timeLimit <= 0 {
		timeLimit = r.timeLimit
	}

	r.mu.Lock()
	pin, err := r.reservePIN()
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.sessions[pin] = newSession(pin, questions, timeLimit, r.clock)
	r.mu.Unlock()

	slog.InfoContext(ctx, "game: session created", "pin", pin, "questions", len(questions), "time_limit", timeLimit)

	r.eb.Publish(ctx, domain.EventSessionCreated{
		PIN:            pin,
		QuestionsCount: len(questions),
		TimeLimit:      timeLimit,
	})

	return pin, nil
}

// reservePIN draws PINs until one is free. Caller must hold r.mu.
func (r *Registry) reservePIN() (string, error) {
	for i := 0; i < maxPINAttempts; i++ {
		pin, err := r.newPIN()
		if err != nil {
			return "", errors.Internal(fmt.Errorf("generate pin: %w", err))
		}
		if _, taken := r.sessions[pin]; !taken {
			return pin, nil
		}
	}

	return "", errors.New(errors.CodeInternal, errors.WithMessagef("no free pin after %d attempts", maxPINAttempts))
}

// Get returns the session with the given PIN.
func (r *Registry) Get(pin string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[pin]
	if !ok {
		return nil, errors.NotFound("game %s not found", pin)
	}
	return s, nil
}

// Remove drops a session, reporting whether it existed.
func (r *Registry) Remove(pin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[pin]
	delete(r.sessions, pin)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Sweep evicts finished sessions older than FinishedTTL and sessions idle for longer than IdleTTL.
// It returns the evicted PINs. A zero TTL disables the corresponding rule.
func (r *Registry) Sweep(ctx context.Context) []string {
	now := r.clock.Now()

	var expired []domain.EventSessionExpired

	r.mu.Lock()
	for pin, s := range r.sessions {
		s.mu.Lock()
		phase, finishedAt, idle := s.phase, s.finishedAt, s.idleSince()
		s.mu.Unlock()

		evict := (r.finishedTTL > 0 && phase == domain.PhaseFinished && now.Sub(finishedAt) >= r.finishedTTL) ||
			(r.idleTTL > 0 && now.Sub(idle) >= r.idleTTL)
		if !evict {
			continue
		}

		delete(r.sessions, pin)
		expired = append(expired, domain.EventSessionExpired{PIN: pin, Phase: phase})
	}
	r.mu.Unlock()

	pins := make([]string, 0, len(expired))
	for _, e := range expired {
		slog.InfoContext(ctx, "game: session evicted", "pin", e.PIN, "phase", e.Phase)
		r.eb.Publish(ctx, e)
		pins = append(pins, e.PIN)
	}

	return pins
}

// Run sweeps the registry every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := r.clock.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			r.Sweep(ctx)
		}
	}
}

func randomPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinMax-pinMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+pinMin), nil
}
