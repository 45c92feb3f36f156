// Package session hosts adaptive controllers for many concurrent training
// runs. Each session owns one controller and serialises access to it.
package session

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned when the registry is full.
	ErrCapacity = errors.New("session capacity reached")
)

// Observer is informed after every step and when a session is deleted.
type Observer interface {
	Observe(id string, prev, cur adaptive.State)
	Forget(id string)
}

// Summary describes the metric history of a session. Statistics over an
// empty history are NaN.
type Summary struct {
	Observations int
	Mean         float64
	StdDev       float64
	Min          float64
	Max          float64
	Last         float64
}

// Snapshot is a consistent copy of a session.
type Snapshot struct {
	ID      string
	Config  adaptive.Config
	State   adaptive.State
	Created time.Time
	Updated time.Time
	Summary Summary
}

type session struct {
	id      string
	created time.Time

	mu      sync.Mutex
	ctrl    *adaptive.Controller
	history []float64
	updated time.Time
}

func (s *session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:      s.id,
		Config:  s.ctrl.Config(),
		State:   s.ctrl.State(),
		Created: s.created,
		Updated: s.updated,
		Summary: summarize(s.history),
	}
}

// summarize skips NaN observations.
func summarize(history []float64) Summary {
	values := make([]float64, 0, len(history))
	for _, v := range history {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	sum := Summary{
		Observations: len(history),
		Mean:         math.NaN(),
		StdDev:       math.NaN(),
		Min:          math.NaN(),
		Max:          math.NaN(),
		Last:         math.NaN(),
	}
	if len(history) > 0 {
		sum.Last = history[len(history)-1]
	}
	if len(values) == 0 {
		return sum
	}
	sum.Min = floats.Min(values)
	sum.Max = floats.Max(values)
	if len(values) == 1 {
		sum.Mean = values[0]
		sum.StdDev = 0
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(values, nil)
	return sum
}

// Registry stores sessions by id.
type Registry struct {
	capacity    int
	observer    Observer
	newNotifier func(id string) adaptive.Notifier
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCapacity limits the number of live sessions. Zero means unlimited.
func WithCapacity(n int) RegistryOption {
	return func(r *Registry) { r.capacity = n }
}

// WithObserver installs an observer, such as a metrics collector.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// WithNotifierFactory builds the notice sink for each new session.
func WithNotifierFactory(f func(id string) adaptive.Notifier) RegistryOption {
	return func(r *Registry) { r.newNotifier = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create builds a controller from cfg and stores it under a new id.
func (r *Registry) Create(cfg adaptive.Config) (Snapshot, error) {
	id := uuid.NewString()

	var opts []adaptive.Option
	if r.newNotifier != nil {
		if n := r.newNotifier(id); n != nil {
			opts = append(opts, adaptive.WithNotifier(n))
		}
	}
	ctrl, err := adaptive.New(cfg, opts...)
	if err != nil {
		return Snapshot{}, err
	}

	now := r.now()
	s := &session{id: id, created: now, updated: now, ctrl: ctrl}
	snap := s.snapshotLocked()

	r.mu.Lock()
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		r.mu.Unlock()
		return Snapshot{}, ErrCapacity
	}
	r.sessions[id] = s
	r.mu.Unlock()

	return snap, nil
}

func (r *Registry) lookup(id string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Step feeds metric into session id. A nil epoch auto-increments.
func (r *Registry) Step(id string, metric float64, epoch *int) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.ctrl.State()
	if epoch != nil {
		s.ctrl.StepAt(metric, *epoch)
	} else {
		s.ctrl.Step(metric)
	}
	s.history = append(s.history, metric)
	s.updated = r.now()

	if r.observer != nil {
		r.observer.Observe(id, prev, s.ctrl.State())
	}
	return s.snapshotLocked(), nil
}

// Get returns a snapshot of session id.
func (r *Registry) Get(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.snapshotLocked())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Delete removes session id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if r.observer != nil {
		r.observer.Forget(id)
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close removes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	if r.observer != nil {
		for _, id := range ids {
			r.observer.Forget(id)
		}
	}
	return nil
}
