package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/san-kum/stepsim/internal/logger"
	"github.com/san-kum/stepsim/internal/logger/tag"
	"github.com/san-kum/stepsim/internal/schedule"
)

// Observer is invoked at the steps chosen by its scheduler, with the
// arguments captured at registration. Returning a *Stop (see Halt) ends the
// run successfully; any other error fails it.
type Observer interface {
	Observe(ctx context.Context, s *Simulation, args ...any) error
}

type ObserverFunc func(ctx context.Context, s *Simulation, args ...any) error

func (f ObserverFunc) Observe(ctx context.Context, s *Simulation, args ...any) error {
	return f(ctx, s, args...)
}

// Clearer is implemented by observers that can remove their own output
// before a fresh run.
type Clearer interface {
	Clear(s *Simulation) error
}

// Resetter is implemented by observers with transient per-run state, such
// as throughput meters. Reset is called at the start of every run.
type Resetter interface {
	Reset(s *Simulation)
}

type Entry struct {
	Key       string
	Kind      Kind
	Observer  Observer
	Scheduler *schedule.Scheduler
	Args      []any
}

// Wakeup is the nearest step any observer needs and the observers due there.
type Wakeup struct {
	Step int
	Due  []*Entry
}

// Registry holds observers keyed by name, iterated by kind rank and, within
// a rank, by registration order.
type Registry struct {
	entries map[string]*Entry
	order   []string
	log     logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		log:     log,
	}
}

// Register adds obs under key, replacing any previous registration of the
// same key in place. A changed kind moves the entry to its new class.
func (r *Registry) Register(key string, kind Kind, obs Observer, sch *schedule.Scheduler, args ...any) error {
	if obs == nil {
		return ErrNilObserver
	}
	if sch == nil {
		return ErrNilScheduler
	}

	entry := &Entry{Key: key, Kind: kind, Observer: obs, Scheduler: sch, Args: args}
	if old, ok := r.entries[key]; ok {
		r.entries[key] = entry
		if old.Kind.rank() == kind.rank() {
			return nil
		}
		r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
	}
	r.entries[key] = entry

	// Insert after the last entry of the same or lower rank.
	at := len(r.order)
	for i, k := range r.order {
		if r.entries[k].Kind.rank() > kind.rank() {
			at = i
			break
		}
	}
	r.order = slices.Insert(r.order, at, key)
	return nil
}

// RegisterEvery is Register with a fixed-interval scheduler.
func (r *Registry) RegisterEvery(key string, kind Kind, obs Observer, interval int, args ...any) error {
	return r.Register(key, kind, obs, schedule.Every(interval), args...)
}

// Unregister removes key. Removing an absent key is not an error.
func (r *Registry) Unregister(key string) bool {
	if _, ok := r.entries[key]; !ok {
		r.log.Debug("attempt to remove inexistent observer", tag.Observer(key))
		return false
	}
	delete(r.entries, key)
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
	return true
}

func (r *Registry) Get(key string) (*Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

func (r *Registry) Len() int { return len(r.order) }

// Entries returns all entries in firing order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Filter returns the entries for which keep is true, in firing order.
func (r *Registry) Filter(keep func(*Entry) bool) []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, k := range r.order {
		if e := r.entries[k]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Next computes the nearest wake-up step after current across every entry
// and the extra schedulers given, and collects the entries due there.
// Extra schedulers take part in the minimum but never appear in Due.
func (r *Registry) Next(current int, extra ...*schedule.Scheduler) (Wakeup, error) {
	if len(r.order) == 0 {
		return Wakeup{}, ErrNoObservers
	}

	steps := make([]int, len(r.order))
	wake := Wakeup{Step: -1}
	for i, k := range r.order {
		n, err := r.entries[k].Scheduler.Next(current)
		if err != nil {
			return Wakeup{}, &ConfigError{Observer: k, Err: err}
		}
		steps[i] = n
		if wake.Step < 0 || n < wake.Step {
			wake.Step = n
		}
	}
	for _, sch := range extra {
		n, err := sch.Next(current)
		if err != nil {
			return Wakeup{}, &ConfigError{Err: err}
		}
		wake.Step = min(wake.Step, n)
	}

	for i, k := range r.order {
		if steps[i] == wake.Step {
			wake.Due = append(wake.Due, r.entries[k])
		}
	}
	return wake, nil
}

// Notify invokes entries in the order given. The first termination signal
// is returned as stop; any other observer error is returned as err. Either
// one ends the pass.
func (r *Registry) Notify(ctx context.Context, s *Simulation, entries []*Entry) (stop *Stop, err error) {
	for _, e := range entries {
		r.log.With(tag.Observer(e.Key), tag.Kind(e.Kind.String())).Debugf("notify %s at step %d", e.Key, s.CurrentStep())
		if err := e.Observer.Observe(ctx, s, e.Args...); err != nil {
			if errors.As(err, &stop) {
				return stop, nil
			}
			return nil, fmt.Errorf("sim: observer %s: %w", e.Key, err)
		}
	}
	return nil, nil
}
