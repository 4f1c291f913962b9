package router

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/fitgate/internal/engine"
)

// DefaultCooldown is how long a provider stays unavailable after a quota
// error or a second consecutive timeout.
const DefaultCooldown = 5 * time.Minute

// ErrUnknownProvider is returned for operations on an unregistered id.
var ErrUnknownProvider = errors.New("unknown provider")

// Capability distinguishes specialized fine-tuned providers from base ones.
type Capability string

const (
	Base      Capability = "base"
	FineTuned Capability = "fine_tuned"
)

// State is a provider's availability.
type State string

const (
	Available   State = "available"
	Degraded    State = "degraded"
	Unavailable State = "unavailable"
)

// Provider is a registered reasoning backend.
type Provider struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Rank       int            `json:"rank"`
	Capability Capability     `json:"capability"`
	Backend    engine.Backend `json:"-"`
}

// Stats are per-provider counters kept for observability.
type Stats struct {
	Calls       int                 `json:"calls"`
	Successes   int                 `json:"successes"`
	Failures    map[engine.Kind]int `json:"failures,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	LastSuccess time.Time           `json:"last_success,omitzero"`
}

// Status is a point-in-time view of one provider.
type Status struct {
	Provider
	State            State     `json:"state"`
	Strikes          int       `json:"strikes"`
	UnavailableUntil time.Time `json:"unavailable_until,omitzero"`
	Indefinite       bool      `json:"indefinite,omitempty"`
	Stats            Stats     `json:"stats"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	p          Provider
	state      State
	strikes    int
	until      time.Time
	indefinite bool
	stats      Stats
}

// Registry owns the provider set and every provider's availability. All
// state changes go through Report, Reset and Upsert under one mutex, so
// concurrent outcomes for the same provider are applied one at a time.
type Registry struct {
	clock    Clock
	cooldown time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	exhausted int
}

// NewRegistry creates an empty registry. cooldown <= 0 selects DefaultCooldown.
func NewRegistry(cooldown time.Duration) *Registry {
	return NewRegistryWithClock(cooldown, realClock{})
}

// NewRegistryWithClock creates a registry with a custom clock (for testing).
func NewRegistryWithClock(cooldown time.Duration, clock Clock) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		clock:    clock,
		cooldown: cooldown,
		entries:  make(map[string]*entry),
	}
}

// Upsert registers p, or replaces the provider with the same id. A replaced
// provider starts over as available with fresh counters.
func (r *Registry) Upsert(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Capability == "" {
		p.Capability = Base
	}
	r.entries[p.ID] = &entry{p: p, state: Available}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Remove unregisters id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// Reset clears strikes and marks id available, including after an auth failure.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownProvider
	}
	e.state = Available
	e.strikes = 0
	e.until = time.Time{}
	e.indefinite = false
	return nil
}

// Report applies one attempt outcome to id and returns its new state. A nil
// err is a success.
func (r *Registry) Report(id string, err error) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Unavailable
	}

	e.stats.Calls++
	if err == nil {
		e.stats.Successes++
		e.stats.LastSuccess = r.clock.Now()
		e.state = Available
		e.strikes = 0
		e.until = time.Time{}
		e.indefinite = false
		return e.state
	}

	kind := engine.KindOf(err)
	if e.stats.Failures == nil {
		e.stats.Failures = make(map[engine.Kind]int)
	}
	e.stats.Failures[kind]++
	e.stats.LastError = err.Error()

	switch kind {
	case engine.KindAuth:
		e.state = Unavailable
		e.indefinite = true
		e.until = time.Time{}
	case engine.KindQuota:
		r.coolDown(e)
	case engine.KindTimeout:
		e.strikes++
		if e.strikes >= 2 {
			r.coolDown(e)
		} else if e.state == Available {
			e.state = Degraded
		}
	case engine.KindMalformed:
		// Soft failure: availability unchanged.
	}
	return e.state
}

func (r *Registry) coolDown(e *entry) {
	e.state = Unavailable
	if !e.indefinite {
		e.until = r.clock.Now().Add(r.cooldown)
	}
}

// refresh restores providers whose cooldown has expired. Caller holds mu.
func (r *Registry) refresh() {
	now := r.clock.Now()
	for _, e := range r.entries {
		if e.state == Unavailable && !e.indefinite && !now.Before(e.until) {
			e.state = Available
			e.strikes = 0
			e.until = time.Time{}
		}
	}
}

// Plan returns the providers to try, in order: available providers first
// (fine-tuned before base, then rank, then id), then degraded ones in the
// same order. Unavailable providers are left out.
func (r *Registry) Plan() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()
	ordered := r.ordered()
	plan := make([]Provider, 0, len(ordered))
	for _, e := range ordered {
		if e.state != Unavailable {
			plan = append(plan, e.p)
		}
	}
	return plan
}

// Snapshot returns the status of every provider in plan order, unavailable
// providers last.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()
	ordered := r.ordered()
	out := make([]Status, len(ordered))
	for i, e := range ordered {
		st := e.stats
		if st.Failures != nil {
			st.Failures = make(map[engine.Kind]int, len(e.stats.Failures))
			for k, v := range e.stats.Failures {
				st.Failures[k] = v
			}
		}
		out[i] = Status{
			Provider:         e.p,
			State:            e.state,
			Strikes:          e.strikes,
			UnavailableUntil: e.until,
			Indefinite:       e.indefinite,
			Stats:            st,
		}
	}
	return out
}

// Exhausted reports how many calls ran out of providers.
func (r *Registry) Exhausted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}

func (r *Registry) recordExhausted() {
	r.mu.Lock()
	r.exhausted++
	r.mu.Unlock()
}

// ordered sorts entries by state tier, then capability, rank and id.
// Caller holds mu.
func (r *Registry) ordered() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ta, tb := tier(a.state), tier(b.state); ta != tb {
			return ta < tb
		}
		if fa, fb := a.p.Capability == FineTuned, b.p.Capability == FineTuned; fa != fb {
			return fa
		}
		if a.p.Rank != b.p.Rank {
			return a.p.Rank < b.p.Rank
		}
		return a.p.ID < b.p.ID
	})
	return out
}

func tier(s State) int {
	switch s {
	case Available:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}
