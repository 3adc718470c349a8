// Package quota tracks per-provider daily call budgets.
//
// The ledger is a soft budget: Allow and Record are individually
// synchronized but not atomic as a pair, so concurrent callers may
// overshoot a limit by the number of calls already in flight.
package quota

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// Provider keys for quota-bearing calls.
const (
	Gemini            = "gemini"
	OpenAI            = "openai"
	Anthropic         = "anthropic"
	Polygon           = "polygon"
	AlphaVantage      = "alphavantage"
	AlphaVantageQuote = "alphavantage_quote"
	Finnhub           = "finnhub"
)

// Unbounded marks a provider without a daily limit.
const Unbounded = 0

// State is the usage counter for one provider.
type State struct {
	CallsMade  int    `json:"calls_made"`
	LastReset  string `json:"last_reset"` // 2006-01-02 in the ledger's zone
	DailyLimit int    `json:"daily_limit"`
}

// Remaining returns calls left today, or -1 when unbounded.
func (s State) Remaining() int {
	if s.DailyLimit <= Unbounded {
		return -1
	}
	if left := s.DailyLimit - s.CallsMade; left > 0 {
		return left
	}
	return 0
}

// Store persists ledger state between process restarts.
type Store interface {
	Load() (map[string]State, error)
	Save(provider string, st State) error
}

// Ledger is a concurrency-safe collection of per-provider counters.
type Ledger struct {
	mu     sync.Mutex
	states map[string]*State
	limits map[string]int
	loc    *time.Location
	now    func() time.Time
	store  Store
	log    *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the zone whose midnight resets the counters.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithStore attaches persistent storage. Saved state is loaded immediately.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// New creates a ledger with the given daily limits. Providers missing
// from limits, or mapped to a value <= 0, are unbounded.
func New(limits map[string]int, opts ...Option) *Ledger {
	l := &Ledger{
		states: make(map[string]*State),
		limits: make(map[string]int, len(limits)),
		loc:    utils.IST,
		now:    time.Now,
		log:    logging.For("quota"),
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	l.restore()
	return l
}

// Allow reports whether provider still has budget today. The first
// check after the date advances zeroes the counter.
func (l *Ledger) Allow(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(provider)
	if st.DailyLimit <= Unbounded {
		return true
	}
	return st.CallsMade < st.DailyLimit
}

// Record counts one call against provider.
func (l *Ledger) Record(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(provider)
	st.CallsMade++
	l.persistLocked(provider, st)
}

// Exhaust marks provider as out of budget for the rest of the day. It is
// used when the provider itself reports a quota or rate-limit error.
func (l *Ledger) Exhaust(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(provider)
	if st.DailyLimit <= Unbounded || st.CallsMade >= st.DailyLimit {
		return
	}
	st.CallsMade = st.DailyLimit
	l.persistLocked(provider, st)
	l.log.Warn("provider budget exhausted", "provider", provider, "limit", st.DailyLimit)
}

// Remaining returns the calls left today for provider, or -1 when unbounded.
func (l *Ledger) Remaining(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(provider).Remaining()
}

// Limited reports whether provider has a finite daily limit.
func (l *Ledger) Limited(provider string) bool {
	return l.limits[provider] > Unbounded
}

// Snapshot returns a copy of all known counters, reset for today.
func (l *Ledger) Snapshot() map[string]State {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name := range l.limits {
		l.stateLocked(name)
	}
	out := make(map[string]State, len(l.states))
	for name, st := range l.states {
		out[name] = *st
	}
	return out
}

// Providers returns the sorted names of all configured providers.
func (l *Ledger) Providers() []string {
	names := make([]string, 0, len(l.limits))
	for name := range l.limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── Internal Helpers ──

// stateLocked returns the current-day state for provider. Must be called with mu held.
func (l *Ledger) stateLocked(provider string) *State {
	today := utils.DateIn(l.now(), l.loc)
	st, ok := l.states[provider]
	if !ok {
		st = &State{LastReset: today, DailyLimit: l.limits[provider]}
		l.states[provider] = st
		return st
	}
	if st.LastReset < today {
		st.CallsMade = 0
		st.LastReset = today
	}
	return st
}

func (l *Ledger) persistLocked(provider string, st *State) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(provider, *st); err != nil {
		l.log.Warn("persist quota state failed", "provider", provider, "error", err)
	}
}

// restore loads persisted counters. Limits always come from configuration,
// never from storage, so a lowered limit takes effect immediately.
func (l *Ledger) restore() {
	if l.store == nil {
		return
	}
	saved, err := l.store.Load()
	if err != nil {
		l.log.Warn("load quota state failed", "error", err)
		return
	}
	for name, st := range saved {
		st := st
		st.DailyLimit = l.limits[name]
		l.states[name] = &st
	}
}
