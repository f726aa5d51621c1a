// Package pool holds the collection of Kiro accounts, implements the
// least-used selection policy, and tracks per-account failure/cooldown
// state, per spec.md §4.4.
package pool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrNoHealthyAccount is returned by Pick when no entry is eligible.
var ErrNoHealthyAccount = errors.New("pool: no healthy account")

// AccountEntry is one account's pool-visible state, per spec.md §3.
type AccountEntry struct {
	Name                string
	RequestCount        uint64
	FailureCount        int
	InPool              bool
	CooldownUntil       time.Time
	PermanentlyDisabled bool
	LastUsed            time.Time
}

// eligible reports whether e may currently be selected.
func (e *AccountEntry) eligible(now time.Time) bool {
	if !e.InPool || e.PermanentlyDisabled {
		return false
	}
	return !e.CooldownUntil.After(now)
}

// Config governs failure accounting thresholds (spec.md §6).
type Config struct {
	FailureCooldown time.Duration
	MaxFailures     int
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{FailureCooldown: 60 * time.Second, MaxFailures: 5}
}

// Pool holds every account under a single mutex — contention is low and the
// per-request critical section is O(N) over a small N (spec.md §5).
type Pool struct {
	mu      sync.Mutex
	entries map[string]*AccountEntry
	order   []string // stable iteration order for deterministic tie-breaking/admin listing

	cfg Config
	log *logrus.Entry

	gaugeSize      prometheus.Gauge
	gaugeCooldown  prometheus.Gauge
	gaugeDisabled  prometheus.Gauge
	counterPicks   prometheus.Counter
	counterFailure prometheus.Counter
}

// New constructs an empty Pool. reg may be nil to skip metrics registration
// (e.g. in unit tests that construct multiple Pools in one process).
func New(cfg Config, reg prometheus.Registerer) *Pool {
	p := &Pool{
		entries: make(map[string]*AccountEntry),
		cfg:     cfg,
		log:     logrus.WithField("component", "pool"),

		gaugeSize:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "kiroproxy_pool_size", Help: "Total accounts in the pool."}),
		gaugeCooldown:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "kiroproxy_pool_cooldown", Help: "Accounts currently in cooldown."}),
		gaugeDisabled:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "kiroproxy_pool_disabled", Help: "Accounts permanently disabled."}),
		counterPicks:   prometheus.NewCounter(prometheus.CounterOpts{Name: "kiroproxy_pool_picks_total", Help: "Total successful account picks."}),
		counterFailure: prometheus.NewCounter(prometheus.CounterOpts{Name: "kiroproxy_pool_failures_total", Help: "Total failures accounted against accounts."}),
	}
	if reg != nil {
		reg.MustRegister(p.gaugeSize, p.gaugeCooldown, p.gaugeDisabled, p.counterPicks, p.counterFailure)
	}
	return p
}

// Add registers a new account, eligible for selection immediately.
func (p *Pool) Add(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[name]; exists {
		return
	}
	p.entries[name] = &AccountEntry{Name: name, InPool: true}
	p.order = append(p.order, name)
	p.observeLocked()
}

// Remove drops an account from the pool entirely (admin "remove" mutation).
func (p *Pool) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[name]; !ok {
		return false
	}
	delete(p.entries, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.observeLocked()
	return true
}

// Pick selects the eligible entry with the smallest request_count, breaking
// ties by the smallest last_used, per spec.md §3/§4.4/§8 Scenario 2. On
// selection it atomically increments request_count and sets last_used=now.
func (p *Pool) Pick() (*AccountEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var best *AccountEntry
	for _, name := range p.order {
		e := p.entries[name]
		if !e.eligible(now) {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNoHealthyAccount
	}

	best.RequestCount++
	best.LastUsed = now
	p.counterPicks.Inc()

	snapshot := *best
	return &snapshot, nil
}

// less implements the selection key's lexicographic order: request_count
// ascending, then last_used ascending.
func less(a, b *AccountEntry) bool {
	if a.RequestCount != b.RequestCount {
		return a.RequestCount < b.RequestCount
	}
	return a.LastUsed.Before(b.LastUsed)
}

// ReportSuccess resets an account's failure state after a successful
// request, per spec.md §4.4's recovery rule.
func (p *Pool) ReportSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return
	}
	e.FailureCount = 0
	e.CooldownUntil = time.Time{}
}

// ReportFailure accounts a failure against name: increments failure_count,
// and either permanently disables the account (at max_failures) or sets a
// cooldown window, per spec.md §4.4.
func (p *Pool) ReportFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return
	}
	e.FailureCount++
	p.counterFailure.Inc()
	if e.FailureCount >= p.cfg.MaxFailures {
		e.PermanentlyDisabled = true
		p.log.WithField("account", name).Warn("account permanently disabled after repeated failures")
	} else {
		e.CooldownUntil = time.Now().Add(p.cfg.FailureCooldown)
	}
	p.observeLocked()
}

// ReportCooldown sets a cooldown window without contributing to the
// permanent-disable threshold — used for RateLimited errors, which are
// expected to recur and clear rather than indicate a broken account
// (spec.md §7's PoolEffectCooldown, mirrored in internal/kerrors).
func (p *Pool) ReportCooldown(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return
	}
	e.CooldownUntil = time.Now().Add(p.cfg.FailureCooldown)
	p.observeLocked()
}

// Reset clears an account's failure state and re-enables it, per spec.md
// §4.4's admin "reset" mutation and §8 Scenario 4.
func (p *Pool) Reset(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return false
	}
	e.FailureCount = 0
	e.CooldownUntil = time.Time{}
	e.PermanentlyDisabled = false
	e.InPool = true
	p.observeLocked()
	return true
}

// SetInPool toggles whether name participates in selection, without
// touching its failure/cooldown state.
func (p *Pool) SetInPool(name string, inPool bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return false
	}
	e.InPool = inPool
	p.observeLocked()
	return true
}

// Snapshot returns a stable-ordered copy of every entry, for
// /admin/pool/status.
func (p *Pool) Snapshot() []AccountEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AccountEntry, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.entries[name])
	}
	return out
}

// Get returns a copy of one entry's state.
func (p *Pool) Get(name string) (AccountEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return AccountEntry{}, false
	}
	return *e, true
}

// observeLocked refreshes the pool-size/cooldown/disabled gauges. Must be
// called with mu held.
func (p *Pool) observeLocked() {
	now := time.Now()
	var cooling, disabled int
	for _, e := range p.entries {
		if e.PermanentlyDisabled {
			disabled++
		} else if e.CooldownUntil.After(now) {
			cooling++
		}
	}
	p.gaugeSize.Set(float64(len(p.entries)))
	p.gaugeCooldown.Set(float64(cooling))
	p.gaugeDisabled.Set(float64(disabled))
}

// SortedByName returns entries ordered by account name, for admin listing
// endpoints that want a stable display order independent of load order.
func SortedByName(entries []AccountEntry) []AccountEntry {
	out := append([]AccountEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
