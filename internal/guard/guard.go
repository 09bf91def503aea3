package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// Operation is the kind of credential or payment action being gated
type Operation string

const (
	OpStore   Operation = "store"
	OpAccess  Operation = "access"
	OpRemove  Operation = "remove"
	OpPayment Operation = "payment"
)

// Limits holds the hourly and daily ceilings for one operation kind
type Limits struct {
	Hourly int
	Daily  int
}

// DefaultLimits returns the per-operation ceilings
func DefaultLimits() map[Operation]Limits {
	return map[Operation]Limits{
		OpStore:   {Hourly: 5, Daily: 20},
		OpAccess:  {Hourly: 10, Daily: 50},
		OpRemove:  {Hourly: 5, Daily: 20},
		OpPayment: {Hourly: 20, Daily: 100},
	}
}

// Decision is the outcome of a guard check
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	RemainingHourly int    `json:"remaining_hourly"`
	RemainingDaily  int    `json:"remaining_daily"`
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

type principalWindows struct {
	hourly rateWindow
	daily  rateWindow
}

// NonceRegistry records redeemed token nonces for replay defense
type NonceRegistry interface {
	MarkUsed(nonce string, usedAt time.Time) (bool, error)
}

// Guard rate limits and audits every credential and payment operation. It
// owns its window map; there is no package-level state.
type Guard struct {
	mu      sync.Mutex
	windows map[string]*principalWindows

	limits        map[Operation]Limits
	ipPolicy      func(ip string) bool
	signingSecret []byte
	nonces        NonceRegistry

	now  func() time.Time
	stop chan struct{}
}

// NewGuard builds a guard with the default ceilings and an allow-all IP
// policy
func NewGuard(signingSecret string) *Guard {
	return &Guard{
		windows:       make(map[string]*principalWindows),
		limits:        DefaultLimits(),
		signingSecret: []byte(signingSecret),
		now:           time.Now,
	}
}

// SetIPPolicy installs the allow/deny predicate evaluated before rate
// limiting. A nil policy allows everything.
func (g *Guard) SetIPPolicy(policy func(ip string) bool) {
	g.ipPolicy = policy
}

// SetLimits overrides the ceilings for one operation
func (g *Guard) SetLimits(op Operation, limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits[op] = limits
}

// SetNonceRegistry enables one-shot token redemption
func (g *Guard) SetNonceRegistry(reg NonceRegistry) {
	g.nonces = reg
}

// Check evaluates the IP policy, then the hourly and daily windows for the
// principal. Counters only move when the request is allowed. Every check
// writes an audit line, allowed or not.
func (g *Guard) Check(principalKey string, op Operation, clientIP string) Decision {
	if g.ipPolicy != nil && !g.ipPolicy(clientIP) {
		d := Decision{Allowed: false, Reason: "ip address not permitted"}
		g.audit(principalKey, op, clientIP, d)
		return d
	}

	g.mu.Lock()
	limits, ok := g.limits[op]
	if !ok {
		limits = Limits{Hourly: 5, Daily: 20}
	}

	key := string(op) + ":" + principalKey
	now := g.now()

	w, exists := g.windows[key]
	if !exists {
		w = &principalWindows{
			hourly: rateWindow{resetAt: now.Add(time.Hour)},
			daily:  rateWindow{resetAt: now.Add(24 * time.Hour)},
		}
		g.windows[key] = w
	}

	if !now.Before(w.hourly.resetAt) {
		w.hourly = rateWindow{resetAt: now.Add(time.Hour)}
	}
	if !now.Before(w.daily.resetAt) {
		w.daily = rateWindow{resetAt: now.Add(24 * time.Hour)}
	}

	var d Decision
	switch {
	case w.hourly.count >= limits.Hourly:
		d = Decision{
			Allowed:        false,
			Reason:         fmt.Sprintf("hourly limit exceeded for %s", op),
			RemainingDaily: limits.Daily - w.daily.count,
		}
	case w.daily.count >= limits.Daily:
		d = Decision{
			Allowed:         false,
			Reason:          fmt.Sprintf("daily limit exceeded for %s", op),
			RemainingHourly: limits.Hourly - w.hourly.count,
		}
	default:
		w.hourly.count++
		w.daily.count++
		d = Decision{
			Allowed:         true,
			RemainingHourly: limits.Hourly - w.hourly.count,
			RemainingDaily:  limits.Daily - w.daily.count,
		}
	}
	g.mu.Unlock()

	g.audit(principalKey, op, clientIP, d)
	return d
}

// Cleanup drops window entries whose daily bucket has already expired,
// bounding memory growth
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, w := range g.windows {
		if !now.Before(w.daily.resetAt) {
			delete(g.windows, key)
		}
	}
}

// StartCleanup runs Cleanup on the given interval until Stop is called
func (g *Guard) StartCleanup(interval time.Duration) {
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Cleanup()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop
func (g *Guard) Stop() {
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Guard) audit(principalKey string, op Operation, clientIP string, d Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied: " + d.Reason
	}
	logger.Info("guard check",
		"principal", principalKey,
		"operation", op,
		"ip", clientIP,
		"outcome", outcome,
	)
}
