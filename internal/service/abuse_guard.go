package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// AbuseScope separates cooldown state per auth flow so a login storm does
// not lock the same caller out of the reset flow.
type AbuseScope string

const (
	AbuseScopeLogin  AbuseScope = "login"
	AbuseScopeVerify AbuseScope = "verify"
	AbuseScopeForgot AbuseScope = "forgot"
)

type AbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// AbuseGuard applies an exponential cooldown to repeated auth failures,
// tracked per identity and per source IP independently. Check returns the
// remaining cooldown; zero means the attempt may proceed.
type AbuseGuard interface {
	Check(ctx context.Context, scope AbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AbuseScope, identity, ip string) error
}

type NoopAbuseGuard struct{}

func NewNoopAbuseGuard() *NoopAbuseGuard { return &NoopAbuseGuard{} }

func (g *NoopAbuseGuard) Check(context.Context, AbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAbuseGuard) RegisterFailure(context.Context, AbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAbuseGuard) Reset(context.Context, AbuseScope, string, string) error {
	return nil
}

type abuseEntry struct {
	FailCount     int
	LastFailureAt time.Time
	CooldownUntil time.Time
}

type InMemoryAbuseGuard struct {
	mu     sync.Mutex
	policy AbusePolicy
	data   map[string]abuseEntry
}

func NewInMemoryAbuseGuard(policy AbusePolicy) *InMemoryAbuseGuard {
	return &InMemoryAbuseGuard{
		policy: normalizeAbusePolicy(policy),
		data:   make(map[string]abuseEntry),
	}
}

func (g *InMemoryAbuseGuard) Check(_ context.Context, scope AbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	identityDelay := g.activeCooldownLocked(now, g.stateKey(scope, "id", normalizeAbuseIdentity(identity)))
	ipDelay := g.activeCooldownLocked(now, g.stateKey(scope, "ip", normalizeAbuseIP(ip)))
	return max(identityDelay, ipDelay), nil
}

func (g *InMemoryAbuseGuard) RegisterFailure(_ context.Context, scope AbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	identityDelay := g.bumpLocked(now, g.stateKey(scope, "id", normalizeAbuseIdentity(identity)))
	ipDelay := g.bumpLocked(now, g.stateKey(scope, "ip", normalizeAbuseIP(ip)))
	return max(identityDelay, ipDelay), nil
}

func (g *InMemoryAbuseGuard) Reset(_ context.Context, scope AbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.data, g.stateKey(scope, "id", normalizeAbuseIdentity(identity)))
	delete(g.data, g.stateKey(scope, "ip", normalizeAbuseIP(ip)))
	return nil
}

func (g *InMemoryAbuseGuard) bumpLocked(now time.Time, key string) time.Duration {
	entry := g.data[key]
	if entry.LastFailureAt.IsZero() || now.Sub(entry.LastFailureAt) > g.policy.ResetWindow {
		entry.FailCount = 0
	}
	entry.FailCount++
	entry.LastFailureAt = now
	delay := g.computeDelay(entry.FailCount)
	entry.CooldownUntil = now.Add(delay)
	g.data[key] = entry
	return delay
}

func (g *InMemoryAbuseGuard) activeCooldownLocked(now time.Time, key string) time.Duration {
	entry, ok := g.data[key]
	if !ok {
		return 0
	}
	if now.Sub(entry.LastFailureAt) > g.policy.ResetWindow {
		delete(g.data, key)
		return 0
	}
	if now.After(entry.CooldownUntil) {
		return 0
	}
	return entry.CooldownUntil.Sub(now)
}

func (g *InMemoryAbuseGuard) computeDelay(failCount int) time.Duration {
	if failCount <= g.policy.FreeAttempts {
		return 0
	}
	power := math.Pow(g.policy.Multiplier, float64(failCount-g.policy.FreeAttempts-1))
	delay := time.Duration(float64(g.policy.BaseDelay) * power)
	if delay > g.policy.MaxDelay {
		return g.policy.MaxDelay
	}
	return delay
}

func (g *InMemoryAbuseGuard) stateKey(scope AbuseScope, dim, value string) string {
	return fmt.Sprintf("%s:%s:%s", scope, dim, value)
}

func normalizeAbuseIdentity(identity string) string {
	v := strings.TrimSpace(strings.ToLower(identity))
	if v == "" {
		return "anonymous"
	}
	return v
}

func normalizeAbuseIP(ip string) string {
	v := strings.TrimSpace(strings.ToLower(ip))
	if v == "" {
		return "unknown"
	}
	return v
}

func normalizeAbusePolicy(policy AbusePolicy) AbusePolicy {
	if policy.FreeAttempts < 0 {
		policy.FreeAttempts = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = 30 * time.Minute
	}
	return policy
}
