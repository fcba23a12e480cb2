package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// CountPolicy decides whether denied attempts are counted
type CountPolicy string

const (
	// CountAttempts increments first and compares the post-increment value
	CountAttempts CountPolicy = "attempts"
	// CountSuccesses only increments when the result stays within the ceiling
	CountSuccesses CountPolicy = "successes"
)

// Validate checks the policy is known
func (p CountPolicy) Validate() error {
	switch p {
	case CountAttempts, CountSuccesses:
		return nil
	}
	return fmt.Errorf("unknown count policy %q", p)
}

// counterGrace keeps Redis counters around after their window closes so
// snapshots near the boundary still see them.
const counterGrace = 24 * time.Hour

// TenantLookup fetches tenants
type TenantLookup interface {
	Lookup(ctx context.Context, id string) (*tenants.Tenant, error)
}

// PermissionResolver resolves the effective permissions of a user
type PermissionResolver interface {
	Resolve(ctx context.Context, userID, tenantID string) (rbac.Resolution, error)
}

// Config configures an Enforcer
type Config struct {
	Policy   CountPolicy
	Location *time.Location
	Features []Feature
}

// DefaultConfig returns the default enforcer configuration
func DefaultConfig() Config {
	return Config{
		Policy:   CountAttempts,
		Location: time.UTC,
		Features: DefaultFeatures(),
	}
}

// Request asks to consume Amount units of Feature
type Request struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Feature  string `json:"feature"`
	Amount   int64  `json:"amount"`
}

// Outcome is the result of CheckAndConsume
type Outcome struct {
	Decision    access.Decision `json:"decision"`
	Feature     string          `json:"feature"`
	WindowStart time.Time       `json:"window_start"`
	Count       int64           `json:"count"`
	Ceiling     int64           `json:"ceiling"`
}

// CounterSnapshot is a read-only view of one counter
type CounterSnapshot struct {
	Feature     string    `json:"feature"`
	Window      Window    `json:"window"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Count       int64     `json:"count"`
	Ceiling     int64     `json:"ceiling"`
}

// Enforcer renders quota decisions against shared counters
type Enforcer struct {
	store    CounterStore
	tenants  TenantLookup
	resolver PermissionResolver
	features map[string]Feature
	policy   CountPolicy
	loc      *time.Location
	now      func() time.Time
}

// NewEnforcer creates an enforcer. resolver may be nil, in which case only
// tenant ceilings apply.
func NewEnforcer(store CounterStore, tenantLookup TenantLookup, resolver PermissionResolver, config Config) (*Enforcer, error) {
	if config.Policy == "" {
		config.Policy = CountAttempts
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if len(config.Features) == 0 {
		config.Features = DefaultFeatures()
	}

	features := make(map[string]Feature, len(config.Features))
	for _, f := range config.Features {
		if err := f.Window.Validate(); err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		if f.TenantCeiling == nil {
			return nil, fmt.Errorf("feature %s: missing tenant ceiling", f.Name)
		}
		if _, dup := features[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %s", f.Name)
		}
		features[f.Name] = f
	}

	return &Enforcer{
		store:    store,
		tenants:  tenantLookup,
		resolver: resolver,
		features: features,
		policy:   config.Policy,
		loc:      config.Location,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Policy returns the configured count policy
func (e *Enforcer) Policy() CountPolicy {
	return e.policy
}

// Feature returns the definition of a metered feature
func (e *Enforcer) Feature(name string) (Feature, bool) {
	f, ok := e.features[name]
	return f, ok
}

// CheckAndConsume consumes req.Amount units of req.Feature. A tenant that is
// not active denies before any counter is touched.
func (e *Enforcer) CheckAndConsume(ctx context.Context, req Request) (Outcome, error) {
	feature, err := e.validate(&req)
	if err != nil {
		return Outcome{}, err
	}

	now := e.now()
	start := feature.Window.Start(now, e.loc)
	out := Outcome{Feature: feature.Name, WindowStart: start}

	tenant, err := e.tenants.Lookup(ctx, req.TenantID)
	if err != nil {
		return out, access.Unavailable("quota.tenant", err)
	}
	if d := tenant.Status.Decision(); !d.Allowed {
		out.Decision = d
		return out, nil
	}

	ceiling := feature.TenantCeiling(tenant.Ceilings)
	if req.UserID != "" && e.resolver != nil {
		res, err := e.resolver.Resolve(ctx, req.UserID, req.TenantID)
		if err != nil {
			return out, access.Unavailable("quota.resolve", err)
		}
		if !res.Decision.Allowed {
			out.Decision = res.Decision
			return out, nil
		}
		if limit, ok := res.Permissions.Limit(feature.LimitKey); ok {
			ceiling = tighter(ceiling, limit)
		}
	}
	out.Ceiling = ceiling

	// an amount above a bounded ceiling can never fit and is not counted
	if ceiling != tenants.Unlimited && req.Amount > ceiling {
		out.Decision = access.Deny(access.ReasonQuotaExceeded)
		return out, nil
	}

	key := Key{TenantID: req.TenantID, Feature: feature.Name, WindowStart: start}
	expireAt := feature.Window.End(now, e.loc).Add(counterGrace)

	if ceiling == tenants.Unlimited || e.policy == CountAttempts {
		count, err := e.store.Increment(ctx, key, req.Amount, expireAt)
		if errors.Is(err, ErrCounterOverflow) {
			return out, access.Invalid("amount", "amount %d overflows the %s counter", req.Amount, feature.Name)
		}
		if err != nil {
			return out, access.Unavailable("quota.increment", err)
		}
		out.Count = count
		out.Decision = decide(count, ceiling)
		return out, nil
	}

	count, applied, err := e.store.IncrementWithin(ctx, key, req.Amount, ceiling, expireAt)
	if err != nil {
		return out, access.Unavailable("quota.increment", err)
	}
	out.Count = count
	if applied {
		out.Decision = access.Allow()
	} else {
		out.Decision = access.Deny(access.ReasonQuotaExceeded)
	}
	return out, nil
}

func decide(count, ceiling int64) access.Decision {
	if ceiling != tenants.Unlimited && count > ceiling {
		return access.Deny(access.ReasonQuotaExceeded)
	}
	return access.Allow()
}

func (e *Enforcer) validate(req *Request) (Feature, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return Feature{}, access.Invalid("tenant_id", "must not be empty")
	}
	feature, ok := e.features[req.Feature]
	if !ok {
		return Feature{}, access.Invalid("feature", "unknown feature %q", req.Feature)
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	if req.Amount < 0 {
		return Feature{}, access.Invalid("amount", "must be at least 1, got %d", req.Amount)
	}
	return feature, nil
}

// Snapshot returns the current counters of a tenant with the tenant-wide
// ceilings. It never increments.
func (e *Enforcer) Snapshot(ctx context.Context, tenantID string, now time.Time) ([]CounterSnapshot, error) {
	tenant, err := e.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return nil, access.Unavailable("quota.tenant", err)
	}

	names := make([]string, 0, len(e.features))
	for name := range e.features {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshots := make([]CounterSnapshot, 0, len(names))
	for _, name := range names {
		f := e.features[name]
		start := f.Window.Start(now, e.loc)
		count, err := e.store.Get(ctx, Key{TenantID: tenantID, Feature: name, WindowStart: start})
		if err != nil {
			return nil, access.Unavailable("quota.snapshot", err)
		}
		snapshots = append(snapshots, CounterSnapshot{
			Feature:     name,
			Window:      f.Window,
			WindowStart: start,
			WindowEnd:   f.Window.End(now, e.loc),
			Count:       count,
			Ceiling:     f.TenantCeiling(tenant.Ceilings),
		})
	}
	return snapshots, nil
}

// PruneHorizon returns the cutoff before which counters are stale: the start
// of the monthly window preceding the one containing now.
func (e *Enforcer) PruneHorizon(now time.Time) time.Time {
	current := Monthly.Start(now, e.loc).In(e.loc)
	return current.AddDate(0, -1, 0).UTC()
}

// Prune deletes counters older than PruneHorizon(now)
func (e *Enforcer) Prune(ctx context.Context, now time.Time) (int64, error) {
	removed, err := e.store.Prune(ctx, e.PruneHorizon(now))
	if err != nil {
		return 0, access.Unavailable("quota.prune", err)
	}
	return removed, nil
}
