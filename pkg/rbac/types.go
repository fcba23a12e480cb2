package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
)

// Baseline template names
const (
	TemplateSuperAdmin = "super_admin"
	TemplateAdmin      = "admin"
	TemplateTechnical  = "technical"
	TemplateUser       = "user"
	TemplateViewer     = "viewer"
)

// Feature limit keys used by the baseline templates
const (
	LimitAPICallsDaily  = "max_api_calls_daily"
	LimitOrdersMonthly  = "max_orders_monthly"
	LimitOrdersDaily    = "max_orders_daily"
	LimitProducts       = "max_products"
	UnlimitedFeature    = int64(-1)
	marketplaceWildcard = "all"
)

// MarketplaceAccess is a set of marketplace codes. "all" or "*" grants
// every marketplace.
type MarketplaceAccess []string

// Allows reports whether code is permitted
func (m MarketplaceAccess) Allows(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	for _, c := range m {
		c = strings.ToLower(c)
		if c == marketplaceWildcard || c == "*" || c == code {
			return true
		}
	}
	return false
}

// IsWildcard reports whether every marketplace is permitted
func (m MarketplaceAccess) IsWildcard() bool {
	for _, c := range m {
		if c == marketplaceWildcard || c == "*" {
			return true
		}
	}
	return false
}

func (m MarketplaceAccess) clone() MarketplaceAccess {
	if m == nil {
		return nil
	}
	return append(MarketplaceAccess{}, m...)
}

func (m MarketplaceAccess) validate(field string) error {
	for _, c := range m {
		if strings.TrimSpace(c) == "" {
			return access.Invalid(field, "marketplace code must not be empty")
		}
	}
	return nil
}

// Template is a named, ranked permission bundle
type Template struct {
	Name          string            `json:"name" yaml:"name"`
	DisplayName   string            `json:"display_name" yaml:"display_name"`
	Description   string            `json:"description,omitempty" yaml:"description"`
	Rank          Rank              `json:"rank" yaml:"rank"`
	Capabilities  map[string]bool   `json:"capabilities" yaml:"capabilities"`
	Marketplaces  MarketplaceAccess `json:"marketplaces" yaml:"marketplaces"`
	FeatureLimits map[string]int64  `json:"feature_limits" yaml:"feature_limits"`
	Version       int64             `json:"version" yaml:"-"`
	SeededAt      *time.Time        `json:"seeded_at,omitempty" yaml:"-"`
	CreatedAt     time.Time         `json:"created_at" yaml:"-"`
	ModifiedAt    time.Time         `json:"modified_at" yaml:"-"`
}

// Validate checks name, rank, marketplaces and limits
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return access.Invalid("name", "template name is required")
	}
	if err := t.Rank.Validate(); err != nil {
		return err
	}
	if err := t.Marketplaces.validate("marketplaces"); err != nil {
		return err
	}
	return validateLimits("feature_limits", t.FeatureLimits)
}

// Customized reports whether the template was modified after it was seeded
func (t *Template) Customized() bool {
	return t.SeededAt == nil || t.ModifiedAt.After(*t.SeededAt)
}

// Clone returns a deep copy
func (t *Template) Clone() *Template {
	c := *t
	c.Capabilities = cloneBools(t.Capabilities)
	c.Marketplaces = t.Marketplaces.clone()
	c.FeatureLimits = cloneInts(t.FeatureLimits)
	if t.SeededAt != nil {
		seeded := *t.SeededAt
		c.SeededAt = &seeded
	}
	return &c
}

// sameDefinition compares the seedable content of two templates
func (t *Template) sameDefinition(o *Template) bool {
	if t.Name != o.Name || t.DisplayName != o.DisplayName || t.Description != o.Description || t.Rank != o.Rank {
		return false
	}
	if len(t.Capabilities) != len(o.Capabilities) || len(t.FeatureLimits) != len(o.FeatureLimits) {
		return false
	}
	for k, v := range t.Capabilities {
		if ov, ok := o.Capabilities[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range t.FeatureLimits {
		if ov, ok := o.FeatureLimits[k]; !ok || ov != v {
			return false
		}
	}
	a, b := append([]string(nil), t.Marketplaces...), append([]string(nil), o.Marketplaces...)
	sort.Strings(a)
	sort.Strings(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Overrides adjust a template for one assignment. Absent keys inherit the
// template value; a nil Marketplaces inherits the template allow-list.
type Overrides struct {
	Capabilities  map[string]bool    `json:"capabilities,omitempty"`
	Marketplaces  *MarketplaceAccess `json:"marketplaces,omitempty"`
	FeatureLimits map[string]int64   `json:"feature_limits,omitempty"`
}

// Validate checks override values
func (o Overrides) Validate() error {
	for k := range o.Capabilities {
		if strings.TrimSpace(k) == "" {
			return access.Invalid("overrides.capabilities", "capability name must not be empty")
		}
	}
	if o.Marketplaces != nil {
		if err := o.Marketplaces.validate("overrides.marketplaces"); err != nil {
			return err
		}
	}
	return validateLimits("overrides.feature_limits", o.FeatureLimits)
}

// IsZero reports whether o changes nothing
func (o Overrides) IsZero() bool {
	return len(o.Capabilities) == 0 && o.Marketplaces == nil && len(o.FeatureLimits) == 0
}

func (o Overrides) clone() Overrides {
	c := Overrides{
		Capabilities:  cloneBools(o.Capabilities),
		FeatureLimits: cloneInts(o.FeatureLimits),
	}
	if o.Marketplaces != nil {
		m := o.Marketplaces.clone()
		if m == nil {
			m = MarketplaceAccess{}
		}
		c.Marketplaces = &m
	}
	return c
}

// RoleAssignment binds a user to a template within a tenant
type RoleAssignment struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	TenantID     string     `json:"tenant_id"`
	TemplateName string     `json:"template"`
	Overrides    Overrides  `json:"overrides"`
	Active       bool       `json:"active"`
	AssignedBy   string     `json:"assigned_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `json:"revoked_by,omitempty"`
}

func (a *RoleAssignment) clone() *RoleAssignment {
	c := *a
	c.Overrides = a.Overrides.clone()
	if a.RevokedAt != nil {
		revoked := *a.RevokedAt
		c.RevokedAt = &revoked
	}
	return &c
}

// EffectivePermissions is a template merged with assignment overrides
type EffectivePermissions struct {
	UserID        string            `json:"user_id"`
	TenantID      string            `json:"tenant_id"`
	TemplateName  string            `json:"template"`
	Rank          Rank              `json:"rank"`
	Capabilities  map[string]bool   `json:"capabilities"`
	Marketplaces  MarketplaceAccess `json:"marketplaces"`
	FeatureLimits map[string]int64  `json:"feature_limits"`
	ResolvedAt    time.Time         `json:"resolved_at"`
}

// Has reports whether capability is granted. Unknown keys are not granted.
func (p *EffectivePermissions) Has(capability string) bool {
	return p != nil && p.Capabilities[capability]
}

// CanAccessMarketplace reports whether code is in the effective allow-list
func (p *EffectivePermissions) CanAccessMarketplace(code string) bool {
	return p != nil && p.Marketplaces.Allows(code)
}

// Limit returns the effective feature limit for key and whether one is set
func (p *EffectivePermissions) Limit(key string) (int64, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p.FeatureLimits[key]
	return v, ok
}

// Clone returns a deep copy
func (p *EffectivePermissions) Clone() *EffectivePermissions {
	if p == nil {
		return nil
	}
	c := *p
	c.Capabilities = cloneBools(p.Capabilities)
	c.Marketplaces = p.Marketplaces.clone()
	c.FeatureLimits = cloneInts(p.FeatureLimits)
	return &c
}

// Merge computes the effective permissions of an assignment. Override keys
// replace template keys one by one; absent keys are inherited.
func Merge(t *Template, a *RoleAssignment, at time.Time) *EffectivePermissions {
	caps := cloneBools(t.Capabilities)
	if caps == nil {
		caps = make(map[string]bool)
	}
	for k, v := range a.Overrides.Capabilities {
		caps[k] = v
	}

	marketplaces := t.Marketplaces.clone()
	if a.Overrides.Marketplaces != nil {
		marketplaces = a.Overrides.Marketplaces.clone()
	}
	if marketplaces == nil {
		marketplaces = MarketplaceAccess{}
	}

	limits := cloneInts(t.FeatureLimits)
	if limits == nil {
		limits = make(map[string]int64)
	}
	for k, v := range a.Overrides.FeatureLimits {
		limits[k] = v
	}

	return &EffectivePermissions{
		UserID:        a.UserID,
		TenantID:      a.TenantID,
		TemplateName:  t.Name,
		Rank:          t.Rank,
		Capabilities:  caps,
		Marketplaces:  marketplaces,
		FeatureLimits: limits,
		ResolvedAt:    at,
	}
}

// ErrUserCeilingReached is returned by AssignmentStore.UpsertAssignment when
// adding a new active user would exceed the tenant's max_users.
var ErrUserCeilingReached = errors.New("tenant active user ceiling reached")

// TemplateStore persists permission templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (*Template, error)
	// ListTemplates returns templates ordered by rank, highest first.
	ListTemplates(ctx context.Context) ([]*Template, error)
	// CreateTemplate inserts t unless a template with the same name exists,
	// in which case it returns false.
	CreateTemplate(ctx context.Context, t *Template) (bool, error)
	// UpdateTemplate replaces t when the stored version equals
	// expectedVersion. It fails with a conflict on a version mismatch or when
	// the rank would decrease while an active assignment references t.
	UpdateTemplate(ctx context.Context, t *Template, expectedVersion int64) error
}

// AssignmentStore persists role assignments
type AssignmentStore interface {
	// UpsertAssignment writes the (user, tenant) row in one atomic step. A
	// user without an active assignment in the tenant is only admitted while
	// the tenant has fewer than maxUsers active users; -1 disables the check.
	UpsertAssignment(ctx context.Context, a *RoleAssignment, maxUsers int64) error
	GetActiveAssignment(ctx context.Context, userID, tenantID string) (*RoleAssignment, error)
	DeactivateAssignment(ctx context.Context, userID, tenantID, actorID string, at time.Time) (*RoleAssignment, error)
	ListAssignments(ctx context.Context, tenantID string) ([]*RoleAssignment, error)
	CountActiveUsers(ctx context.Context, tenantIDs []string) (map[string]int64, error)
}

func validateLimits(field string, limits map[string]int64) error {
	for k, v := range limits {
		if strings.TrimSpace(k) == "" {
			return access.Invalid(field, "limit name must not be empty")
		}
		if v < UnlimitedFeature {
			return access.Invalid(field, "limit %s must be -1 (unlimited) or non-negative, got %d", k, v)
		}
	}
	return nil
}

func cloneBools(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	c := make(map[string]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneInts(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	c := make(map[string]int64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
