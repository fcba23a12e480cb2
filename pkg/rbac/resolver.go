package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// TenantLookup fetches tenants on the hot path
type TenantLookup interface {
	Lookup(ctx context.Context, id string) (*tenants.Tenant, error)
}

// Resolution is the outcome of Resolve. Permissions is nil unless the
// decision allows.
type Resolution struct {
	Decision    access.Decision       `json:"decision"`
	Permissions *EffectivePermissions `json:"permissions,omitempty"`
}

// AssignRequest describes a role assignment
type AssignRequest struct {
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	TemplateName string    `json:"template"`
	Overrides    Overrides `json:"overrides"`
	ActorID      string    `json:"actor_id"`
}

// FieldActorRank is the field named by privilege-escalation refusals
const FieldActorRank = "actor_rank"

// IsEscalation reports whether err is a refusal of the privilege-escalation
// guard
func IsEscalation(err error) bool {
	var v *access.ValidationError
	return errors.As(err, &v) && v.Field == FieldActorRank
}

// Resolver binds users to templates and computes effective permissions
type Resolver struct {
	catalog      *Catalog
	tenants      TenantLookup
	assignments  AssignmentStore
	systemTenant string
	now          func() time.Time
}

// NewResolver creates a resolver. Assignments in systemTenant confer their
// rank in every tenant.
func NewResolver(catalog *Catalog, tenantLookup TenantLookup, assignments AssignmentStore, systemTenant string) *Resolver {
	return &Resolver{
		catalog:      catalog,
		tenants:      tenantLookup,
		assignments:  assignments,
		systemTenant: systemTenant,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SystemTenant returns the id of the platform tenant
func (r *Resolver) SystemTenant() string {
	return r.systemTenant
}

// Resolve computes the effective permissions of user in tenant. The tenant
// status is checked before the assignment is considered.
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID string) (Resolution, error) {
	var (
		tenant     *tenants.Tenant
		assignment *RoleAssignment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := r.tenants.Lookup(gctx, tenantID)
		if err != nil && !access.IsNotFound(err) {
			return err
		}
		tenant = t
		return nil
	})
	g.Go(func() error {
		a, err := r.assignments.GetActiveAssignment(gctx, userID, tenantID)
		if err != nil && !access.IsNotFound(err) {
			return err
		}
		assignment = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, access.Unavailable("resolve", err)
	}

	if tenant == nil {
		return Resolution{Decision: access.Deny(access.ReasonNoAssignment)}, nil
	}
	if d := tenant.Status.Decision(); !d.Allowed {
		return Resolution{Decision: d}, nil
	}
	if assignment == nil {
		return Resolution{Decision: access.Deny(access.ReasonNoAssignment)}, nil
	}

	template, err := r.catalog.Get(ctx, assignment.TemplateName)
	if err != nil {
		return Resolution{}, access.Unavailable("resolve template", err)
	}

	return Resolution{
		Decision:    access.Allow(),
		Permissions: Merge(template, assignment, r.now()),
	}, nil
}

// HasCapability reports whether user holds capability in tenant
func (r *Resolver) HasCapability(ctx context.Context, userID, tenantID, capability string) (access.Decision, error) {
	res, err := r.Resolve(ctx, userID, tenantID)
	if err != nil || !res.Decision.Allowed {
		return res.Decision, err
	}
	if !res.Permissions.Has(capability) {
		return access.Deny(access.ReasonCapabilityMissing), nil
	}
	return access.Allow(), nil
}

// HasMarketplaceAccess reports whether user may operate on marketplace in tenant
func (r *Resolver) HasMarketplaceAccess(ctx context.Context, userID, tenantID, marketplace string) (access.Decision, error) {
	res, err := r.Resolve(ctx, userID, tenantID)
	if err != nil || !res.Decision.Allowed {
		return res.Decision, err
	}
	if !res.Permissions.CanAccessMarketplace(marketplace) {
		return access.Deny(access.ReasonMarketplaceNotAllowed), nil
	}
	return access.Allow(), nil
}

// ActorRank returns the rank an actor holds when acting on tenantID
func (r *Resolver) ActorRank(ctx context.Context, actorID, tenantID string) (Rank, error) {
	held, err := r.actorPermissions(ctx, actorID, tenantID)
	if err != nil {
		return RankNone, err
	}
	return held.rank(), nil
}

// actorPermissions resolves the actor in tenantID and in the system tenant
func (r *Resolver) actorPermissions(ctx context.Context, actorID, tenantID string) (heldPermissions, error) {
	scopes := []string{tenantID}
	if r.systemTenant != "" && r.systemTenant != tenantID {
		scopes = append(scopes, r.systemTenant)
	}

	var held heldPermissions
	for _, scope := range scopes {
		res, err := r.Resolve(ctx, actorID, scope)
		if err != nil {
			return nil, err
		}
		if res.Decision.Allowed {
			held = append(held, res.Permissions)
		}
	}
	return held, nil
}

// Assign creates or replaces the assignment of a user in a tenant.
//
// Refusals are returned as errors: an unknown template, an actor ranked
// below the template (or below the user's current template) and overrides
// granting more than the actor holds are a *access.ValidationError; a
// suspended or inactive tenant and a full tenant are
// *access.DeniedError. Nothing is written when a guard fails.
func (r *Resolver) Assign(ctx context.Context, req AssignRequest) (*RoleAssignment, error) {
	if err := validateIDs(req.UserID, req.TenantID, req.ActorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		return nil, access.Invalid("template", "template name is required")
	}
	if err := req.Overrides.Validate(); err != nil {
		return nil, err
	}

	tenant, err := r.activeTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	template, err := r.catalog.Get(ctx, req.TemplateName)
	if access.IsNotFound(err) {
		return nil, access.Invalid("template", "unknown template %q", req.TemplateName)
	}
	if err != nil {
		return nil, err
	}

	held, err := r.actorPermissions(ctx, req.ActorID, req.TenantID)
	if err != nil {
		return nil, err
	}
	actorRank := held.rank()
	if actorRank.Below(template.Rank) {
		return nil, access.Invalid(FieldActorRank, "actor rank %d cannot assign template %s of rank %d", actorRank, template.Name, template.Rank)
	}
	if !actorRank.IsTop() {
		if err := held.covers(req.Overrides); err != nil {
			return nil, err
		}
	}
	if err := r.guardCurrent(ctx, req.UserID, req.TenantID, actorRank); err != nil {
		return nil, err
	}

	now := r.now()
	assignment := &RoleAssignment{
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		TemplateName: template.Name,
		Overrides:    req.Overrides.clone(),
		Active:       true,
		AssignedBy:   req.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.assignments.UpsertAssignment(ctx, assignment, tenant.Ceilings.MaxUsers); err != nil {
		if errors.Is(err, ErrUserCeilingReached) {
			return nil, access.Denied(access.ReasonQuotaExceeded)
		}
		return nil, access.Unavailable("assign role", err)
	}
	return assignment, nil
}

// Revoke deactivates the assignment of a user in a tenant. The row is kept.
func (r *Resolver) Revoke(ctx context.Context, userID, tenantID, actorID string) (*RoleAssignment, error) {
	if err := validateIDs(userID, tenantID, actorID); err != nil {
		return nil, err
	}

	actorRank, err := r.ActorRank(ctx, actorID, tenantID)
	if err != nil {
		return nil, err
	}
	if actorRank == RankNone {
		return nil, access.Denied(access.ReasonInsufficientRank)
	}
	if err := r.guardCurrent(ctx, userID, tenantID, actorRank); err != nil {
		return nil, err
	}

	revoked, err := r.assignments.DeactivateAssignment(ctx, userID, tenantID, actorID, r.now())
	if err != nil {
		return nil, access.Unavailable("revoke role", err)
	}
	return revoked, nil
}

// ListAssignments returns the active assignments of a tenant
func (r *Resolver) ListAssignments(ctx context.Context, tenantID string) ([]*RoleAssignment, error) {
	list, err := r.assignments.ListAssignments(ctx, tenantID)
	if err != nil {
		return nil, access.Unavailable("list assignments", err)
	}
	return list, nil
}

// guardCurrent refuses to touch an assignment whose template outranks the actor
func (r *Resolver) guardCurrent(ctx context.Context, userID, tenantID string, actorRank Rank) error {
	current, err := r.assignments.GetActiveAssignment(ctx, userID, tenantID)
	if access.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return access.Unavailable("get assignment", err)
	}
	template, err := r.catalog.Get(ctx, current.TemplateName)
	if err != nil {
		return err
	}
	if actorRank.Below(template.Rank) {
		return access.Invalid(FieldActorRank, "actor rank %d cannot modify an assignment of rank %d", actorRank, template.Rank)
	}
	return nil
}

func (r *Resolver) activeTenant(ctx context.Context, tenantID string) (*tenants.Tenant, error) {
	tenant, err := r.tenants.Lookup(ctx, tenantID)
	if access.IsNotFound(err) {
		return nil, access.Invalid("tenant", "unknown tenant %q", tenantID)
	}
	if err != nil {
		return nil, err
	}
	if d := tenant.Status.Decision(); !d.Allowed {
		return nil, d.Err()
	}
	return tenant, nil
}

func validateIDs(userID, tenantID, actorID string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return access.Invalid("user", "user id is required")
	case strings.TrimSpace(tenantID) == "":
		return access.Invalid("tenant", "tenant id is required")
	case strings.TrimSpace(actorID) == "":
		return access.Invalid("actor", "actor id is required")
	}
	return nil
}

// BootstrapAdmin grants the top baseline template in the system tenant
// without an actor check. It is used once at startup to create the first
// administrator.
func (r *Resolver) BootstrapAdmin(ctx context.Context, userID string) (*RoleAssignment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, access.Invalid("user", "user id is required")
	}
	if r.systemTenant == "" {
		return nil, fmt.Errorf("no system tenant configured")
	}
	if _, err := r.catalog.Get(ctx, TemplateSuperAdmin); err != nil {
		return nil, err
	}

	now := r.now()
	assignment := &RoleAssignment{
		UserID:       userID,
		TenantID:     r.systemTenant,
		TemplateName: TemplateSuperAdmin,
		Active:       true,
		AssignedBy:   "system",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.assignments.UpsertAssignment(ctx, assignment, tenants.Unlimited); err != nil {
		return nil, access.Unavailable("bootstrap admin", err)
	}
	return assignment, nil
}
