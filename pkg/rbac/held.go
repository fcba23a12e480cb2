package rbac

import (
	"github.com/platinummonkey/warden/pkg/access"
)

// heldPermissions are the effective permissions an actor holds across the
// scopes that apply to one tenant
type heldPermissions []*EffectivePermissions

func (h heldPermissions) rank() Rank {
	rank := RankNone
	for _, p := range h {
		if p.Rank > rank {
			rank = p.Rank
		}
	}
	return rank
}

func (h heldPermissions) has(capability string) bool {
	for _, p := range h {
		if p.Has(capability) {
			return true
		}
	}
	return false
}

func (h heldPermissions) allowsMarketplace(code string) bool {
	for _, p := range h {
		if p.CanAccessMarketplace(code) {
			return true
		}
	}
	return false
}

func (h heldPermissions) wildcardMarketplaces() bool {
	for _, p := range h {
		if p.Marketplaces.IsWildcard() {
			return true
		}
	}
	return false
}

// limitAtLeast reports whether some scope grants key at v or more. -1 is
// unlimited on both sides; an unset key grants nothing.
func (h heldPermissions) limitAtLeast(key string, v int64) bool {
	for _, p := range h {
		limit, ok := p.Limit(key)
		if !ok {
			continue
		}
		if limit == UnlimitedFeature || (v != UnlimitedFeature && limit >= v) {
			return true
		}
	}
	return false
}

// covers refuses overrides that grant a capability, marketplace or limit the
// actor does not hold. Setting a capability to false is always allowed.
func (h heldPermissions) covers(o Overrides) error {
	for k, granted := range o.Capabilities {
		if granted && !h.has(k) {
			return access.Invalid(FieldActorRank, "actor cannot grant capability %s it does not hold", k)
		}
	}
	if o.Marketplaces != nil {
		if o.Marketplaces.IsWildcard() {
			if !h.wildcardMarketplaces() {
				return access.Invalid(FieldActorRank, "actor cannot grant every marketplace")
			}
		} else {
			for _, code := range *o.Marketplaces {
				if !h.allowsMarketplace(code) {
					return access.Invalid(FieldActorRank, "actor cannot grant marketplace %s", code)
				}
			}
		}
	}
	for k, v := range o.FeatureLimits {
		if !h.limitAtLeast(k, v) {
			return access.Invalid(FieldActorRank, "actor cannot raise %s to %d", k, v)
		}
	}
	return nil
}
