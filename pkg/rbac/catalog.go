package rbac

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/access"
)

// CatalogConfig configures the template read cache
type CatalogConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	Baseline  []*Template
}

// DefaultCatalogConfig returns cache defaults and the embedded baseline
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		CacheSize: 128,
		CacheTTL:  5 * time.Minute,
	}
}

// SeedReport lists what UpsertBaseline did per template
type SeedReport struct {
	Created   []string `json:"created"`
	Refreshed []string `json:"refreshed"`
	Skipped   []string `json:"skipped"`
}

// Catalog serves permission templates through a read-through cache
type Catalog struct {
	store    TemplateStore
	cache    *lru.LRU[string, *Template]
	group    singleflight.Group
	baseline []*Template
	now      func() time.Time
}

// NewCatalog creates a catalog over store
func NewCatalog(store TemplateStore, config CatalogConfig) *Catalog {
	if config.CacheSize <= 0 {
		config.CacheSize = 128
	}
	baseline := config.Baseline
	if baseline == nil {
		baseline = DefaultBaseline()
	}
	return &Catalog{
		store:    store,
		cache:    lru.NewLRU[string, *Template](config.CacheSize, nil, config.CacheTTL),
		baseline: baseline,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the named template. Unknown names yield access.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (*Template, error) {
	if t, ok := c.cache.Get(name); ok {
		return t.Clone(), nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		t, err := c.store.GetTemplate(ctx, name)
		if err != nil {
			return nil, err
		}
		c.cache.Add(name, t)
		return t, nil
	})
	if err != nil {
		return nil, access.Unavailable("get template", err)
	}
	return v.(*Template).Clone(), nil
}

// List returns every template ordered by rank, highest first
func (c *Catalog) List(ctx context.Context) ([]*Template, error) {
	list, err := c.store.ListTemplates(ctx)
	if err != nil {
		return nil, access.Unavailable("list templates", err)
	}
	return list, nil
}

// UpsertBaseline seeds the baseline templates. Missing templates are
// created; seeded templates that were never customized are refreshed when
// the baseline differs; customized templates are left alone.
func (c *Catalog) UpsertBaseline(ctx context.Context) (*SeedReport, error) {
	report := &SeedReport{}
	for _, base := range c.baseline {
		now := c.now()
		existing, err := c.store.GetTemplate(ctx, base.Name)
		if err != nil && !access.IsNotFound(err) {
			return report, access.Unavailable("seed template", err)
		}

		if existing == nil {
			t := base.Clone()
			t.Version = 1
			t.SeededAt = &now
			t.CreatedAt = now
			t.ModifiedAt = now
			created, err := c.store.CreateTemplate(ctx, t)
			if err != nil {
				return report, access.Unavailable("seed template", fmt.Errorf("failed to seed %s: %w", base.Name, err))
			}
			if created {
				report.Created = append(report.Created, base.Name)
			} else {
				report.Skipped = append(report.Skipped, base.Name)
			}
			continue
		}

		if existing.Customized() || existing.sameDefinition(base) {
			report.Skipped = append(report.Skipped, base.Name)
			continue
		}

		t := base.Clone()
		t.Version = existing.Version + 1
		t.CreatedAt = existing.CreatedAt
		t.SeededAt = &now
		t.ModifiedAt = now
		if err := c.store.UpdateTemplate(ctx, t, existing.Version); err != nil {
			if access.IsConflict(err) {
				report.Skipped = append(report.Skipped, base.Name)
				continue
			}
			return report, access.Unavailable("seed template", err)
		}
		c.cache.Remove(base.Name)
		report.Refreshed = append(report.Refreshed, base.Name)
	}
	return report, nil
}

// Update replaces a template through the versioned path. The stored version
// must equal expectedVersion. Sessions already holding resolved permissions
// keep their snapshot.
func (c *Catalog) Update(ctx context.Context, t *Template, expectedVersion int64) (*Template, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	current, err := c.store.GetTemplate(ctx, t.Name)
	if err != nil {
		return nil, access.Unavailable("get template", err)
	}
	if current.Version != expectedVersion {
		return nil, access.Conflict("template", "template %s is at version %d, not %d", t.Name, current.Version, expectedVersion)
	}
	if t.Rank != current.Rank {
		if err := c.checkRankFree(ctx, t.Name, t.Rank); err != nil {
			return nil, err
		}
	}

	updated := t.Clone()
	updated.Version = expectedVersion + 1
	updated.CreatedAt = current.CreatedAt
	updated.SeededAt = current.SeededAt
	updated.ModifiedAt = c.now()
	if updated.SeededAt != nil && !updated.ModifiedAt.After(*updated.SeededAt) {
		updated.ModifiedAt = updated.SeededAt.Add(time.Microsecond)
	}

	if err := c.store.UpdateTemplate(ctx, updated, expectedVersion); err != nil {
		return nil, access.Unavailable("update template", err)
	}
	c.cache.Remove(t.Name)
	return updated, nil
}

// Invalidate drops a cached template
func (c *Catalog) Invalidate(name string) {
	c.cache.Remove(name)
}

func (c *Catalog) checkRankFree(ctx context.Context, name string, rank Rank) error {
	list, err := c.store.ListTemplates(ctx)
	if err != nil {
		return access.Unavailable("list templates", err)
	}
	for _, other := range list {
		if other.Name != name && other.Rank == rank {
			return access.Invalid("rank", "rank %d is already held by template %s", rank, other.Name)
		}
	}
	return nil
}
