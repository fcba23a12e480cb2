package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLogger keeps entries in process memory
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryLogger creates an empty logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	if e.TenantID != nil {
		id := *e.TenantID
		c.TenantID = &id
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *MemoryLogger) Append(_ context.Context, e *Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e.ID = m.nextID
	m.entries = append(m.entries, cloneEntry(e))
	return nil
}

func (m *MemoryLogger) Query(_ context.Context, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Entry, 0)
	for _, e := range m.entries {
		if f.matches(e) {
			matched = append(matched, cloneEntry(e))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset >= len(matched) {
		return []*Entry{}, nil
	}
	matched = matched[f.Offset:]
	if limit := f.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryLogger) Before(_ context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			out = append(out, cloneEntry(e))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryLogger) DeleteUpTo(_ context.Context, cutoff time.Time, maxID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) && e.ID <= maxID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}
