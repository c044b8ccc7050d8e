package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. Used in dev
// mode and tests; production runs on the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	entries []*Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry *Entry) error {
	cp := *entry
	cp.Details = copyDetails(entry.Details)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemory) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	filter = filter.normalized()
	s.mu.RLock()
	matched := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		// ULIDs sort by creation time; break timestamp ties on newest id.
		return matched[i].ID > matched[j].ID
	})

	start := (filter.Page - 1) * filter.Limit
	if start >= len(matched) {
		return []*Entry{}, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*Entry, 0, end-start)
	for _, e := range matched[start:end] {
		cp := *e
		cp.Details = copyDetails(e.Details)
		out = append(out, &cp)
	}
	return out, nil
}

func matches(e *Entry, filter Filter) bool {
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if filter.Search == "" {
		return true
	}
	needle := strings.ToLower(filter.Search)
	for _, hay := range []string{e.Actor, string(e.Action), e.Target} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

func copyDetails(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
