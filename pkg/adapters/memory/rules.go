package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/convengine/pkg/domain"
)

// RuleStore is a mutable in-memory rule table. It implements
// ports.RuleSource and ports.Watchable, signalling watchers on every change.
type RuleStore struct {
	mu       sync.RWMutex
	rules    map[string]domain.Rule
	watchers []chan struct{}
}

// NewRuleStore creates a table seeded with rules.
func NewRuleStore(rules ...domain.Rule) *RuleStore {
	s := &RuleStore{rules: make(map[string]domain.Rule)}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

// Rules returns every stored rule sorted by ID. Callers order by priority.
func (s *RuleStore) Rules(_ context.Context) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces rules by ID.
func (s *RuleStore) Put(rules ...domain.Rule) {
	s.mu.Lock()
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	s.mu.Unlock()
	s.notify()
}

// Remove deletes rules by ID. Unknown IDs are ignored.
func (s *RuleStore) Remove(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.rules, id)
	}
	s.mu.Unlock()
	s.notify()
}

// Watch returns a channel signalled after each change. It is closed when ctx is done.
func (s *RuleStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *RuleStore) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}
