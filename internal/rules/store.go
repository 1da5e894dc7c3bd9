package rules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// Partition names used by the gateway
const (
	PartitionFile     = "file"
	PartitionDatabase = "database"
	PartitionAdmin    = "admin"
)

// Store holds the live rule set as named partitions (file, database, admin)
// so each origin can be reloaded independently. Reads are lock-free; every
// write validates the combined set and publishes a new snapshot.
type Store struct {
	mu         sync.Mutex
	order      []string
	partitions map[string][]models.RateLimitRule
	snapshot   atomic.Pointer[[]models.RateLimitRule]
	opts       ValidateOptions
	onChange   []func()
}

func NewStore(opts ValidateOptions) *Store {
	s := &Store{
		partitions: make(map[string][]models.RateLimitRule),
		opts:       opts,
	}
	empty := []models.RateLimitRule{}
	s.snapshot.Store(&empty)
	return s
}

// Registers fn to run after every successful change
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) ListRules() []models.RateLimitRule {
	return *s.snapshot.Load()
}

func (s *Store) Find(id string) (models.RateLimitRule, bool) {
	for _, r := range s.ListRules() {
		if r.ID == id {
			return r, true
		}
	}
	return models.RateLimitRule{}, false
}

// Returns a copy of one partition's rules
func (s *Store) Partition(name string) []models.RateLimitRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := s.partitions[name]
	out := make([]models.RateLimitRule, len(rules))
	copy(out, rules)
	return out
}

// Swaps the content of a partition. On validation failure the previous rules stay live.
func (s *Store) Replace(partition string, rules []models.RateLimitRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.RateLimitRule, len(rules))
	copy(next, rules)
	return s.commit(partition, next)
}

// Inserts a rule into a partition, replacing any rule with the same ID
func (s *Store) Upsert(partition string, rule models.RateLimitRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.partitions[partition]
	next := make([]models.RateLimitRule, 0, len(current)+1)
	replaced := false
	for _, r := range current {
		if r.ID == rule.ID {
			next = append(next, rule)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, rule)
	}
	return s.commit(partition, next)
}

// Removes a rule from whichever partition holds it
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		current := s.partitions[name]
		for i, r := range current {
			if r.ID != id {
				continue
			}
			next := make([]models.RateLimitRule, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			return s.commit(name, next)
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Must hold s.mu
func (s *Store) commit(partition string, rules []models.RateLimitRule) error {
	if _, ok := s.partitions[partition]; !ok {
		s.order = append(s.order, partition)
	}

	combined := make([]models.RateLimitRule, 0, len(rules))
	for _, name := range s.order {
		if name == partition {
			combined = append(combined, rules...)
		} else {
			combined = append(combined, s.partitions[name]...)
		}
	}

	if err := ValidateAll(combined, s.opts); err != nil {
		if _, ok := s.partitions[partition]; !ok {
			s.order = s.order[:len(s.order)-1]
		}
		return err
	}

	s.partitions[partition] = rules
	s.snapshot.Store(&combined)

	for _, fn := range s.onChange {
		fn()
	}
	return nil
}
