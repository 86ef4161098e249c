package genome

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrScaleExists = errors.New("scale already registered")

// ScaleRegistry maps scale names to ordered semitone offsets from the root.
type ScaleRegistry struct {
	mu     sync.RWMutex
	scales map[string][]int
}

func NewScaleRegistry() *ScaleRegistry {
	return &ScaleRegistry{scales: make(map[string][]int)}
}

func (r *ScaleRegistry) Register(name string, intervals []int) error {
	if name == "" {
		return errors.New("scale name is required")
	}
	if len(intervals) == 0 {
		return fmt.Errorf("scale %s requires at least one interval", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scales[name]; exists {
		return fmt.Errorf("%w: %s", ErrScaleExists, name)
	}
	r.scales[name] = append([]int(nil), intervals...)
	return nil
}

// Lookup returns a copy of the intervals registered under name.
func (r *ScaleRegistry) Lookup(name string) ([]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intervals, ok := r.scales[name]
	if !ok {
		return nil, false
	}
	return append([]int(nil), intervals...), true
}

func (r *ScaleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scales))
	for name := range r.scales {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultScalesOnce sync.Once
	defaultScales     *ScaleRegistry
)

// DefaultScales returns the process-wide registry seeded with major and minor.
func DefaultScales() *ScaleRegistry {
	defaultScalesOnce.Do(func() {
		defaultScales = NewScaleRegistry()
		_ = defaultScales.Register("major", []int{0, 2, 4, 5, 7, 9, 11})
		_ = defaultScales.Register("minor", []int{0, 2, 3, 5, 7, 8, 10})
	})
	return defaultScales
}

func RegisterScale(name string, intervals []int) error {
	return DefaultScales().Register(name, intervals)
}

func LookupScale(name string) ([]int, bool) {
	return DefaultScales().Lookup(name)
}

func ScaleNames() []string {
	return DefaultScales().Names()
}
