package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// VendorRegistry maps bare module names to host-supplied modules. An entry
// is either an eager value or source evaluated on first require. It is
// written while the host configures a playground and only read during runs.
type VendorRegistry struct {
	mu      sync.RWMutex
	values  map[string]interface{}
	sources map[string]string
}

// NewVendorRegistry creates an empty registry
func NewVendorRegistry() *VendorRegistry {
	return &VendorRegistry{
		values:  make(map[string]interface{}),
		sources: make(map[string]string),
	}
}

// Register adds a pre-resolved module value
func (v *VendorRegistry) Register(name string, value interface{}) error {
	if err := validateVendorName(name); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[name] = value
	return nil
}

// RegisterSource adds a module whose code is evaluated lazily
func (v *VendorRegistry) RegisterSource(name, code string) error {
	if err := validateVendorName(name); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.sources[name] = code
	return nil
}

// Value returns the pre-resolved value for name
func (v *VendorRegistry) Value(name string) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.values[name]
	return value, ok
}

// Source returns the lazily evaluated source for name
func (v *VendorRegistry) Source(name string) (string, bool) {
	if v == nil {
		return "", false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	code, ok := v.sources[name]
	return code, ok
}

// Has reports whether name is registered in either form
func (v *VendorRegistry) Has(name string) bool {
	if _, ok := v.Value(name); ok {
		return true
	}
	_, ok := v.Source(name)
	return ok
}

// Names returns every registered module name, sorted
func (v *VendorRegistry) Names() []string {
	if v == nil {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.values)+len(v.sources))
	for name := range v.values {
		names = append(names, name)
	}
	for name := range v.sources {
		if _, dup := v.values[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func validateVendorName(name string) error {
	if name == "" || isRelative(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidVendorName, name)
	}
	return nil
}

// Clone copies the registry so one playground can add modules without
// affecting others
func (v *VendorRegistry) Clone() *VendorRegistry {
	clone := NewVendorRegistry()
	if v == nil {
		return clone
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	for name, value := range v.values {
		clone.values[name] = value
	}
	for name, code := range v.sources {
		clone.sources[name] = code
	}
	return clone
}
