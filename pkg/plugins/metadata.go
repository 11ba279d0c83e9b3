package plugins

import (
	"fmt"
	"sync"
)

// SelectedPlugin describes the instance chosen for a capability
type SelectedPlugin struct {
	ID         string
	Module     string
	ProviderID string
	Instance   Instance
}

// EnvironmentMetadata accumulates capability selections in initialization
// order. It only grows, and is frozen once initialization completes.
type EnvironmentMetadata struct {
	mu       sync.RWMutex
	selected map[Capability]SelectedPlugin
	order    []Capability
	frozen   bool
}

// NewEnvironmentMetadata creates empty metadata. Plugin tests use it to feed
// OnMetaLoaded hooks directly.
func NewEnvironmentMetadata() *EnvironmentMetadata {
	return &EnvironmentMetadata{
		selected: make(map[Capability]SelectedPlugin),
	}
}

// Add records the selection for a capability
func (m *EnvironmentMetadata) Add(c Capability, sp SelectedPlugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return fmt.Errorf("environment metadata is frozen")
	}
	if _, exists := m.selected[c]; exists {
		return fmt.Errorf("capability %q already has a selection", c)
	}
	m.selected[c] = sp
	m.order = append(m.order, c)
	return nil
}

func (m *EnvironmentMetadata) freeze() {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
}

// Frozen reports whether initialization has completed
func (m *EnvironmentMetadata) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Selected returns the instance selected for c so far
func (m *EnvironmentMetadata) Selected(c Capability) (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sp, ok := m.selected[c]
	if !ok {
		return nil, false
	}
	return sp.Instance, true
}

// SelectedPlugin returns the full selection record for c
func (m *EnvironmentMetadata) SelectedPlugin(c Capability) (SelectedPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sp, ok := m.selected[c]
	return sp, ok
}

// SelectedPlugins returns a snapshot of every selection made so far
func (m *EnvironmentMetadata) SelectedPlugins() map[Capability]Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[Capability]Instance, len(m.selected))
	for c, sp := range m.selected {
		result[c] = sp.Instance
	}
	return result
}

// Capabilities returns the selected capabilities in the order they were resolved
func (m *EnvironmentMetadata) Capabilities() []Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Capability(nil), m.order...)
}

func (m *EnvironmentMetadata) Cache() (Cache, bool) {
	inst, ok := m.Selected(CapabilityCache)
	if !ok {
		return nil, false
	}
	c, ok := inst.(Cache)
	return c, ok
}

func (m *EnvironmentMetadata) Database() (Database, bool) {
	inst, ok := m.Selected(CapabilityDatabase)
	if !ok {
		return nil, false
	}
	d, ok := inst.(Database)
	return d, ok
}

func (m *EnvironmentMetadata) Authentication() (Authentication, bool) {
	inst, ok := m.Selected(CapabilityAuthentication)
	if !ok {
		return nil, false
	}
	a, ok := inst.(Authentication)
	return a, ok
}

func (m *EnvironmentMetadata) Validation() (Validation, bool) {
	inst, ok := m.Selected(CapabilityValidation)
	if !ok {
		return nil, false
	}
	v, ok := inst.(Validation)
	return v, ok
}

func (m *EnvironmentMetadata) Storage() (Storage, bool) {
	inst, ok := m.Selected(CapabilityStorage)
	if !ok {
		return nil, false
	}
	s, ok := inst.(Storage)
	return s, ok
}

func (m *EnvironmentMetadata) PackageHandler() (PackageHandler, bool) {
	inst, ok := m.Selected(CapabilityPackageHandler)
	if !ok {
		return nil, false
	}
	h, ok := inst.(PackageHandler)
	return h, ok
}
