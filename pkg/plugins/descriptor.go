package plugins

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is a plugin's raw configuration blob as read from the configuration
// file. A nil Config means no configuration was supplied.
type Config map[string]interface{}

// Decode copies the blob into a typed struct using its yaml tags
func (c Config) Decode(out interface{}) error {
	data, err := yaml.Marshal(map[string]interface{}(c))
	if err != nil {
		return fmt.Errorf("failed to marshal plugin config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode plugin config: %w", err)
	}
	return nil
}

// Descriptor identifies a configured plugin and its configuration blob
type Descriptor struct {
	ID     string
	Module string
	Config Config
}

// RuntimeConfiguration is the immutable input of plugin initialization. It
// is built once at process start; accessors return copies.
type RuntimeConfiguration struct {
	descriptors []Descriptor
	preferences map[Capability]string
}

// NewRuntimeConfiguration validates and copies descriptors and preferences.
// Descriptors without an id take their module name as id.
func NewRuntimeConfiguration(descriptors []Descriptor, preferences map[Capability]string) (RuntimeConfiguration, error) {
	seen := make(map[string]bool, len(descriptors))
	descs := make([]Descriptor, 0, len(descriptors))

	for i, d := range descriptors {
		if d.Module == "" {
			return RuntimeConfiguration{}, fmt.Errorf("plugin entry %d: module is required", i)
		}
		if d.ID == "" {
			d.ID = d.Module
		}
		if seen[d.ID] {
			return RuntimeConfiguration{}, fmt.Errorf("%w: %s", ErrDuplicatePlugin, d.ID)
		}
		seen[d.ID] = true
		d.Config = cloneConfig(d.Config)
		descs = append(descs, d)
	}

	prefs := make(map[Capability]string, len(preferences))
	for c, id := range preferences {
		if !IsCapability(string(c)) {
			return RuntimeConfiguration{}, fmt.Errorf("preference for unknown capability %q", c)
		}
		prefs[c] = id
	}

	return RuntimeConfiguration{descriptors: descs, preferences: prefs}, nil
}

// Descriptors returns the configured plugins in configuration order
func (c RuntimeConfiguration) Descriptors() []Descriptor {
	result := make([]Descriptor, len(c.descriptors))
	for i, d := range c.descriptors {
		d.Config = cloneConfig(d.Config)
		result[i] = d
	}
	return result
}

// Preference returns the operator-chosen plugin id for a capability
func (c RuntimeConfiguration) Preference(capability Capability) (string, bool) {
	id, ok := c.preferences[capability]
	return id, ok
}

// Preferences returns a copy of every capability preference
func (c RuntimeConfiguration) Preferences() map[Capability]string {
	result := make(map[Capability]string, len(c.preferences))
	for k, v := range c.preferences {
		result[k] = v
	}
	return result
}

func cloneConfig(c Config) Config {
	if c == nil {
		return nil
	}
	return Config(cloneMap(c))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case Config:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
