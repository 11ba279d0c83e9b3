package plugins

import (
	"fmt"
	"sort"
)

// Capability names a service role that exactly one selected plugin fulfills.
type Capability string

const (
	CapabilityCache          Capability = "cache"
	CapabilityDatabase       Capability = "database"
	CapabilityAuthentication Capability = "authentication"
	CapabilityValidation     Capability = "validation"
	CapabilityStorage        Capability = "storage"
	CapabilityPackageHandler Capability = "package-handler"

	// TypeMiddleware tags instances that take part in request dispatch.
	// It is a type discriminant, not a capability: middleware is never selected.
	TypeMiddleware Capability = "middleware"
)

// knownCapabilities is the closed set of selectable capabilities.
var knownCapabilities = map[Capability]bool{
	CapabilityCache:          true,
	CapabilityDatabase:       true,
	CapabilityAuthentication: true,
	CapabilityValidation:     true,
	CapabilityStorage:        true,
	CapabilityPackageHandler: true,
}

// IsCapability reports whether name is one of the selectable capabilities.
func IsCapability(name string) bool {
	return knownCapabilities[Capability(name)]
}

// ParseCapability converts a configuration string into a Capability.
func ParseCapability(name string) (Capability, error) {
	if !IsCapability(name) {
		return "", fmt.Errorf("unknown capability %q (known: %v)", name, Capabilities())
	}
	return Capability(name), nil
}

// Capabilities returns every selectable capability in a stable order.
func Capabilities() []Capability {
	result := make([]Capability, 0, len(knownCapabilities))
	for c := range knownCapabilities {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (c Capability) String() string {
	return string(c)
}
