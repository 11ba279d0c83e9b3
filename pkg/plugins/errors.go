package plugins

import (
	"errors"
	"fmt"
	"strings"
)

// Startup errors. All of them are fatal: the server must not start.
var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrCycle                = errors.New("plugin load order contains a cycle")
	ErrAmbiguousCapability  = errors.New("ambiguous capability")
	ErrInvalidPreference    = errors.New("invalid capability preference")
	ErrPluginInit           = errors.New("plugin initialization failed")
	ErrUnknownModule        = errors.New("unknown plugin module")
	ErrDuplicatePlugin      = errors.New("duplicate plugin")
	ErrCapabilityMismatch   = errors.New("capability contract not implemented")
)

// ErrUnhandled is returned by the dispatcher when no middleware accepts a request
var ErrUnhandled = errors.New("no middleware handled the request")

// FieldError describes one schema mismatch
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// ConfigError reports a missing or schema-invalid plugin configuration
type ConfigError struct {
	Plugin  string
	Missing bool
	Fields  []FieldError
}

func (e *ConfigError) Error() string {
	if e.Missing {
		return fmt.Sprintf("plugin %s: configuration is required but none was supplied", e.Plugin)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("plugin %s: invalid configuration: %s", e.Plugin, strings.Join(parts, "; "))
}

func (e *ConfigError) Is(target error) bool {
	if e.Missing {
		return target == ErrMissingConfiguration
	}
	return target == ErrInvalidConfiguration
}

// Paths returns the offending field paths
func (e *ConfigError) Paths() []string {
	paths := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		paths = append(paths, f.Path)
	}
	return paths
}

// CycleError names the plugins whose loadAfter constraints form a cycle
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.IDs, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// AmbiguousCapabilityError is returned when several plugins provide the same
// capability and no preference picks one of them
type AmbiguousCapabilityError struct {
	Capability Capability
	Candidates []string
}

func (e *AmbiguousCapabilityError) Error() string {
	return fmt.Sprintf("%s %q: provided by %s; set a preference to choose one",
		ErrAmbiguousCapability, e.Capability, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousCapabilityError) Is(target error) bool {
	return target == ErrAmbiguousCapability
}

// InitError wraps a failure raised by a plugin's Init or OnMetaLoaded
type InitError struct {
	Plugin string
	Phase  string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("plugin %s: %s failed: %v", e.Plugin, e.Phase, e.Err)
}

func (e *InitError) Is(target error) bool {
	return target == ErrPluginInit
}

func (e *InitError) Unwrap() error {
	return e.Err
}
