package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// LoadLast is the loadAfter token meaning "after every other plugin"
const LoadLast = "*"

// Instance is the live object returned by a plugin's Init. Type is the
// discriminant the runtime dispatches on: a capability name or TypeMiddleware.
type Instance interface {
	Type() Capability
}

// Cache stores opaque byte values by key
type Cache interface {
	Instance
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, opts CacheOptions) error
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// Database persists package documents
type Database interface {
	Instance
	GetPackage(ctx context.Context, name string) (*Package, error)
	PutPackage(ctx context.Context, pkg *Package) error
	ListPackages(ctx context.Context) ([]string, error)
}

// Authentication establishes the identity behind a request
type Authentication interface {
	Instance
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
}

// Validation checks package documents before they are persisted
type Validation interface {
	Instance
	ValidatePackage(ctx context.Context, pkg *Package) error
}

// Storage holds package tarballs
type Storage interface {
	Instance
	PutTarball(ctx context.Context, pkg, filename string, content io.Reader) error
	GetTarball(ctx context.Context, pkg, filename string) (io.ReadCloser, error)
}

// PackageHandler knows the wire format of one package ecosystem
type PackageHandler interface {
	Instance
	Resolve(r *http.Request) (PackageRef, bool)
	RenderPackage(w http.ResponseWriter, pkg *Package) error
	DecodePublish(r *http.Request) (*Package, []Attachment, error)
}

// Middleware takes part in first-match-wins request dispatch
type Middleware interface {
	Instance
	ShouldHandle(rc *RequestContext) bool
	Handle(rc *RequestContext) error
}

// MetadataAware is implemented by instances that want to see the capability
// selections made so far. OnMetaLoaded runs once, right after Init.
type MetadataAware interface {
	OnMetaLoaded(ctx context.Context, meta *EnvironmentMetadata) error
}

// HealthChecker is implemented by instances backed by an external service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// InitParams is what a plugin receives when it is instantiated
type InitParams struct {
	// ID is the configured plugin id
	ID string
	// Config is the validated configuration blob; nil when none was supplied
	Config Config
	Logger *logrus.Entry
}

// Log returns the plugin's logger, or a discarding one when none was set
func (p InitParams) Log() *logrus.Entry {
	if p.Logger != nil {
		return p.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// InitFunc instantiates a plugin
type InitFunc func(ctx context.Context, params InitParams) (Instance, error)

// Export is the contract a plugin module exposes to the runtime
type Export struct {
	// Module is the name configuration files use to reference the plugin
	Module         string
	ConfigRequired bool
	ConfigSchema   *Schema
	// LoadAfter holds plugin ids, capability names or LoadLast
	LoadAfter []string
	// Provides maps each capability the plugin offers to its local provider id
	Provides map[Capability]string
	Init     InitFunc
}

// ProvidesCapability reports whether the export declares c
func (e *Export) ProvidesCapability(c Capability) bool {
	_, ok := e.Provides[c]
	return ok
}

// asCapability checks that inst honours the contract of capability c
func asCapability(inst Instance, c Capability) (Instance, error) {
	var ok bool
	switch c {
	case CapabilityCache:
		_, ok = inst.(Cache)
	case CapabilityDatabase:
		_, ok = inst.(Database)
	case CapabilityAuthentication:
		_, ok = inst.(Authentication)
	case CapabilityValidation:
		_, ok = inst.(Validation)
	case CapabilityStorage:
		_, ok = inst.(Storage)
	case CapabilityPackageHandler:
		_, ok = inst.(PackageHandler)
	case TypeMiddleware:
		_, ok = inst.(Middleware)
	default:
		return nil, fmt.Errorf("unknown capability %q", c)
	}
	if !ok {
		return nil, fmt.Errorf("%w: instance of type %q does not implement %q", ErrCapabilityMismatch, inst.Type(), c)
	}
	return inst, nil
}
