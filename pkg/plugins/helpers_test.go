package plugins

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// fakeBase is embedded by the test instances below
type fakeBase struct {
	id     string
	typ    Capability
	closed *[]string
}

func (f *fakeBase) Type() Capability { return f.typ }

func (f *fakeBase) Close() error {
	if f.closed != nil {
		*f.closed = append(*f.closed, f.id)
	}
	return nil
}

type fakeDatabase struct{ fakeBase }

func (f *fakeDatabase) GetPackage(ctx context.Context, name string) (*Package, error) {
	return nil, ErrNotFound
}
func (f *fakeDatabase) PutPackage(ctx context.Context, pkg *Package) error { return nil }
func (f *fakeDatabase) ListPackages(ctx context.Context) ([]string, error) { return nil, nil }

type fakeValidation struct{ fakeBase }

func (f *fakeValidation) ValidatePackage(ctx context.Context, pkg *Package) error { return nil }

type fakeCache struct{ fakeBase }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss }
func (f *fakeCache) Set(ctx context.Context, key string, value []byte, opts CacheOptions) error {
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error { return nil }

type fakeStorage struct{ fakeBase }

func (f *fakeStorage) PutTarball(ctx context.Context, pkg, filename string, content io.Reader) error {
	return nil
}
func (f *fakeStorage) GetTarball(ctx context.Context, pkg, filename string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type fakeMiddleware struct {
	fakeBase
	should bool
}

func (f *fakeMiddleware) ShouldHandle(rc *RequestContext) bool { return f.should }
func (f *fakeMiddleware) Handle(rc *RequestContext) error {
	rc.Response.WriteHeader(http.StatusNotFound)
	return nil
}

// metaWatcher records what it saw in OnMetaLoaded
type metaWatcher struct {
	fakeValidation
	seen []Capability
	err  error
}

func (m *metaWatcher) OnMetaLoaded(ctx context.Context, meta *EnvironmentMetadata) error {
	for c := range meta.SelectedPlugins() {
		m.seen = append(m.seen, c)
	}
	return m.err
}

// node builds a graph node for tests
func node(id string, loadAfter []string, provides ...Capability) *Node {
	export := &Export{Module: id, LoadAfter: loadAfter}
	if len(provides) > 0 {
		export.Provides = make(map[Capability]string)
		for _, c := range provides {
			export.Provides[c] = id
		}
	}
	return &Node{Descriptor: Descriptor{ID: id, Module: id}, Export: export}
}

// mustRuntimeConfig builds a RuntimeConfiguration or panics
func mustRuntimeConfig(descs []Descriptor, prefs map[Capability]string) RuntimeConfiguration {
	cfg, err := NewRuntimeConfiguration(descs, prefs)
	if err != nil {
		panic(err)
	}
	return cfg
}
