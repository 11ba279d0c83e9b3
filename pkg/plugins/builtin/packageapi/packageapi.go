// Package packageapi is the registry's package endpoint: it serves package
// documents and tarballs, and accepts publishes. It is a thin middleware
// over the selected capabilities; the wire format comes from the
// package-handler capability.
package packageapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "package-api"

// ListPath lists every package name
const ListPath = "/-/all"

type refKey struct{}

// publishes of one package run one at a time; names share a lock by hash
const publishLocks = 64

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module: Module,
		LoadAfter: []string{
			string(plugins.CapabilityDatabase),
			string(plugins.CapabilityStorage),
			string(plugins.CapabilityValidation),
			string(plugins.CapabilityPackageHandler),
			string(plugins.CapabilityAuthentication),
			string(plugins.CapabilityCache),
			"auth-gate",
			"response-cache",
		},
		Init: func(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
			return &API{log: p.Log()}, nil
		},
	}
}

// API serves packages through the selected capabilities
type API struct {
	db        plugins.Database
	storage   plugins.Storage
	handler   plugins.PackageHandler
	validator plugins.Validation
	auth      plugins.Authentication
	cache     plugins.Cache
	log       *logrus.Entry

	locks [publishLocks]sync.Mutex
}

// Type implements plugins.Instance
func (a *API) Type() plugins.Capability {
	return plugins.TypeMiddleware
}

// OnMetaLoaded binds the capabilities. Database, storage and a package
// handler are required; validation, authentication and the cache are used
// when selected.
func (a *API) OnMetaLoaded(ctx context.Context, meta *plugins.EnvironmentMetadata) error {
	var missing []string
	var ok bool
	if a.db, ok = meta.Database(); !ok {
		missing = append(missing, string(plugins.CapabilityDatabase))
	}
	if a.storage, ok = meta.Storage(); !ok {
		missing = append(missing, string(plugins.CapabilityStorage))
	}
	if a.handler, ok = meta.PackageHandler(); !ok {
		missing = append(missing, string(plugins.CapabilityPackageHandler))
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s requires %v", Module, missing)
	}

	a.validator, _ = meta.Validation()
	a.auth, _ = meta.Authentication()
	a.cache, _ = meta.Cache()
	return nil
}

// ShouldHandle claims package and tarball URLs and the package list
func (a *API) ShouldHandle(rc *plugins.RequestContext) bool {
	r := rc.Request
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut:
	default:
		return false
	}
	if r.URL.Path == ListPath {
		return r.Method != http.MethodPut
	}

	ref, ok := a.handler.Resolve(r)
	if !ok {
		return false
	}
	rc.SetValue(refKey{}, ref)
	return true
}

// Handle serves the request claimed by ShouldHandle
func (a *API) Handle(rc *plugins.RequestContext) error {
	if rc.Request.URL.Path == ListPath {
		return a.list(rc)
	}

	v, _ := rc.Value(refKey{})
	ref, ok := v.(plugins.PackageRef)
	if !ok {
		return fmt.Errorf("request was not resolved")
	}

	switch {
	case rc.Request.Method == http.MethodPut && ref.IsTarball():
		rc.Response.Header().Set("Allow", "GET, HEAD")
		return plugins.NewStatusError(http.StatusMethodNotAllowed, "tarballs are uploaded with the package document")
	case rc.Request.Method == http.MethodPut:
		return a.publish(rc, ref)
	case ref.IsTarball():
		return a.tarball(rc, ref)
	default:
		return a.document(rc, ref)
	}
}

// list answers with the package names, optionally narrowed by ?prefix= and
// capped by ?limit=
func (a *API) list(rc *plugins.RequestContext) error {
	limit, err := httputil.ParseQueryInt(rc.Request, "limit", 0)
	if err != nil || limit < 0 {
		return plugins.NewStatusError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	prefix := httputil.ParseQueryString(rc.Request, "prefix", "")

	names, err := a.db.ListPackages(rc.Context())
	if err != nil {
		return err
	}
	sort.Strings(names)

	result := []string{}
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, name)
	}
	return httputil.WriteJSON(rc.Response, http.StatusOK, result)
}

func (a *API) document(rc *plugins.RequestContext, ref plugins.PackageRef) error {
	pkg, err := a.db.GetPackage(rc.Context(), ref.Name)
	if errors.Is(err, plugins.ErrNotFound) {
		return plugins.Errorf(http.StatusNotFound, "package %s not found", ref.Name)
	}
	if err != nil {
		return err
	}
	return a.handler.RenderPackage(rc.Response, pkg)
}

func (a *API) tarball(rc *plugins.RequestContext, ref plugins.PackageRef) error {
	body, err := a.storage.GetTarball(rc.Context(), ref.Name, ref.Tarball)
	if errors.Is(err, plugins.ErrNotFound) {
		return plugins.Errorf(http.StatusNotFound, "tarball %s not found", ref.Tarball)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	rc.Response.Header().Set("Content-Type", "application/octet-stream")
	rc.Response.WriteHeader(http.StatusOK)
	if _, err := io.Copy(rc.Response, body); err != nil {
		// headers are gone; all that is left is to log
		rc.Logger.WithError(err).Warn("Tarball download interrupted")
	}
	return nil
}

func (a *API) publish(rc *plugins.RequestContext, ref plugins.PackageRef) error {
	ctx := rc.Context()

	principal, err := a.principal(rc)
	if err != nil {
		return err
	}

	incoming, attachments, err := a.handler.DecodePublish(rc.Request)
	if err != nil {
		return err
	}
	if incoming.Name != ref.Name {
		return plugins.Errorf(http.StatusBadRequest, "package name %q does not match URL %q", incoming.Name, ref.Name)
	}

	// the read-merge-write below must not interleave with another publish
	// of the same package
	lock := a.lockFor(ref.Name)
	lock.Lock()
	defer lock.Unlock()

	pkg, err := a.db.GetPackage(ctx, ref.Name)
	switch {
	case errors.Is(err, plugins.ErrNotFound):
		pkg = &plugins.Package{Name: ref.Name}
	case err != nil:
		return err
	}

	if conflicts := pkg.Merge(incoming); len(conflicts) > 0 {
		sort.Strings(conflicts)
		return plugins.Errorf(http.StatusConflict, "cannot publish over existing versions %v", conflicts)
	}

	if a.validator != nil {
		if err := a.validator.ValidatePackage(ctx, pkg); err != nil {
			var verr *plugins.ValidationError
			if errors.As(err, &verr) {
				httputil.WriteDetailedError(rc.Response, http.StatusBadRequest, "invalid package", verr.Issues)
				return nil
			}
			return err
		}
	}

	for _, att := range attachments {
		if err := a.storage.PutTarball(ctx, pkg.Name, att.Filename, bytes.NewReader(att.Data)); err != nil {
			return err
		}
	}
	if err := a.db.PutPackage(ctx, pkg); err != nil {
		return err
	}
	a.evict(ctx, rc.Logger, pkg.Name)

	fields := logrus.Fields{"package": pkg.Name, "tarballs": len(attachments)}
	if principal != nil {
		fields["publisher"] = principal.Subject
	}
	rc.Logger.WithFields(fields).Info("Published package")

	return httputil.WriteCreated(rc.Response, map[string]interface{}{"ok": true, "id": pkg.Name})
}

func (a *API) lockFor(name string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(name))
	return &a.locks[h.Sum32()%publishLocks]
}

// evict drops cached copies of the package document and the package list.
// A failed eviction leaves the old document until the cache entry expires.
func (a *API) evict(ctx context.Context, log *logrus.Entry, name string) {
	if a.cache == nil {
		return
	}
	keys := append(plugins.PathCacheKeys("/"+name), plugins.PathCacheKeys(ListPath)...)
	for _, key := range keys {
		if err := a.cache.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Failed to evict cached response")
		}
	}
}

// principal returns the identity behind a write. Without an authentication
// capability publishing is open.
func (a *API) principal(rc *plugins.RequestContext) (*plugins.Principal, error) {
	if rc.Principal != nil || a.auth == nil {
		return rc.Principal, nil
	}
	p, err := a.auth.Authenticate(rc.Context(), rc.Request)
	if errors.Is(err, plugins.ErrUnauthenticated) {
		rc.Response.Header().Set("WWW-Authenticate", `Bearer realm="wharf"`)
		return nil, plugins.NewStatusError(http.StatusUnauthorized, "authentication required")
	}
	if err != nil {
		return nil, err
	}
	rc.Principal = p
	return p, nil
}
