// Package npmhandler implements the package-handler capability for the npm
// registry wire format: package documents, tarball downloads and the
// publish payload with inline base64 attachments.
//
// Routes (scoped names may arrive as "@scope%2fname"):
//
//	/{name}                    package document, publish
//	/@{scope}/{name}
//	/{name}/-/{file}           tarball
//	/@{scope}/{name}/-/{file}
package npmhandler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "npm-package-handler"

// Config tunes rendered documents
type Config struct {
	// BaseURL prefixes tarball paths in rendered documents
	BaseURL string `yaml:"base_url"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"base_url": {Type: plugins.TypeString},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		Provides:     map[plugins.Capability]string{plugins.CapabilityPackageHandler: "npm"},
		Init:         initHandler,
	}
}

func initHandler(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}

const (
	namePattern  = `{name:[^/@\-][^/]*}`
	scopePattern = `{scope:@[^/]+}`
	filePattern  = `{file:[^/]+\.tgz}`
)

// Handler resolves npm URLs and speaks the npm JSON format
type Handler struct {
	router  *mux.Router
	baseURL string
}

// New creates a handler
func New(cfg Config) *Handler {
	r := mux.NewRouter()
	r.Path("/" + scopePattern + "/" + namePattern + "/-/" + filePattern)
	r.Path("/" + namePattern + "/-/" + filePattern)
	r.Path("/" + scopePattern + "/" + namePattern)
	r.Path("/" + namePattern)

	return &Handler{
		router:  r,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// Type implements plugins.Instance
func (h *Handler) Type() plugins.Capability {
	return plugins.CapabilityPackageHandler
}

// Resolve reports which package, and optionally which tarball, r addresses
func (h *Handler) Resolve(r *http.Request) (plugins.PackageRef, bool) {
	var match mux.RouteMatch
	if !h.router.Match(r, &match) {
		return plugins.PackageRef{}, false
	}

	name := match.Vars["name"]
	if scope := match.Vars["scope"]; scope != "" {
		name = scope + "/" + name
	}
	return plugins.PackageRef{Name: name, Tarball: match.Vars["file"]}, true
}

// TarballPath is where a package's tarball is served from
func TarballPath(pkg, filename string) string {
	return "/" + pkg + "/-/" + filename
}

// RenderPackage writes the package document
func (h *Handler) RenderPackage(w http.ResponseWriter, pkg *plugins.Package) error {
	doc := document{
		ID:          pkg.Name,
		Name:        pkg.Name,
		Description: pkg.Description,
		DistTags:    pkg.DistTags,
		Versions:    make(map[string]*plugins.Version, len(pkg.Versions)),
		Time:        map[string]string{"modified": pkg.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z")},
	}
	for v, ver := range pkg.Versions {
		if ver == nil {
			continue
		}
		rendered := *ver
		if strings.HasPrefix(rendered.Dist.Tarball, "/") {
			rendered.Dist.Tarball = h.baseURL + rendered.Dist.Tarball
		}
		doc.Versions[v] = &rendered
	}
	return httputil.WriteJSON(w, http.StatusOK, doc)
}

// DecodePublish parses an npm publish body into the package and its tarballs.
// Tarball locations are rewritten to point at this registry.
func (h *Handler) DecodePublish(r *http.Request) (*plugins.Package, []plugins.Attachment, error) {
	var body publishBody
	if err := httputil.ParseJSON(r, &body); err != nil {
		return nil, nil, plugins.Errorf(http.StatusBadRequest, "%v", err)
	}
	if body.Name == "" {
		return nil, nil, plugins.Errorf(http.StatusBadRequest, "package name is required")
	}

	pkg := &plugins.Package{
		Name:        body.Name,
		Description: body.Description,
		DistTags:    body.DistTags,
		Versions:    body.Versions,
	}
	if pkg.DistTags == nil {
		pkg.DistTags = map[string]string{}
	}

	attachments := make([]plugins.Attachment, 0, len(body.Attachments))
	for filename, a := range body.Attachments {
		if path.Base(filename) != filename || !strings.HasSuffix(filename, ".tgz") {
			return nil, nil, plugins.Errorf(http.StatusBadRequest, "invalid attachment name %q", filename)
		}
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, nil, plugins.Errorf(http.StatusBadRequest, "attachment %s is not valid base64", filename)
		}
		if a.Length > 0 && a.Length != len(data) {
			return nil, nil, plugins.Errorf(http.StatusBadRequest, "attachment %s length mismatch", filename)
		}
		attachments = append(attachments, plugins.Attachment{
			Filename:    filename,
			ContentType: a.ContentType,
			Data:        data,
		})
	}

	for v, ver := range pkg.Versions {
		if ver == nil {
			return nil, nil, plugins.Errorf(http.StatusBadRequest, "version %s has no manifest", v)
		}
		filename := path.Base(ver.Dist.Tarball)
		if ver.Dist.Tarball == "" || filename == "." || filename == "/" {
			filename = fmt.Sprintf("%s-%s.tgz", path.Base(pkg.Name), v)
		}
		ver.Dist.Tarball = TarballPath(pkg.Name, filename)
	}
	return pkg, attachments, nil
}

type document struct {
	ID          string                      `json:"_id"`
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	DistTags    map[string]string           `json:"dist-tags"`
	Versions    map[string]*plugins.Version `json:"versions"`
	Time        map[string]string           `json:"time,omitempty"`
}

type publishBody struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description"`
	DistTags    map[string]string           `json:"dist-tags"`
	Versions    map[string]*plugins.Version `json:"versions"`
	Attachments map[string]attachment       `json:"_attachments"`
}

type attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int    `json:"length"`
}
