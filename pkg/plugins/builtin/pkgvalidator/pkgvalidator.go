// Package pkgvalidator checks package documents before they are stored:
// package naming rules, semantic version strings, dist-tags and a list of
// names that may not be published.
package pkgvalidator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "package-validator"

const maxNameLength = 214

var (
	namePattern   = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*$`)
	semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
	tagPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)
)

// Config tunes the rules
type Config struct {
	// Blocked package names may never be published
	Blocked []string `yaml:"blocked"`
	// MaxVersions bounds the versions one document may hold; 0 is unlimited
	MaxVersions int `yaml:"max_versions"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"blocked":      {Type: plugins.TypeArray, Items: &plugins.Field{Type: plugins.TypeString}},
		"max_versions": {Type: plugins.TypeNumber},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		Provides:     map[plugins.Capability]string{plugins.CapabilityValidation: "package"},
		Init:         initValidator,
	}
}

func initValidator(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}

// Validator applies the package rules
type Validator struct {
	blocked     map[string]bool
	maxVersions int
}

// New creates a validator
func New(cfg Config) *Validator {
	v := &Validator{
		blocked:     make(map[string]bool, len(cfg.Blocked)),
		maxVersions: cfg.MaxVersions,
	}
	for _, name := range cfg.Blocked {
		v.blocked[strings.ToLower(name)] = true
	}
	return v
}

// Type implements plugins.Instance
func (v *Validator) Type() plugins.Capability {
	return plugins.CapabilityValidation
}

// ValidatePackage returns a *plugins.ValidationError listing every problem found
func (v *Validator) ValidatePackage(ctx context.Context, pkg *plugins.Package) error {
	var issues []plugins.ValidationIssue
	add := func(field, format string, args ...interface{}) {
		issues = append(issues, plugins.ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case pkg.Name == "":
		add("name", "is required")
	case len(pkg.Name) > maxNameLength:
		add("name", "must be at most %d characters", maxNameLength)
	case !namePattern.MatchString(pkg.Name):
		add("name", "must be lowercase and URL-safe")
	case v.blocked[pkg.Name]:
		add("name", "is blocked on this registry")
	}

	if len(pkg.Versions) == 0 {
		add("versions", "at least one version is required")
	}
	if v.maxVersions > 0 && len(pkg.Versions) > v.maxVersions {
		add("versions", "at most %d versions are allowed", v.maxVersions)
	}

	versions := make([]string, 0, len(pkg.Versions))
	for version := range pkg.Versions {
		versions = append(versions, version)
	}
	sort.Strings(versions)

	for _, version := range versions {
		field := "versions." + version
		ver := pkg.Versions[version]
		if !semverPattern.MatchString(version) {
			add(field, "is not a valid semantic version")
			continue
		}
		if ver == nil {
			add(field, "is empty")
			continue
		}
		if ver.Version != version {
			add(field+".version", "must match its key, got %q", ver.Version)
		}
		if ver.Name != "" && ver.Name != pkg.Name {
			add(field+".name", "must match the package name, got %q", ver.Name)
		}
	}

	tags := make([]string, 0, len(pkg.DistTags))
	for tag := range pkg.DistTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		field := "dist-tags." + tag
		if !tagPattern.MatchString(tag) || semverPattern.MatchString(tag) {
			add(field, "is not a valid tag name")
			continue
		}
		if _, ok := pkg.Versions[pkg.DistTags[tag]]; !ok {
			add(field, "points at unknown version %q", pkg.DistTags[tag])
		}
	}

	if len(issues) > 0 {
		return &plugins.ValidationError{Package: pkg.Name, Issues: issues}
	}
	return nil
}
