package plugins

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by database and storage capabilities for missing entries
	ErrNotFound = errors.New("not found")
	// ErrCacheMiss is returned by cache capabilities when a key is absent or expired
	ErrCacheMiss = errors.New("cache miss")
	// ErrUnauthenticated is returned by authentication capabilities when no identity can be established
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Package is the registry document for one package name
type Package struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	DistTags    map[string]string   `json:"dist-tags"`
	Versions    map[string]*Version `json:"versions"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Version is a single published version of a package
type Version struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Dist         Dist              `json:"dist"`
}

// Dist describes where a version's tarball lives
type Dist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum,omitempty"`
}

// Attachment is a tarball uploaded alongside a publish request
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PackageRef identifies what a request addresses. Tarball is empty for
// package document requests.
type PackageRef struct {
	Name    string
	Tarball string
}

// IsTarball reports whether the reference addresses a tarball download
func (r PackageRef) IsTarball() bool {
	return r.Tarball != ""
}

// Principal is an authenticated identity
type Principal struct {
	Subject string   `json:"subject"`
	Groups  []string `json:"groups,omitempty"`
	Method  string   `json:"method"`
}

// CacheOptions tunes a single cache write
type CacheOptions struct {
	TTL time.Duration
}

// ValidationIssue is one problem found by a validation capability
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates the issues found while validating a package
type ValidationError struct {
	Package string
	Issues  []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return fmt.Sprintf("package %q is invalid: %s", e.Package, strings.Join(parts, "; "))
}

// Merge copies versions and dist-tags from other into p. Existing versions
// are never overwritten; the returned slice lists versions that were rejected.
func (p *Package) Merge(other *Package) []string {
	if p.Versions == nil {
		p.Versions = make(map[string]*Version)
	}
	if p.DistTags == nil {
		p.DistTags = make(map[string]string)
	}

	var conflicts []string
	for v, ver := range other.Versions {
		if _, exists := p.Versions[v]; exists {
			conflicts = append(conflicts, v)
			continue
		}
		p.Versions[v] = ver
	}
	for tag, v := range other.DistTags {
		if _, ok := p.Versions[v]; ok {
			p.DistTags[tag] = v
		}
	}
	if other.Description != "" {
		p.Description = other.Description
	}
	return conflicts
}
