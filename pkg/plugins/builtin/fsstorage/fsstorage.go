// Package fsstorage stores package tarballs on the local filesystem, one
// directory per package.
package fsstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "filesystem-storage"

// Config holds the storage location
type Config struct {
	Root string `yaml:"root"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"root": {Type: plugins.TypeString, Required: true},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityStorage: "filesystem"},
		Init:           initStorage,
	}
}

func initStorage(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(cfg.Root, p.Log())
}

// Storage keeps tarballs under a root directory
type Storage struct {
	root string
	log  *logrus.Entry
}

// New creates the root directory when needed. log may be nil.
func New(root string, log *logrus.Entry) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	if log == nil {
		log = plugins.InitParams{}.Log()
	}
	return &Storage{root: root, log: log}, nil
}

// Type implements plugins.Instance
func (s *Storage) Type() plugins.Capability {
	return plugins.CapabilityStorage
}

// path resolves a tarball location, refusing anything that escapes the root
func (s *Storage) path(pkg, filename string) (string, error) {
	rel := filepath.Join(filepath.FromSlash(pkg), filename)
	if pkg == "" || filename == "" || filepath.Base(filename) != filename || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid tarball path %q/%q", pkg, filename)
	}
	return filepath.Join(s.root, rel), nil
}

// PutTarball writes content to a temporary file and renames it into place,
// so readers never see a partial tarball
func (s *Storage) PutTarball(ctx context.Context, pkg, filename string, content io.Reader) error {
	target, err := s.path(pkg, filename)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create package directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write tarball: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store tarball: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"package": pkg,
		"file":    filename,
		"bytes":   n,
	}).Debug("Stored tarball")
	return nil
}

// GetTarball opens a stored tarball, or returns plugins.ErrNotFound
func (s *Storage) GetTarball(ctx context.Context, pkg, filename string) (io.ReadCloser, error) {
	target, err := s.path(pkg, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("tarball %s/%s: %w", pkg, filename, plugins.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	return f, nil
}

// HealthCheck verifies the root directory is still there
func (s *Storage) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}
