package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/fsutil"
)

// Locations under the build root.
const (
	SnapshotFile = ".gridbuild.snapshot"
	CacheDir     = "c4che"
	ConfigFile   = "build.config.hcl"
	CacheSuffix  = ".cache.hcl"
)

// Descriptor is the configuration descriptor written by configure.
type Descriptor struct {
	Version   string   `hcl:"version"`
	Variants  []string `hcl:"variants"`
	SourceDir string   `hcl:"source_dir,optional"`
}

func descriptorPath(bldRoot string) string {
	return filepath.Join(bldRoot, CacheDir, ConfigFile)
}

// ReadDescriptor loads the descriptor under bldRoot. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist).
func ReadDescriptor(bldRoot string) (*Descriptor, error) {
	path := descriptorPath(bldRoot)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
	}
	var d Descriptor
	if diags := gohcl.DecodeBody(file.Body, nil, &d); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", path, diags)
	}
	return &d, nil
}

// WriteConfiguration replaces the stored configuration under bldRoot: one
// cache file per environment plus the descriptor.
func WriteConfiguration(ctx context.Context, srcRoot, bldRoot string, envs []*env.Environment) error {
	logger := ctxlog.FromContext(ctx)
	dir := filepath.Join(bldRoot, CacheDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fsErr(dir, "cannot create cache directory", err)
	}

	old, err := fsutil.FilesWithSuffix(dir, CacheSuffix)
	if err != nil {
		return fsErr(dir, "cannot list cache directory", err)
	}
	for _, p := range old {
		if err := os.Remove(p); err != nil {
			return fsErr(p, "cannot remove stale cache file", err)
		}
	}

	d := Descriptor{Version: Version, SourceDir: srcRoot}
	for _, e := range envs {
		path := filepath.Join(dir, e.Variant()+CacheSuffix)
		if err := e.Store(path); err != nil {
			return configErr(path, "cannot store environment", err)
		}
		d.Variants = append(d.Variants, e.Variant())
		logger.Debug("Stored variant environment.", "variant", e.Variant(), "path", path)
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&d, f.Body())
	path := descriptorPath(bldRoot)
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		return fsErr(path, "cannot write configuration descriptor", err)
	}
	return nil
}

// LoadEnvs registers one environment per cache file found under the build
// root and returns how many were loaded.
func (c *Context) LoadEnvs(ctx context.Context) (int, error) {
	dir := filepath.Join(c.bldRoot, CacheDir)
	files, err := fsutil.FilesWithSuffix(dir, CacheSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fsErr(dir, "cannot list cache directory", err)
	}
	for _, p := range files {
		name := strings.TrimSuffix(filepath.Base(p), CacheSuffix)
		e, err := env.Load(p, name)
		if err != nil {
			return 0, configErr(p, "cannot load environment", err)
		}
		c.SetEnv(name, e)
		ctxlog.FromContext(ctx).Debug("Loaded variant environment.", "variant", name, "keys", len(e.Keys()))
	}
	return len(files), nil
}
