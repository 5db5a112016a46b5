package build

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/node"
)

// InstallPath substitutes ${VAR} references in tmpl from e and prefixes the
// result with the destination directory, if any.
func (c *Context) InstallPath(e *env.Environment, tmpl string) (string, error) {
	p, err := e.Subst(filepath.FromSlash(tmpl))
	if err != nil {
		return "", configErr(tmpl, "cannot expand install path", err)
	}
	if c.opts.DestDir != "" {
		p = filepath.Join(c.opts.DestDir, strings.TrimLeft(p, string(filepath.Separator)))
	}
	return p, nil
}

// InstallFiles installs or removes each file under the directory destTmpl.
// It returns the destination paths handled. Outside install and uninstall
// mode, and for an empty destination, it does nothing.
func (c *Context) InstallFiles(ctx context.Context, e *env.Environment, destTmpl string, files []*node.Node, perm os.FileMode) ([]string, error) {
	if destTmpl == "" || c.opts.Mode == ModeNone {
		return nil, nil
	}
	dest, err := c.InstallPath(e, destTmpl)
	if err != nil {
		return nil, err
	}
	if c.opts.Mode == ModeInstall {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, fsErr(dest, "cannot create install directory", err)
		}
	}

	var done []string
	for _, n := range files {
		tgt := filepath.Join(dest, n.Name())
		ok, err := c.doInstall(ctx, c.AbsPath(n, e.Variant()), tgt, perm)
		if err != nil {
			return done, err
		}
		if ok {
			done = append(done, tgt)
		}
	}
	return done, nil
}

// InstallAs installs or removes one file under an explicit destination name.
func (c *Context) InstallAs(ctx context.Context, e *env.Environment, destTmpl string, file *node.Node, perm os.FileMode) (bool, error) {
	if c.opts.Mode == ModeNone {
		return false, nil
	}
	if destTmpl == "" {
		return false, configErr(file.Path(), "install_as has no destination", nil)
	}
	tgt, err := c.InstallPath(e, destTmpl)
	if err != nil {
		return false, err
	}
	if c.opts.Mode == ModeInstall {
		if err := os.MkdirAll(filepath.Dir(tgt), 0o755); err != nil {
			return false, fsErr(filepath.Dir(tgt), "cannot create install directory", err)
		}
	}
	return c.doInstall(ctx, c.AbsPath(file, e.Variant()), tgt, perm)
}

// SymlinkAs creates, repairs or removes a symbolic link at destTmpl pointing
// to target. It does nothing on Windows.
func (c *Context) SymlinkAs(ctx context.Context, e *env.Environment, destTmpl, target string) error {
	if runtime.GOOS == "windows" || c.opts.Mode == ModeNone {
		return nil
	}
	if destTmpl == "" {
		return configErr(target, "symlink has no destination", nil)
	}
	tgt, err := c.InstallPath(e, destTmpl)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)

	if c.opts.Mode == ModeUninstall {
		logger.Info("Removing symlink.", "path", tgt)
		c.uninstall(ctx, tgt)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(tgt), 0o755); err != nil {
		return fsErr(filepath.Dir(tgt), "cannot create install directory", err)
	}
	if cur, err := os.Readlink(tgt); err == nil && cur == target {
		return nil
	}
	_ = os.Remove(tgt)
	logger.Info("Creating symlink.", "path", tgt, "target", target)
	if err := os.Symlink(target, tgt); err != nil {
		return fsErr(tgt, "cannot create symlink", err)
	}
	c.record(tgt)
	return nil
}

// doInstall copies src to tgt in install mode, or removes tgt in uninstall
// mode. It reports whether tgt was handled; an up-to-date copy is not. A zero
// perm keeps the source file's permission bits.
func (c *Context) doInstall(ctx context.Context, src, tgt string, perm os.FileMode) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	if c.opts.Mode == ModeUninstall {
		logger.Info("Uninstalling file.", "path", tgt)
		c.uninstall(ctx, tgt)
		return true, nil
	}

	srcInfo, srcErr := os.Stat(src)
	if dstInfo, err := os.Stat(tgt); err == nil && srcErr == nil {
		if !dstInfo.ModTime().Before(srcInfo.ModTime()) && dstInfo.Size() == srcInfo.Size() {
			return false, nil
		}
	}
	if srcErr != nil {
		return false, fsErr(src, "file does not exist", srcErr)
	}

	label := src
	if rel, err := filepath.Rel(c.srcRoot, src); err == nil && !strings.HasPrefix(rel, "..") {
		label = rel
	}
	logger.Info("Installing file.", "source", label, "destination", tgt)

	if perm == 0 {
		perm = srcInfo.Mode().Perm()
	}
	_ = os.Remove(tgt)
	if err := copyFile(src, tgt, srcInfo); err != nil {
		return false, fsErr(tgt, "could not install the file", err)
	}
	if err := os.Chmod(tgt, perm); err != nil {
		return false, fsErr(tgt, "could not set permissions", err)
	}
	c.record(tgt)
	return true, nil
}

func (c *Context) uninstall(ctx context.Context, tgt string) {
	c.record(tgt)
	if err := os.Remove(tgt); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if c.uninstallWarns == 0 {
			ctxlog.FromContext(ctx).Warn("Some files could not be uninstalled.")
		}
		c.uninstallWarns++
		ctxlog.FromContext(ctx).Debug("Cannot remove file.", "path", tgt, "error", err)
	}
}

func (c *Context) record(path string) {
	c.installed = append(c.installed, path)
	if c.opts.Metrics != nil {
		c.opts.Metrics.Installed(c.opts.Mode.String())
	}
}

// copyFile copies contents and modification time.
func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CleanEmptyDirectories removes the now empty parent directories of every
// path recorded during this run, deepest first. Directories closer to the
// filesystem root than two levels, and the destination directory itself,
// are left alone.
func (c *Context) CleanEmptyDirectories(ctx context.Context) {
	stop := ""
	if c.opts.DestDir != "" {
		stop = filepath.Clean(c.opts.DestDir)
	}
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range c.installed {
		for d := filepath.Dir(p); depth(d) >= 2 && d != stop; d = filepath.Dir(d) {
			if seen[d] {
				break
			}
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := depth(dirs[i]), depth(dirs[j])
		if di != dj {
			return di > dj
		}
		return dirs[i] > dirs[j]
	})

	logger := ctxlog.FromContext(ctx)
	for _, d := range dirs {
		if err := os.Remove(d); err == nil {
			logger.Debug("Removed empty directory.", "path", d)
		}
	}
}

func depth(p string) int {
	p = filepath.Clean(p)
	p = p[len(filepath.VolumeName(p)):]
	n := 0
	for _, part := range strings.Split(p, string(filepath.Separator)) {
		if part != "" {
			n++
		}
	}
	return n
}
