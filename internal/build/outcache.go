package build

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
)

// Output cache layout:
//
//	{CacheDir}/
//	  {sig[0:2]}/
//	    {sig}/
//	      {output name}...

func (c *Context) cacheEntry(s sig.Sig) string {
	hex := s.String()
	return filepath.Join(c.opts.CacheDir, hex[:2], hex)
}

func (c *Context) countCache(result string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.Cache(result)
	}
}

// RetrieveOutputs copies the outputs of the task with signature s from the
// output cache into the variant's build directory. It reports false when the
// cache is disabled, holds no entry for s, or the entry was replaced while it
// was being read. Restored cache files are touched so that the least used
// entries can be pruned by age.
func (c *Context) RetrieveOutputs(ctx context.Context, s sig.Sig, variant string, outputs []*node.Node) bool {
	if c.opts.CacheDir == "" || len(outputs) == 0 {
		return false
	}
	logger := ctxlog.FromContext(ctx)
	dir := c.cacheEntry(s)
	before, err := os.Stat(dir)
	if err != nil {
		c.countCache("miss")
		return false
	}

	now := time.Now()
	for _, out := range outputs {
		src := filepath.Join(dir, out.Name())
		info, err := os.Stat(src)
		if err != nil {
			logger.Debug("Cache entry is incomplete.", "entry", dir, "output", out.Name())
			c.countCache("miss")
			return false
		}
		dst := c.AbsPath(out, variant)
		if err := restoreFile(src, dst, info); err != nil {
			logger.Debug("Cannot restore from cache.", "entry", dir, "error", err)
			c.countCache("miss")
			return false
		}
		_ = os.Chtimes(src, now, now)
	}

	after, err := os.Stat(dir)
	if err != nil || !after.ModTime().Equal(before.ModTime()) {
		logger.Debug("Cache entry changed while reading.", "entry", dir)
		c.countCache("miss")
		return false
	}
	c.countCache("hit")
	return true
}

func restoreFile(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_ = os.Remove(dst)
	if err := copyFile(src, dst, info); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// StoreOutputs publishes the outputs of the task with signature s to the
// output cache. The entry is assembled in a temporary directory and renamed
// into place, replacing any previous entry.
func (c *Context) StoreOutputs(ctx context.Context, s sig.Sig, variant string, outputs []*node.Node) error {
	if c.opts.CacheDir == "" || len(outputs) == 0 {
		return nil
	}
	entry := c.cacheEntry(s)
	parent := filepath.Dir(entry)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fsErr(parent, "cannot create cache directory", err)
	}
	tmp, err := os.MkdirTemp(parent, "tmp-"+filepath.Base(entry)+"-")
	if err != nil {
		return fsErr(parent, "cannot create cache entry", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	for _, out := range outputs {
		src := c.AbsPath(out, variant)
		info, err := os.Stat(src)
		if err != nil {
			return fsErr(src, "output does not exist", err)
		}
		if err := restoreFile(src, filepath.Join(tmp, out.Name()), info); err != nil {
			return fsErr(src, "cannot copy output into the cache", err)
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return fsErr(tmp, "cannot set cache entry permissions", err)
	}

	_ = os.RemoveAll(entry)
	if err := os.Rename(tmp, entry); err != nil {
		return fsErr(entry, "cannot publish cache entry", err)
	}
	committed = true
	c.countCache("store")
	ctxlog.FromContext(ctx).Debug("Outputs stored in cache.", "entry", entry, "outputs", len(outputs))
	return nil
}
