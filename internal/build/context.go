package build

import (
	"context"
	"io"
	"sort"

	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/executor"
	"github.com/specialistvlad/gridbuild/internal/metrics"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// Version is written into the configuration descriptor. A descriptor with a
// different version makes the build refuse to start.
const Version = "1.0.0"

// Mode selects what install hooks do during a run.
type Mode int

const (
	ModeNone Mode = iota
	ModeInstall
	ModeUninstall
)

func (m Mode) String() string {
	switch m {
	case ModeInstall:
		return "install"
	case ModeUninstall:
		return "uninstall"
	default:
		return "none"
	}
}

// Runner executes the materialised tasks.
type Runner interface {
	Run(ctx context.Context, m *task.Manager) (*executor.Result, error)
}

// Options are fixed for the lifetime of a Context.
type Options struct {
	Jobs      int
	KeepGoing bool
	// Targets restricts the build to the named generators. Entries may hold
	// several comma-separated names.
	Targets []string
	// LaunchDir is where the user started the build. Defaults to the
	// working directory.
	LaunchDir string
	// ScriptDir is the directory of the project's main build script.
	// Defaults to the source root.
	ScriptDir string
	DestDir   string
	// CacheDir holds task outputs keyed by task signature, shared between
	// builds. Empty disables the cache.
	CacheDir string
	Mode     Mode
	Progress io.Writer
	Metrics  *metrics.Collector
}

// Context is the state of one build invocation.
type Context struct {
	opts Options

	tree    *node.Tree
	srcNode node.ID
	bldNode node.ID
	srcRoot string
	bldRoot string

	sourceSigs map[node.ID]sig.Sig
	buildSigs  map[string]map[node.ID]sig.Sig
	rawDeps    map[string]map[node.ID]sig.Sig
	taskSigs   map[string]sig.Sig
	depsMan    map[node.ID][]any

	envs map[string]*env.Environment

	scanned     map[node.ID]bool
	dirContents map[node.ID]map[string]bool
	producers   map[string]map[node.ID]task.Task

	tasks      *task.Manager
	index      map[string]task.Generator
	indexDirty bool

	installed      []string
	uninstallWarns int

	// Runner overrides the default parallel runner.
	Runner Runner
}

// New returns an empty Context. Call LoadDirs before anything else.
func New(opts Options) *Context {
	c := &Context{
		opts:        opts,
		envs:        make(map[string]*env.Environment),
		scanned:     make(map[node.ID]bool),
		dirContents: make(map[node.ID]map[string]bool),
		producers:   make(map[string]map[node.ID]task.Task),
		depsMan:     make(map[node.ID][]any),
		tasks:       task.NewManager(),
	}
	c.resetState()
	return c
}

func (c *Context) resetState() {
	c.tree = nil
	c.sourceSigs = make(map[node.ID]sig.Sig)
	c.buildSigs = make(map[string]map[node.ID]sig.Sig)
	c.rawDeps = make(map[string]map[node.ID]sig.Sig)
	c.taskSigs = make(map[string]sig.Sig)
}

func (c *Context) Options() Options     { return c.opts }
func (c *Context) Tree() *node.Tree     { return c.tree }
func (c *Context) SrcNode() *node.Node  { return c.tree.Get(c.srcNode) }
func (c *Context) BldNode() *node.Node  { return c.tree.Get(c.bldNode) }
func (c *Context) SrcRoot() string      { return c.srcRoot }
func (c *Context) BldRoot() string      { return c.bldRoot }
func (c *Context) Tasks() *task.Manager { return c.tasks }
func (c *Context) Mode() Mode           { return c.opts.Mode }
func (c *Context) Installed() []string  { return append([]string(nil), c.installed...) }

// SetEnv registers an environment under name, replacing any previous one,
// and makes sure its variant has signature tables.
func (c *Context) SetEnv(name string, e *env.Environment) {
	c.envs[name] = e
	c.InitVariants()
}

// Env returns the environment registered under name, or nil.
func (c *Context) Env(name string) *env.Environment { return c.envs[name] }

// EnvForVariant returns the first environment (by name) of variant.
func (c *Context) EnvForVariant(variant string) *env.Environment {
	names := make([]string, 0, len(c.envs))
	for n := range c.envs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if c.envs[n].Variant() == variant {
			return c.envs[n]
		}
	}
	return nil
}

// InitVariants creates the per-variant signature tables of every registered
// environment.
func (c *Context) InitVariants() {
	for _, e := range c.envs {
		v := e.Variant()
		if c.buildSigs[v] == nil {
			c.buildSigs[v] = make(map[node.ID]sig.Sig)
		}
		if c.rawDeps[v] == nil {
			c.rawDeps[v] = make(map[node.ID]sig.Sig)
		}
	}
}

// Variants lists the variants of the registered environments, sorted.
func (c *Context) Variants() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.envs {
		if !seen[e.Variant()] {
			seen[e.Variant()] = true
			out = append(out, e.Variant())
		}
	}
	sort.Strings(out)
	return out
}

// AddGenerator declares g in the current group.
func (c *Context) AddGenerator(g task.Generator) {
	c.tasks.AddGenerator(g)
	c.indexDirty = true
}

// SourceSig returns the shared signature of a source node.
func (c *Context) SourceSig(id node.ID) (sig.Sig, bool) {
	s, ok := c.sourceSigs[id]
	return s, ok
}

// BuildSig returns the signature of a build node in variant.
func (c *Context) BuildSig(variant string, id node.ID) (sig.Sig, bool) {
	s, ok := c.buildSigs[variant][id]
	return s, ok
}

// SetBuildSig records the signature of a freshly produced build node.
func (c *Context) SetBuildSig(variant string, id node.ID, s sig.Sig) {
	tbl := c.buildSigs[variant]
	if tbl == nil {
		tbl = make(map[node.ID]sig.Sig)
		c.buildSigs[variant] = tbl
	}
	tbl[id] = s
}

// NodeSig returns the signature of n as seen from variant: the shared table
// for sources, the variant's table for build nodes.
func (c *Context) NodeSig(variant string, n *node.Node) (sig.Sig, bool) {
	if n.Kind() == node.Build {
		return c.BuildSig(variant, n.ID())
	}
	return c.SourceSig(n.ID())
}

// RawDep returns the opaque dependency signature recorded for a node.
func (c *Context) RawDep(variant string, id node.ID) (sig.Sig, bool) {
	s, ok := c.rawDeps[variant][id]
	return s, ok
}

func (c *Context) SetRawDep(variant string, id node.ID, s sig.Sig) {
	tbl := c.rawDeps[variant]
	if tbl == nil {
		tbl = make(map[node.ID]sig.Sig)
		c.rawDeps[variant] = tbl
	}
	tbl[id] = s
}

// TaskSig returns the signature a task had when it last ran successfully.
func (c *Context) TaskSig(uid string) (sig.Sig, bool) {
	s, ok := c.taskSigs[uid]
	return s, ok
}

func (c *Context) SetTaskSig(uid string, s sig.Sig) { c.taskSigs[uid] = s }

// ManualDeps returns the extra dependency values attached to a node.
func (c *Context) ManualDeps(id node.ID) []any { return c.depsMan[id] }

// AddManualDep attaches an extra dependency value to a node. Values are
// node.ID (a file whose signature counts) or string.
func (c *Context) AddManualDep(id node.ID, v any) {
	c.depsMan[id] = append(c.depsMan[id], v)
}

// Producer returns the task that outputs node id in variant, if any.
func (c *Context) Producer(variant string, id node.ID) task.Task {
	return c.producers[variant][id]
}

// SetProducer records which task writes a build node.
func (c *Context) SetProducer(variant string, id node.ID, t task.Task) {
	tbl := c.producers[variant]
	if tbl == nil {
		tbl = make(map[node.ID]task.Task)
		c.producers[variant] = tbl
	}
	tbl[id] = t
}
