package app

import (
	"context"
	"strconv"

	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/specialistvlad/gridbuild/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// dumpDoc is the readable form of a snapshot. Nodes are named by their path
// relative to the source root.
type dumpDoc struct {
	Schema     int                          `yaml:"schema"`
	Nodes      int                          `yaml:"nodes"`
	LastID     uint64                       `yaml:"last_id"`
	SourceDir  string                       `yaml:"source_dir"`
	BuildDir   string                       `yaml:"build_dir"`
	SourceSigs map[string]string            `yaml:"source_sigs"`
	BuildSigs  map[string]map[string]string `yaml:"build_sigs"`
	RawDeps    map[string]map[string]string `yaml:"raw_deps"`
	TaskSigs   map[string]string            `yaml:"task_sigs"`
}

// Dump prints the persisted build state as YAML.
func (a *App) Dump(ctx context.Context) error {
	return a.run(ctx, "dump", func(ctx context.Context) error {
		bc, err := a.open(ctx, build.ModeNone, false)
		if err != nil {
			return err
		}
		doc := newDumpDoc(bc)

		enc := yaml.NewEncoder(a.outW)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	})
}

func newDumpDoc(bc *build.Context) *dumpDoc {
	snap := bc.Snapshot()
	tree := bc.Tree()
	name := func(id node.ID) string {
		n := tree.Get(id)
		if n == nil {
			return "#" + strconv.FormatUint(uint64(id), 10)
		}
		if rel, ok := n.RelTo(bc.SrcNode()); ok {
			return rel
		}
		return n.Path()
	}
	table := func(sigs map[node.ID]sig.Sig) map[string]string {
		out := make(map[string]string, len(sigs))
		for id, s := range sigs {
			out[name(id)] = s.String()
		}
		return out
	}

	doc := &dumpDoc{
		Schema:     snapshot.Version,
		Nodes:      len(snap.Nodes),
		LastID:     uint64(snap.LastID),
		SourceDir:  bc.SrcRoot(),
		BuildDir:   bc.BldRoot(),
		SourceSigs: table(snap.SourceSigs),
		BuildSigs:  make(map[string]map[string]string),
		RawDeps:    make(map[string]map[string]string),
		TaskSigs:   make(map[string]string),
	}
	for v, sigs := range snap.BuildSigs {
		doc.BuildSigs[v] = table(sigs)
	}
	for v, sigs := range snap.RawDeps {
		doc.RawDeps[v] = table(sigs)
	}
	for uid, s := range snap.TaskSigs {
		doc.TaskSigs[uid] = s.String()
	}
	return doc
}
