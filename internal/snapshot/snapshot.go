// Package snapshot defines the on-disk schema of the state the build carries
// from one run to the next, and reads and writes it.
//
// The schema is explicit and versioned: any field added or removed here is a
// schema change and must bump Version. A file with another version is treated
// as absent by callers.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/vmihailenco/msgpack/v5"
)

// Version of the schema below.
const Version = 1

// ErrVersion reports a snapshot written with another schema version.
var ErrVersion = errors.New("snapshot schema version mismatch")

// Node is the persisted form of one tree node.
type Node struct {
	ID     uint64 `msgpack:"id"`
	Parent uint64 `msgpack:"parent"`
	Name   string `msgpack:"name"`
	Kind   uint8  `msgpack:"kind"`
}

// Snapshot is everything persisted between runs, and nothing else.
type Snapshot struct {
	Version int     `msgpack:"version"`
	Nodes   []Node  `msgpack:"nodes"`
	LastID  node.ID `msgpack:"last_id"`
	SrcNode node.ID `msgpack:"src_node"`
	BldNode node.ID `msgpack:"bld_node"`

	SourceSigs map[node.ID]sig.Sig            `msgpack:"source_sigs"`
	BuildSigs  map[string]map[node.ID]sig.Sig `msgpack:"build_sigs"`
	RawDeps    map[string]map[node.ID]sig.Sig `msgpack:"raw_deps"`
	TaskSigs   map[string]sig.Sig             `msgpack:"task_sigs"`
}

// FromTree fills the node fields from a tree.
func (s *Snapshot) FromTree(t *node.Tree) {
	recs := t.Records()
	s.Nodes = make([]Node, len(recs))
	for i, r := range recs {
		s.Nodes[i] = Node{ID: uint64(r.ID), Parent: uint64(r.Parent), Name: r.Name, Kind: uint8(r.Kind)}
	}
	s.LastID = t.LastID()
}

// Tree rebuilds the node tree.
func (s *Snapshot) Tree() (*node.Tree, error) {
	recs := make([]node.Record, len(s.Nodes))
	for i, n := range s.Nodes {
		recs[i] = node.Record{ID: node.ID(n.ID), Parent: node.ID(n.Parent), Name: n.Name, Kind: node.Kind(n.Kind)}
	}
	return node.Restore(recs, s.LastID)
}

// Encode writes s to w, stamping the current schema version. Map keys are
// sorted so equal snapshots encode to equal bytes.
func Encode(w io.Writer, s *Snapshot) error {
	s.Version = Version
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	return enc.Encode(s)
}

// Decode reads a snapshot and checks its schema version.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: file has %d, engine reads %d", ErrVersion, s.Version, Version)
	}
	return &s, nil
}

// Read loads the snapshot at path.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// Write stores s at path atomically: the data goes to a temporary file in the
// same directory, the previous file is removed, then the temporary file is
// renamed into place. A crash leaves either the old file, no file, or the
// new one, never a partial file under the canonical name.
func Write(path string, s *Snapshot) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, &buf); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	committed = true
	return nil
}
