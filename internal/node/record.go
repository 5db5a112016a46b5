package node

import "fmt"

// Record is the flat form of a Node used for persistence.
type Record struct {
	ID     ID
	Parent ID
	Name   string
	Kind   Kind
}

// Records flattens the tree parents-first, keeping child order.
func (t *Tree) Records() []Record {
	out := make([]Record, 0, len(t.nodes))
	Walk(t.Root(), func(n *Node) bool {
		out = append(out, Record{ID: n.id, Parent: n.parent, Name: n.name, Kind: n.kind})
		return true
	})
	return out
}

// Restore rebuilds a tree from Records produced by Records. last is the saved
// identity counter; it is raised if any record carries a larger ID.
func Restore(records []Record, last ID) (*Tree, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no node records")
	}
	t := &Tree{nodes: make(map[ID]*Node, len(records)), last: last}
	for i, r := range records {
		if r.ID == NoID {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		if _, dup := t.nodes[r.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", r.ID)
		}
		n := &Node{id: r.ID, name: r.Name, kind: r.Kind, parent: r.Parent, tree: t}
		if r.Parent == NoID {
			if t.root != NoID {
				return nil, fmt.Errorf("second root node %d", r.ID)
			}
			if r.Kind != Dir {
				return nil, fmt.Errorf("root node %d is a %s", r.ID, r.Kind)
			}
			t.root = r.ID
		} else {
			p, ok := t.nodes[r.Parent]
			if !ok {
				return nil, fmt.Errorf("node %d refers to unknown parent %d", r.ID, r.Parent)
			}
			if p.kind != Dir {
				return nil, fmt.Errorf("node %d has non-directory parent %d", r.ID, r.Parent)
			}
			if p.index == nil {
				p.index = make(map[string]ID)
			}
			if _, dup := p.index[r.Name]; dup {
				return nil, fmt.Errorf("duplicate child %q under node %d", r.Name, r.Parent)
			}
			p.children = append(p.children, r.ID)
			p.index[r.Name] = r.ID
		}
		t.nodes[r.ID] = n
		if r.ID > t.last {
			t.last = r.ID
		}
	}
	if t.root == NoID {
		return nil, fmt.Errorf("no root node")
	}
	return t, nil
}
