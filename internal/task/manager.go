package task

import "fmt"

// Group is one barrier-delimited batch of generators and their tasks.
type Group struct {
	Name       string
	generators []Generator
	tasks      []Task
}

func (g *Group) Generators() []Generator { return g.generators }
func (g *Group) Tasks() []Task           { return g.tasks }

// Manager owns the ordered groups.
type Manager struct {
	groups  []*Group
	byName  map[string]int
	current int
}

// NewManager returns a manager with a single unnamed group.
func NewManager() *Manager {
	return &Manager{groups: []*Group{{}}, byName: make(map[string]int)}
}

// AddGroup appends a new group and makes it current. A still empty unnamed
// current group is reused instead of leaving an empty barrier behind.
func (m *Manager) AddGroup(name string) error {
	if _, ok := m.byName[name]; ok && name != "" {
		return fmt.Errorf("group %q already exists", name)
	}
	cur := m.groups[m.current]
	if cur.Name == "" && len(cur.generators) == 0 && len(cur.tasks) == 0 && m.current == len(m.groups)-1 {
		cur.Name = name
	} else {
		m.groups = append(m.groups, &Group{Name: name})
		m.current = len(m.groups) - 1
	}
	if name != "" {
		m.byName[name] = m.current
	}
	return nil
}

// SetGroup makes an existing named group current.
func (m *Manager) SetGroup(name string) error {
	i, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("no group named %q", name)
	}
	m.current = i
	return nil
}

// UseGroup selects the named group, creating it on first use.
func (m *Manager) UseGroup(name string) error {
	if _, ok := m.byName[name]; ok {
		return m.SetGroup(name)
	}
	return m.AddGroup(name)
}

// Current returns the index of the group new generators go to.
func (m *Manager) Current() int { return m.current }

// Groups returns the groups in barrier order.
func (m *Manager) Groups() []*Group { return m.groups }

// AddGenerator registers g in the current group.
func (m *Manager) AddGenerator(g Generator) {
	grp := m.groups[m.current]
	grp.generators = append(grp.generators, g)
}

// AddTasks appends tasks to the group at index i.
func (m *Manager) AddTasks(i int, ts ...Task) {
	m.groups[i].tasks = append(m.groups[i].tasks, ts...)
}

// Generators lists every generator in group order.
func (m *Manager) Generators() []Generator {
	var out []Generator
	for _, g := range m.groups {
		out = append(out, g.generators...)
	}
	return out
}

// Tasks lists every materialised task in group order.
func (m *Manager) Tasks() []Task {
	var out []Task
	for _, g := range m.groups {
		out = append(out, g.tasks...)
	}
	return out
}

// Total is the number of materialised tasks.
func (m *Manager) Total() int {
	n := 0
	for _, g := range m.groups {
		n += len(g.tasks)
	}
	return n
}
