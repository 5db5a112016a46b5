package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// ExecutionRecord stores the start and end times of one task run.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Timeline is a concurrency-safe log of task executions.
type Timeline struct {
	mu      sync.Mutex
	records map[string]*ExecutionRecord
	order   []string
}

// NewTimeline returns an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{records: make(map[string]*ExecutionRecord)}
}

func (tl *Timeline) record(id string, rec *ExecutionRecord) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.records[id] = rec
	tl.order = append(tl.order, id)
}

// Get returns the record for id, or nil if it never ran.
func (tl *Timeline) Get(id string) *ExecutionRecord {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.records[id]
}

// Order lists task ids in completion order.
func (tl *Timeline) Order() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.order...)
}

// FakeTask is a scriptable task.Task for runner and scheduler tests.
type FakeTask struct {
	task.Base

	ID        string
	Status    task.Status
	StatusErr error
	RunErr    error
	PostErr   error
	// After makes the task answer AskLater until these have finished.
	After    []task.Task
	Sleep    time.Duration
	Timeline *Timeline
	// Installed counts Install calls.
	Installed int
	PostRuns  int
}

// NewFakeTask returns a runnable task recording into tl.
func NewFakeTask(id string, tl *Timeline) *FakeTask {
	return &FakeTask{ID: id, Status: task.RunMe, Timeline: tl}
}

func (f *FakeTask) String() string   { return "fake:" + f.ID }
func (f *FakeTask) UniqueID() string { return f.ID }

func (f *FakeTask) RunnableStatus(context.Context) (task.Status, error) {
	if f.StatusErr != nil {
		return task.RunMe, f.StatusErr
	}
	for _, dep := range f.After {
		if dep.State() == task.NotRun {
			return task.AskLater, nil
		}
	}
	return f.Status, nil
}

func (f *FakeTask) Run(ctx context.Context) error {
	rec := &ExecutionRecord{Start: time.Now()}
	if f.Sleep > 0 {
		select {
		case <-time.After(f.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	rec.End = time.Now()
	if f.Timeline != nil {
		f.Timeline.record(f.ID, rec)
	}
	return f.RunErr
}

func (f *FakeTask) PostRun(context.Context) error {
	f.PostRuns++
	return f.PostErr
}

func (f *FakeTask) Install(context.Context) error {
	f.Installed++
	return nil
}

func (f *FakeTask) FormatError() string { return task.FormatError(f) }

// FakeGenerator yields fixed tasks once.
type FakeGenerator struct {
	GenName   string
	GenTarget string
	GenDir    node.ID
	GenVar    string
	Tasks     []task.Task
	PostErr   error
	posted    bool
	PostCount int
}

func (g *FakeGenerator) Name() string    { return g.GenName }
func (g *FakeGenerator) Target() string  { return g.GenTarget }
func (g *FakeGenerator) Variant() string { return g.GenVar }
func (g *FakeGenerator) Dir() node.ID    { return g.GenDir }
func (g *FakeGenerator) Posted() bool    { return g.posted }

func (g *FakeGenerator) Post(context.Context) ([]task.Task, error) {
	if g.posted {
		return nil, nil
	}
	if g.PostErr != nil {
		return nil, g.PostErr
	}
	g.posted = true
	g.PostCount++
	return g.Tasks, nil
}

func (g *FakeGenerator) String() string {
	return fmt.Sprintf("gen(%s/%s)", g.GenVar, g.GenTarget)
}
