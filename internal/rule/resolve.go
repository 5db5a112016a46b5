package rule

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/zclconf/go-cty/cty"
)

// input resolves rel below dir to a file node. A file that does not exist
// yet is declared as a build output, expected to be produced by another task.
func input(ctx context.Context, bc *build.Context, dir *node.Node, rel string) (*node.Node, error) {
	n, err := bc.FindResource(ctx, dir, rel)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return n, nil
	}
	n, err = bc.FindOrDeclare(ctx, dir, rel)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", rel, err)
	}
	return n, nil
}

// waitFor checks the producers of the build nodes among ns. It answers
// AskLater while one of them has not finished, and fails when one of them
// failed or when a build node has neither a producer nor a signature.
func waitFor(bc *build.Context, self task.Task, variant string, ns []*node.Node) (task.Status, error) {
	for _, n := range ns {
		if n.Kind() != node.Build {
			continue
		}
		p := bc.Producer(variant, n.ID())
		if p == nil || p == self {
			if _, ok := bc.BuildSig(variant, n.ID()); !ok && p == nil {
				return task.RunMe, fmt.Errorf("%s is neither a source file nor produced by any task", n.Path())
			}
			continue
		}
		switch st := p.State(); {
		case st == task.NotRun:
			return task.AskLater, nil
		case st.Failed():
			return task.RunMe, fmt.Errorf("dependency %s failed", p)
		}
	}
	return task.RunMe, nil
}

// evalString evaluates an optional expression in the variant's environment.
// A missing expression evaluates to "".
func evalString(expr hcl.Expression, e *env.Environment, extra map[string]cty.Value) (string, error) {
	if expr == nil {
		return "", nil
	}
	ectx, err := e.EvalContext(extra)
	if err != nil {
		return "", err
	}
	return env.EvalString(expr, ectx)
}

func pathList(paths []string) cty.Value {
	vals := make([]cty.Value, len(paths))
	for i, p := range paths {
		vals[i] = cty.StringVal(p)
	}
	return cty.TupleVal(vals)
}

func relNames(bc *build.Context, ns []*node.Node) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		if rel, ok := n.RelTo(bc.SrcNode()); ok {
			out[i] = rel
		} else {
			out[i] = n.Path()
		}
	}
	return out
}
