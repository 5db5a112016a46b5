package script

import (
	"context"
	"os"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
)

// File names looked up in the source tree.
const (
	BuildFile     = "build.hcl"
	ConfigureFile = "configure.hcl"
)

var declarationBlocks = []hcl.BlockHeaderSchema{
	{Type: "target", LabelNames: []string{"output"}},
	{Type: "install", LabelNames: []string{"name"}},
	{Type: "install_as", LabelNames: []string{"name"}},
	{Type: "symlink", LabelNames: []string{"name"}},
}

// fileSchema keeps the blocks in source order, which decides group
// membership.
var fileSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{{Name: "subdirs"}},
	Blocks:     append([]hcl.BlockHeaderSchema{{Type: "group", LabelNames: []string{"name"}}}, declarationBlocks...),
}

var groupSchema = &hcl.BodySchema{Blocks: declarationBlocks}

type targetBlock struct {
	Name        string         `hcl:"name,optional"`
	Rule        hcl.Expression `hcl:"rule"`
	Source      []string       `hcl:"source,optional"`
	Vars        []string       `hcl:"vars,optional"`
	Deps        []string       `hcl:"deps,optional"`
	Implicit    []string       `hcl:"implicit,optional"`
	Always      bool           `hcl:"always,optional"`
	Variants    []string       `hcl:"variants,optional"`
	InstallPath hcl.Expression `hcl:"install_path,optional"`
	Chmod       string         `hcl:"chmod,optional"`
}

type installBlock struct {
	Dest     hcl.Expression `hcl:"dest"`
	Files    []string       `hcl:"files"`
	Chmod    string         `hcl:"chmod,optional"`
	Variants []string       `hcl:"variants,optional"`
}

type installAsBlock struct {
	Dest     hcl.Expression `hcl:"dest"`
	File     string         `hcl:"file"`
	Chmod    string         `hcl:"chmod,optional"`
	Variants []string       `hcl:"variants,optional"`
}

type symlinkBlock struct {
	Dest     hcl.Expression `hcl:"dest"`
	Target   string         `hcl:"target"`
	Variants []string       `hcl:"variants,optional"`
}

type configureRoot struct {
	Variants []*variantBlock `hcl:"variant,block"`
	Remain   hcl.Body        `hcl:",remain"`
}

type variantBlock struct {
	Name    string         `hcl:"name,label"`
	Inherit string         `hcl:"inherit,optional"`
	Env     hcl.Expression `hcl:"env,optional"`
}

// isExprDefined reports whether an optional attribute was actually written.
// The decoder fills omitted ones with a zero-width placeholder expression.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	if !defined {
		ctxlog.FromContext(ctx).Debug("Optional attribute not set.", "attribute", attrName, "hcl_range", r.String())
	}
	return defined
}

func optionalExpr(ctx context.Context, expr hcl.Expression, attrName string) hcl.Expression {
	if !isExprDefined(ctx, expr, attrName) {
		return nil
	}
	return expr
}

// parseMode reads an octal permission string such as "0755". An empty string
// yields zero, which keeps the source file's mode.
func parseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v) & os.ModePerm, nil
}
