package script

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// LoadConfigure reads configure.hcl and returns one environment per declared
// variant, in declaration order. A file without variant blocks yields a
// single empty default environment.
//
// Variable values may refer to the process environment as environ.NAME. A
// variant can start from the variables of an earlier one with inherit.
func LoadConfigure(ctx context.Context, path string) ([]*env.Environment, error) {
	logger := ctxlog.FromContext(ctx)

	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, scriptErr(path, "failed to parse configuration script", diags)
	}
	var root configureRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, scriptErr(path, "failed to decode configuration script", diags)
	}
	if len(root.Variants) == 0 {
		logger.Debug("No variants declared, using the default one.", "path", path)
		return []*env.Environment{env.New(env.DefaultVariant)}, nil
	}

	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{"environ": environ()}}
	byName := make(map[string]*env.Environment)
	var out []*env.Environment
	for _, vb := range root.Variants {
		if _, dup := byName[vb.Name]; dup {
			return nil, scriptErr(path, fmt.Sprintf("variant %q is declared twice", vb.Name), nil)
		}
		e := env.New(vb.Name)
		if vb.Inherit != "" {
			base, ok := byName[vb.Inherit]
			if !ok {
				return nil, scriptErr(path, fmt.Sprintf("variant %q inherits from unknown variant %q", vb.Name, vb.Inherit), nil)
			}
			e = base.Derive(vb.Name)
		}
		if isExprDefined(ctx, vb.Env, "env") {
			if err := setVariables(e, vb.Env, evalCtx); err != nil {
				return nil, scriptErr(path, fmt.Sprintf("variant %q", vb.Name), err)
			}
		}
		byName[vb.Name] = e
		out = append(out, e)
		logger.Debug("Variant configured.", "variant", vb.Name, "keys", len(e.Keys()))
	}
	return out, nil
}

// setVariables stores every attribute of the env object. Values must be
// strings or lists of strings.
func setVariables(e *env.Environment, expr hcl.Expression, evalCtx *hcl.EvalContext) error {
	v, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return diags
	}
	if v.IsNull() {
		return nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("env must be an object, got %s", ty.FriendlyName())
	}
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		name := k.AsString()
		if s, err := convert.Convert(val, cty.String); err == nil && val.Type().IsPrimitiveType() {
			e.Set(name, s)
			continue
		}
		list, err := convert.Convert(val, cty.List(cty.String))
		if err != nil {
			return fmt.Errorf("variable %s must be a string or a list of strings", name)
		}
		e.Set(name, list)
	}
	return nil
}

func environ() cty.Value {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	if len(vars) == 0 {
		return cty.MapValEmpty(cty.String)
	}
	return cty.MapVal(vars)
}
