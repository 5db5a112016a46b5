// Package env holds the construction variables of one build variant.
//
// Values are cty values so that they round-trip through HCL cache files and
// can be interpolated with HCL template syntax ("${PREFIX}/bin").
package env

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// DefaultVariant is the variant name used when none is configured.
const DefaultVariant = "default"

// Environment is the variable set of one variant.
type Environment struct {
	variant string
	vars    map[string]cty.Value
}

// New returns an empty Environment for variant.
func New(variant string) *Environment {
	if variant == "" {
		variant = DefaultVariant
	}
	return &Environment{variant: variant, vars: make(map[string]cty.Value)}
}

// Variant is the name of the build configuration this environment describes.
func (e *Environment) Variant() string { return e.variant }

// Set stores a value. Null values delete the key.
func (e *Environment) Set(key string, v cty.Value) {
	if v.IsNull() {
		delete(e.vars, key)
		return
	}
	e.vars[key] = v
}

// SetString stores a string value.
func (e *Environment) SetString(key, v string) {
	e.vars[key] = cty.StringVal(v)
}

// SetList stores a list of strings.
func (e *Environment) SetList(key string, vs ...string) {
	if len(vs) == 0 {
		e.vars[key] = cty.ListValEmpty(cty.String)
		return
	}
	vals := make([]cty.Value, len(vs))
	for i, v := range vs {
		vals[i] = cty.StringVal(v)
	}
	e.vars[key] = cty.ListVal(vals)
}

// Get returns the raw value, or cty.NilVal when unset.
func (e *Environment) Get(key string) cty.Value {
	v, ok := e.vars[key]
	if !ok {
		return cty.NilVal
	}
	return v
}

// GetString returns the value rendered as a string. Lists are joined with a
// single space; unset keys yield "".
func (e *Environment) GetString(key string) string {
	v, ok := e.vars[key]
	if !ok {
		return ""
	}
	s, err := flatten(v)
	if err != nil {
		return ""
	}
	return s.AsString()
}

// Keys returns the variable names in sorted order.
func (e *Environment) Keys() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Derive copies the variables into a new Environment for another variant.
func (e *Environment) Derive(variant string) *Environment {
	out := New(variant)
	for k, v := range e.vars {
		out.vars[k] = v
	}
	return out
}

// Variables returns every value flattened to a string, ready to be used as
// HCL template variables. extra entries override environment values.
func (e *Environment) Variables(extra map[string]cty.Value) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(e.vars)+len(extra))
	for k, v := range e.vars {
		s, err := flatten(v)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", k, err)
		}
		out[k] = s
	}
	for k, v := range extra {
		out[k] = v
	}
	return out, nil
}

// EvalContext builds an HCL evaluation context over the variables.
func (e *Environment) EvalContext(extra map[string]cty.Value) (*hcl.EvalContext, error) {
	vars, err := e.Variables(extra)
	if err != nil {
		return nil, err
	}
	return &hcl.EvalContext{Variables: vars}, nil
}

// Subst replaces ${VAR} references in tmpl with variable values. A literal
// "$${" produces "${". Unknown variables are an error.
func (e *Environment) Subst(tmpl string) (string, error) {
	if !strings.Contains(tmpl, "${") {
		return tmpl, nil
	}
	expr, diags := hclsyntax.ParseTemplate([]byte(tmpl), "subst", hcl.InitialPos)
	if diags.HasErrors() {
		return "", fmt.Errorf("parse %q: %w", tmpl, diags)
	}
	ctx, err := e.EvalContext(nil)
	if err != nil {
		return "", err
	}
	return EvalString(expr, ctx)
}

// EvalString evaluates expr and converts the result to a string.
func EvalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	v, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	s, err := flatten(v)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

// Hash returns the signature of the named variables' values. Unset names
// contribute an empty marker so that setting them later changes the result.
func (e *Environment) Hash(keys []string) sig.Sig {
	h := sig.New()
	for _, k := range keys {
		h.String(k)
		v, ok := e.vars[k]
		if !ok {
			h.String("")
			continue
		}
		b, err := ctyjson.Marshal(v, v.Type())
		if err != nil {
			b = []byte(v.GoString())
		}
		h.Bytes(b)
	}
	return h.Sum()
}

// flatten renders v as a cty string. Collections are space joined.
func flatten(v cty.Value) (cty.Value, error) {
	if v.IsNull() {
		return cty.StringVal(""), nil
	}
	if !v.IsKnown() {
		return cty.NilVal, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		var parts []string
		it := v.ElementIterator()
		for it.Next() {
			_, el := it.Element()
			s, err := flatten(el)
			if err != nil {
				return cty.NilVal, err
			}
			parts = append(parts, s.AsString())
		}
		return cty.StringVal(strings.Join(parts, " ")), nil
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot use %s as a string: %w", ty.FriendlyName(), err)
	}
	return s, nil
}
