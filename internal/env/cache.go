package env

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// Store writes the environment as an HCL file with one attribute per
// variable, sorted by name.
func (e *Environment) Store(path string) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for _, k := range e.Keys() {
		if !hclsyntax.ValidIdentifier(k) {
			return fmt.Errorf("variable name %q cannot be stored", k)
		}
		body.SetAttributeValue(k, e.vars[k])
	}
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write environment %s: %w", path, err)
	}
	return nil
}

// Load reads an environment file written by Store.
func Load(path, variant string) (*Environment, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse environment %s: %w", path, diags)
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("read environment %s: %w", path, diags)
	}
	e := New(variant)
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("environment %s, variable %s: %w", path, name, diags)
		}
		e.Set(name, v)
	}
	return e, nil
}
