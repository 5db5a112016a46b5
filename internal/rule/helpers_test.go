package rule_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root string
	src  string
	bld  string
	runs string
	ctx  context.Context
	log  *testutil.SafeBuffer
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := testutil.TempDir(t)
	f := &fixture{
		root: root,
		src:  filepath.Join(root, "src"),
		bld:  filepath.Join(root, "bld"),
		runs: filepath.Join(root, "runs.log"),
	}
	require.NoError(t, os.MkdirAll(f.src, 0o755))
	testutil.WriteFiles(t, f.src, files)
	f.ctx, f.log = testutil.LogContext(t)
	return f
}

// env returns an environment whose LOG variable points at the run log.
func (f *fixture) env(variant string) *env.Environment {
	e := env.New(variant)
	e.SetString("LOG", f.runs)
	return e
}

// open simulates a fresh process against the fixture's directories.
func (f *fixture) open(t *testing.T, opts build.Options, envs ...*env.Environment) *build.Context {
	t.Helper()
	if len(envs) == 0 {
		envs = []*env.Environment{f.env(env.DefaultVariant)}
	}
	if opts.LaunchDir == "" {
		opts.LaunchDir = f.src
	}
	bc := build.New(opts)
	for _, e := range envs {
		bc.SetEnv(e.Variant(), e)
	}
	require.NoError(t, bc.LoadDirs(f.ctx, f.src, f.bld))
	return bc
}

// ranLines returns the lines appended to the run log so far.
func (f *fixture) ranLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.runs)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	testutil.WriteFiles(t, f.src, map[string]string{rel: content})
}

func tmpl(t *testing.T, s string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseTemplate([]byte(s), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

// copyRule copies its sources into the target and logs the output's name.
func copyRule(t *testing.T, tag string) hcl.Expression {
	return tmpl(t, "cat ${SRC} > ${TGT} && echo "+tag+" >> ${LOG}")
}
