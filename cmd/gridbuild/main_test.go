package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/gridbuild/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_ScriptError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	invalidHCL := `
		target "a.out" {
			rule = "true"
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "build.hcl"), []byte(invalidHCL), 0o600))
	out, logs := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	require.NoError(t, run(context.Background(), out, logs, []string{"configure", "--top", tempDir}))
	runErr := run(context.Background(), out, logs, []string{"build", "--top", tempDir})

	// --- Assert ---
	require.Error(t, runErr)
	var exitErr *cli.ExitError
	require.True(t, errors.As(runErr, &exitErr))
	require.Equal(t, cli.ExitUsage, exitErr.Code)
	require.Contains(t, runErr.Error(), "failed to parse build script")
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, &bytes.Buffer{}, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error for help")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"build", "--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}
