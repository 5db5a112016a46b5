package env

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestSubst(t *testing.T) {
	e := New("")
	assert.Equal(t, DefaultVariant, e.Variant())
	e.SetString("PREFIX", "/usr/local")
	e.SetList("CFLAGS", "-O2", "-g")

	testCases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "/opt/bin", want: "/opt/bin"},
		{name: "variable", in: "${PREFIX}/bin", want: "/usr/local/bin"},
		{name: "list is space joined", in: "cc ${CFLAGS}", want: "cc -O2 -g"},
		{name: "escape", in: "$${PREFIX}", want: "${PREFIX}"},
		{name: "unknown variable", in: "${NOPE}/bin", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Subst(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHash(t *testing.T) {
	a := New("default")
	a.SetString("CC", "gcc")
	b := a.Derive("debug")

	assert.Equal(t, a.Hash([]string{"CC"}), b.Hash([]string{"CC"}))
	assert.Equal(t, a.Hash(nil), a.Hash([]string{}))

	b.SetString("CC", "clang")
	assert.NotEqual(t, a.Hash([]string{"CC"}), b.Hash([]string{"CC"}))
	assert.Equal(t, "gcc", a.GetString("CC"), "derive copies values")

	assert.NotEqual(t, a.Hash([]string{"CC"}), a.Hash([]string{"CC", "CFLAGS"}),
		"unset keys still participate")
}

func TestStoreLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.cache.hcl")
	e := New("debug")
	e.SetString("PREFIX", "/usr")
	e.SetList("LIBS", "m", "pthread")
	e.Set("JOBS", cty.NumberIntVal(4))
	require.NoError(t, e.Store(path))

	got, err := Load(path, "debug")
	require.NoError(t, err)
	assert.Equal(t, e.Keys(), got.Keys())
	assert.Equal(t, "/usr", got.GetString("PREFIX"))
	assert.Equal(t, "m pthread", got.GetString("LIBS"))
	assert.Equal(t, "4", got.GetString("JOBS"))
	assert.Equal(t, e.Hash(e.Keys()), got.Hash(got.Keys()))

	t.Run("bad name", func(t *testing.T) {
		bad := New("x")
		bad.SetString("not valid", "1")
		assert.Error(t, bad.Store(filepath.Join(t.TempDir(), "x.hcl")))
	})
}
