package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		data string
		want File
	}{
		{
			name: "yaml",
			data: "arch: x86_64\nsyntax: intel\nmax_insns: 100\nstrategy: cflow\n",
			want: File{Arch: "x86_64", Syntax: "intel", MaxInsns: 100, Strategy: "cflow"},
		},
		{
			name: "json",
			data: `{"arch": "arm64", "debug": true, "options": "x86-64"}`,
			want: File{Arch: "arm64", Debug: true, Options: "x86-64"},
		},
		{
			name: "empty",
			data: "",
			want: File{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *f)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("arhc: x86\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Parse([]byte("max_insns: -3\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("arch: [\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opdis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("arch: x86\ncolor: false\nmachine: EM_386\n"), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.False(t, f.ColorEnabled(true))
	assert.Equal(t, map[string]any{"arch": "x86", "machine": "EM_386"}, f.Args())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open config")
}

func TestNilFile(t *testing.T) {
	var f *File
	assert.Empty(t, f.Args())
	assert.True(t, f.ColorEnabled(true))
}
