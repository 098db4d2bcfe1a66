package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdis/internal/analysis"
	"opdis/internal/engine"
)

// push %rbp; mov %rsp,%rbp; nop; ret
var code = []byte{0x55, 0x48, 0x89, 0xe5, 0x90, 0xc3}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OPDIS_NO_COLOR", "1")
	t.Setenv("OPDIS_LOG_LEVEL", "error")
	t.Setenv("OPDIS_CONFIG", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// self returns the running test binary when it is an ELF image the
// decoders support.
func self(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("needs a linux amd64 or arm64 ELF test binary")
	}
	path, err := os.Executable()
	require.NoError(t, err)
	return path
}

func TestRunRaw(t *testing.T) {
	file := writeFile(t, "code.bin", code)

	out, err := execute(t, "run", "--raw", "--arch", "x86_64", "--buffer-vma", "0x401000", file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "  401000  push %rbp", lines[0])
	assert.Contains(t, lines[1], "%rsp,%rbp")
	assert.True(t, strings.HasPrefix(lines[3], "  401005  ret"))

	out, err = execute(t, "run", "--raw", "--arch", "x86_64", "--syntax", "intel", "--vma", "1", "--len", "3", "--bytes", file)
	require.NoError(t, err)
	assert.Equal(t, "       1  4889e5  mov rbp, rsp\n", out)
}

func TestRunRawJSON(t *testing.T) {
	file := writeFile(t, "code.bin", code)

	out, err := execute(t, "run", "--raw", "--arch", "x86_64", "--buffer-vma", "4096", "--json", file)
	require.NoError(t, err)

	var res JSONOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "linear", res.Strategy)
	assert.Equal(t, "x86_64", res.Arch)
	assert.Len(t, res.Digest, 64)
	require.Len(t, res.Insns, 4)
	assert.Equal(t, "0x1000", res.Insns[0].VMA)
	assert.Equal(t, "55", res.Insns[0].Bytes)
	assert.Equal(t, "return", res.Insns[3].Flow)
	assert.Empty(t, res.Errors)
}

func TestRunStrict(t *testing.T) {
	file := writeFile(t, "trunc.bin", []byte{0x90, 0x48})

	out, err := execute(t, "run", "--raw", "--arch", "x86_64", file)
	require.NoError(t, err)
	assert.Contains(t, out, "; 0x1 bounds: ")

	_, err = execute(t, "run", "--raw", "--arch", "x86_64", "--strict", file)
	assert.ErrorIs(t, err, analysis.ErrStrict)
}

func TestRunErrors(t *testing.T) {
	file := writeFile(t, "code.bin", code)

	tests := []struct {
		name string
		args []string
		is   error
		msg  string
	}{
		{"strategy", []string{"run", "--raw", "--arch", "x86_64", "--strategy", "zigzag", file}, engine.ErrUnknownStrategy, ""},
		{"arch", []string{"run", "--raw", "--arch", "vax", file}, engine.ErrUnknownArch, ""},
		{"mismatch", []string{"run", "--raw", "--arch", "x86_64", "--strategy", "symbol", file}, engine.ErrMissingSymbol, ""},
		{"vma", []string{"run", "--raw", "--vma", "zz", file}, nil, "invalid --vma"},
		{"missing", []string{"run", filepath.Join(t.TempDir(), "nope")}, nil, "file not found"},
		{"not elf", []string{"run", file}, nil, "failed to load file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				assert.ErrorContains(t, err, tt.msg)
			}
		})
	}
}

func TestRunConfig(t *testing.T) {
	file := writeFile(t, "code.bin", code)
	cfg := writeFile(t, "opdis.yaml", []byte("arch: x86_64\nsyntax: intel\nmax_insns: 2\n"))

	out, err := execute(t, "run", "--raw", "--config", cfg, file)
	require.NoError(t, err)
	assert.Contains(t, out, "mov rbp, rsp")
	assert.NotContains(t, out, "nop")
	assert.Contains(t, out, "item-limit")

	out, err = execute(t, "run", "--raw", "--config", cfg, "--syntax", "att", "--max-insns", "0", file)
	require.NoError(t, err)
	assert.Contains(t, out, "%rsp,%rbp")
	assert.Contains(t, out, "ret")
}

func TestSchema(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"max_insns"`)
	assert.Contains(t, out, `"Architecture"`)
}

func TestInfo(t *testing.T) {
	out, err := execute(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "- `cflow`: follow branches")
	assert.Contains(t, out, "`x86_64_intel`")
	assert.Contains(t, out, "`item-limit`")
	assert.Contains(t, out, "`image`")
}

func TestSymbolsSelf(t *testing.T) {
	bin := self(t)

	out, err := execute(t, "symbols", "--functions", "--filter", "TestSymbolsSelf", "--json", bin)
	require.NoError(t, err)
	var syms []symbolJSON
	require.NoError(t, json.Unmarshal([]byte(out), &syms))
	require.NotEmpty(t, syms)
	assert.Equal(t, "func", syms[0].Kind)
	assert.Contains(t, syms[0].Name, "TestSymbolsSelf")

	out, err = execute(t, "symbols", "--filter", "TestSymbolsSelf", bin)
	require.NoError(t, err)
	assert.Contains(t, out, " func opdis/internal/opdis/cmd.TestSymbolsSelf")
}

func TestRunSymbolSelf(t *testing.T) {
	bin := self(t)

	out, err := execute(t, "run", "--symbol", "opdis/internal/opdis/cmd.TestRunSymbolSelf", "--json", bin)
	require.NoError(t, err)
	var res JSONOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "symbol", res.Strategy)
	assert.NotEmpty(t, res.Insns)

	_, err = execute(t, "run", "--symbol", "no.such.symbol", bin)
	assert.ErrorContains(t, err, "symbol not found")
	_, err = execute(t, "run", "--section", ".nosuch", bin)
	assert.ErrorContains(t, err, "section not found")
}

func TestBatchSelf(t *testing.T) {
	bin := self(t)

	out, err := execute(t, "batch", "--filter", "cmd.TestBatchSelf", "--jobs", "2", "--json", bin)
	require.NoError(t, err)
	var results []FunctionResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Name, "TestBatchSelf")
		assert.Positive(t, r.Insns)
	}
}

func TestPlainSelf(t *testing.T) {
	bin := self(t)

	out, err := execute(t, "-n", "--max-insns", "5", bin)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# opdis\n"))
	assert.Contains(t, out, "executable")
	assert.Contains(t, out, "item-limit")
}
