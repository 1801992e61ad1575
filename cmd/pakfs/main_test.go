package main

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func setupBase(t *testing.T) string {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "cfg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "cfg", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "cfg", "b.txt"), []byte("second file"), 0o644))
	return base
}

func TestCLI_PackLifecycle(t *testing.T) {
	base := setupBase(t)

	code, out, errOut := runCLI(t, "--base", base, "pack", "create", "data.pak", "cfg/a.txt", "cfg/b.txt")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "cfg/a.txt")
	assert.FileExists(t, filepath.Join(base, "data.pak"))

	code, out, errOut = runCLI(t, "--base", base, "pack", "ls", "data.pak")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "cfg/a.txt")
	assert.Contains(t, out, "cfg/b.txt")
	assert.Contains(t, out, "deflate")
	assert.Contains(t, out, fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte("hello"))))

	code, _, errOut = runCLI(t, "--base", base, "pack", "rm", "data.pak", "cfg/b.txt")
	require.Equal(t, 0, code, errOut)

	code, out, errOut = runCLI(t, "--base", base, "pack", "compact", "data.pak")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "reclaimed")

	code, out, errOut = runCLI(t, "--base", base, "pack", "ls", "data.pak")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "cfg/a.txt")
	assert.NotContains(t, out, "cfg/b.txt")
}

func TestCLI_CatAndHashFromPack(t *testing.T) {
	base := setupBase(t)

	code, _, errOut := runCLI(t, "--base", base, "pack", "create", "--method", "store", "data.pak", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	require.NoError(t, os.WriteFile(filepath.Join(base, "cfg", "a.txt"), []byte("loose"), 0o644))

	code, out, errOut := runCLI(t, "--base", base, "--mount", "*.pak", "cat", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "hello", out)

	code, out, errOut = runCLI(t, "--base", base, "--mount", "*.pak", "--priority", "file-first", "cat", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "loose", out)

	code, out, errOut = runCLI(t, "--base", base, "--mount", "*.pak", "cat", "--disk", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "loose", out)

	code, out, errOut = runCLI(t, "--base", base, "--mount", "*.pak", "hash", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, fmt.Sprintf("%08x  cfg/a.txt\n", crc32.ChecksumIEEE([]byte("hello"))), out)

	code, out, errOut = runCLI(t, "--base", base, "--mount", "*.pak", "stat", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "data.pak")

	code, out, errOut = runCLI(t, "--base", base, "hash", "--blake3", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, out, 64+len("  cfg/a.txt\n"))
}

func TestCLI_Errors(t *testing.T) {
	base := setupBase(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file", args: []string{"--base", base, "cat", "cfg/missing.txt"}},
		{name: "bad log level", args: []string{"--base", base, "--log-level", "loud", "cat", "cfg/a.txt"}},
		{name: "bad priority", args: []string{"--base", base, "--priority", "disk-last", "cat", "cfg/a.txt"}},
		{name: "bad method", args: []string{"--base", base, "pack", "create", "--method", "lzma", "x.pak", "cfg/a.txt"}},
		{name: "exclusive flags", args: []string{"--base", base, "hash", "--md5", "--blake3", "cfg/a.txt"}},
		{name: "missing config", args: []string{"--base", base, "--config", filepath.Join(base, "none.toml"), "cat", "cfg/a.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, "pakfs:")
		})
	}
}

func TestCLI_Config(t *testing.T) {
	base := setupBase(t)

	code, _, errOut := runCLI(t, "--base", base, "pack", "create", "data.pak", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	require.NoError(t, os.Remove(filepath.Join(base, "cfg", "a.txt")))

	configPath := filepath.Join(t.TempDir(), "pakfs.toml")
	content := fmt.Sprintf(`
base_path = %q

[log]
level = "error"

[[packs]]
path = "data.pak"

[store]
driver = "sqlite"
dsn = %q
`, filepath.ToSlash(base), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	code, out, errOut := runCLI(t, "--config", configPath, "cat", "cfg/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "hello", out)
}
