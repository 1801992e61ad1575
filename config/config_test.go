package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/config"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pakfs.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.BasePath)
	assert.Empty(t, cfg.Packs)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoad_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pakfs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pakfs", "config.toml"), []byte(`game_folder = "Game"`), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "Game", cfg.GameFolder)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
base_path = "/srv/game"
game_folder = "Game"
localization = "german"
mods = ["mods/hd"]
priority = "file-first"
archive_key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

[[aliases]]
name = "tex"
value = "game/textures"

[log]
level = "debug"
no_terminal = true

[pool]
budget = "64MiB"

[[packs]]
path = "paks/*.pak"

[[packs]]
path = "patch.pak"
override = true

[remote]
endpoint = "localhost:9000"
bucket = "packs"
max_pack_size = "512MiB"

[store]
driver = "sqlite"
dsn = ":memory:"
profile = "dev"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/game", cfg.BasePath)
	assert.Equal(t, []string{"mods/hd"}, cfg.Mods)
	assert.Equal(t, []config.Alias{{Name: "tex", Value: "game/textures"}}, cfg.Aliases)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.NoTerminal)
	require.Len(t, cfg.Packs, 2)
	assert.Equal(t, archive.Flags(0), cfg.Packs[0].Flags())
	assert.Equal(t, archive.FlagOverridePak, cfg.Packs[1].Flags())

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	st, err := cfg.OpenStore(t.Context())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "sqlite", st.Name())
	require.NoError(t, st.Close())

	source, err := cfg.OpenRemote(nil)
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Equal(t, "s3", source.Name())
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(writeConfig(t, `unknown_key = 1`))
	assert.ErrorIs(t, err, data.ErrInvalid)

	_, err = config.Load(writeConfig(t, `base_path = `))
	assert.Error(t, err)

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "log level", cfg: config.Config{Log: config.LogConfig{Level: "loud"}}},
		{name: "priority", cfg: config.Config{Priority: "disk-last"}},
		{name: "pool budget", cfg: config.Config{Pool: config.PoolConfig{Budget: "lots"}}},
		{name: "archive key", cfg: config.Config{ArchiveKey: "zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Options()
			assert.Error(t, err)
		})
	}

	_, err = config.Config{Store: config.StoreConfig{Driver: "redis"}}.OpenStore(context.Background())
	assert.ErrorIs(t, err, data.ErrInvalid)

	st, err := config.Config{}.OpenStore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestBoot(t *testing.T) {
	base := t.TempDir()
	cfg := config.Config{
		GameFolder: "Game",
		Aliases:    []config.Alias{{Name: "ui", Value: "game/ui"}},
		Packs: []config.PackConfig{
			{Path: "paks/*.pak"},
			{Path: "patch.pak", Override: true},
			{Path: "missing.pak"},
		},
	}

	opts, err := cfg.Options()
	require.NoError(t, err)

	fs, err := pakfs.New(append(opts, pakfs.WithLogger(log.NewDiscard()))...)
	require.NoError(t, err)
	require.NoError(t, fs.Init(t.Context(), base))
	defer fs.Shutdown(context.Background())

	require.NoError(t, os.MkdirAll(filepath.Join(base, "game", "paks"), 0o755))
	for name, content := range map[string]string{
		"game/paks/a.pak": "from a",
		"game/paks/b.pak": "from b",
		"game/patch.pak":  "from patch",
	} {
		a, err := archive.Open(filepath.Join(base, filepath.FromSlash(name)), archive.FlagCreateNew)
		require.NoError(t, err)
		require.NoError(t, a.UpdateEntry("ui/title.txt", []byte(content), archive.MethodDeflate, archive.DefaultLevel))
		require.NoError(t, a.Close())
	}

	results, err := config.Boot(t.Context(), fs, cfg)
	require.NoError(t, err)
	require.Len(t, results, 4)

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			assert.ErrorIs(t, result.Err, data.ErrNotExist)
		}
	}
	assert.Equal(t, 1, failed)

	content, err := fs.ReadFile(t.Context(), "ui/title.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "from patch", string(content))

	content, err = fs.ReadFile(t.Context(), "paks/ui/title.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "from b", string(content))
}

func TestOpenStore_SaveLoad(t *testing.T) {
	cfg := config.Config{Store: config.StoreConfig{
		Driver:  "sqlite",
		DSN:     filepath.Join(t.TempDir(), "state.db"),
		Profile: "boot",
	}}

	st, err := cfg.OpenStore(t.Context())
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*sqlite.Store)
	assert.True(t, ok)
}
