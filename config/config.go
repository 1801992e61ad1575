package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/mount"
	"github.com/mwantia/pakfs/remote"
	"github.com/mwantia/pakfs/store"
	"github.com/mwantia/pakfs/store/consul"
	"github.com/mwantia/pakfs/store/postgres"
	"github.com/mwantia/pakfs/store/sqlite"
)

// Config represents the optional pakfs configuration file.
type Config struct {
	BasePath      string   `toml:"base_path"`
	GameFolder    string   `toml:"game_folder"`
	Localization  string   `toml:"localization"`
	WriteRoot     string   `toml:"write_root"`
	Mods          []string `toml:"mods"`
	Aliases       []Alias  `toml:"aliases"`
	Priority      string   `toml:"priority"`
	MaxPathLength int      `toml:"max_path_length"`
	// ArchiveKey is the hex encoded key of encrypted pack entries.
	ArchiveKey string `toml:"archive_key"`

	Log    LogConfig    `toml:"log"`
	Pool   PoolConfig   `toml:"pool"`
	Packs  []PackConfig `toml:"packs"`
	Remote RemoteConfig `toml:"remote"`
	Store  StoreConfig  `toml:"store"`
}

type Alias struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	NoTerminal bool   `toml:"no_terminal"`
}

// PoolConfig holds the memory budget of pooled blocks, e.g. "256MiB".
type PoolConfig struct {
	Budget string `toml:"budget"`
}

// PackConfig describes one pack mounted at boot. Path may be a wildcard such
// as "paks/*.pak".
type PackConfig struct {
	Path        string `toml:"path"`
	BindingRoot string `toml:"binding_root"`
	Override    bool   `toml:"override"`
	InMemory    bool   `toml:"in_memory"`
	Disabled    bool   `toml:"disabled"`
	// Remote fetches the pack from the configured remote source.
	Remote bool `toml:"remote"`
}

type RemoteConfig struct {
	Endpoint    string `toml:"endpoint"`
	Bucket      string `toml:"bucket"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	Region      string `toml:"region"`
	UseSSL      bool   `toml:"use_ssl"`
	Prefix      string `toml:"prefix"`
	MaxPackSize string `toml:"max_pack_size"`
}

// StoreConfig selects where resolver state is persisted. Driver is one of
// "sqlite", "postgres" or "consul"; an empty driver disables persistence.
type StoreConfig struct {
	Driver  string `toml:"driver"`
	Profile string `toml:"profile"`
	// DSN is the database file for sqlite and the connection string for postgres.
	DSN        string `toml:"dsn"`
	Address    string `toml:"address"`
	Token      string `toml:"token"`
	Datacenter string `toml:"datacenter"`
	Prefix     string `toml:"prefix"`
}

// Path returns the resolved path to the default config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pakfs", "config.toml")
}

// Load reads the config file at path, or at Path() if path is empty. A
// missing default file yields a zero Config; a missing explicit file is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path()
		if path == "" {
			return Config{}, nil
		}
	}

	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", data.ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Options converts the file settings into file system options.
func (c Config) Options() ([]pakfs.Option, error) {
	level, err := log.Parse(c.Log.Level)
	if err != nil {
		return nil, err
	}
	priority, err := mount.ParsePriority(c.Priority)
	if err != nil {
		return nil, err
	}

	opts := []pakfs.Option{
		pakfs.WithLogLevel(level),
		pakfs.WithPriority(priority),
		pakfs.WithGameFolder(c.GameFolder),
		pakfs.WithLocalization(c.Localization),
		pakfs.WithWriteRoot(c.WriteRoot),
		pakfs.WithMods(c.Mods...),
	}

	if c.Log.File != "" {
		opts = append(opts, pakfs.WithLogFile(c.Log.File))
	}
	if c.Log.NoTerminal {
		opts = append(opts, pakfs.WithoutTerminalLog())
	}
	if c.MaxPathLength > 0 {
		opts = append(opts, pakfs.WithMaxPathLength(c.MaxPathLength))
	}

	if c.Pool.Budget != "" {
		budget, err := humanize.ParseBytes(c.Pool.Budget)
		if err != nil {
			return nil, fmt.Errorf("%w: pool budget %q: %v", data.ErrInvalid, c.Pool.Budget, err)
		}
		opts = append(opts, pakfs.WithPoolBudget(int64(budget)))
	}

	if c.ArchiveKey != "" {
		key, err := hex.DecodeString(c.ArchiveKey)
		if err != nil {
			return nil, fmt.Errorf("%w: archive key: %v", data.ErrInvalid, err)
		}
		opts = append(opts, pakfs.WithArchiveKey(key))
	}

	return opts, nil
}

// OpenStore opens the configured resolver state store. It returns nil if no
// driver is configured.
func (c Config) OpenStore(ctx context.Context) (store.Store, error) {
	s := c.Store

	var (
		st  store.Store
		err error
	)
	switch strings.ToLower(s.Driver) {
	case "":
		return nil, nil
	case "sqlite":
		st, err = sqlite.New(s.DSN, s.Profile)
	case "postgres":
		st, err = postgres.New(ctx, s.DSN, s.Profile)
	case "consul":
		st, err = consul.New(&consul.Config{
			Address:    s.Address,
			Token:      s.Token,
			Datacenter: s.Datacenter,
			Prefix:     s.Prefix,
			Profile:    s.Profile,
		})
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", data.ErrInvalid, s.Driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// OpenRemote creates the configured remote pack source. It returns nil if no
// endpoint is configured.
func (c Config) OpenRemote(logger *log.Logger) (*remote.S3Source, error) {
	r := c.Remote
	if r.Endpoint == "" {
		return nil, nil
	}

	var limit uint64
	if r.MaxPackSize != "" {
		var err error
		if limit, err = humanize.ParseBytes(r.MaxPackSize); err != nil {
			return nil, fmt.Errorf("%w: max pack size %q: %v", data.ErrInvalid, r.MaxPackSize, err)
		}
	}

	return remote.NewS3Source(&remote.Config{
		Endpoint:    r.Endpoint,
		Bucket:      r.Bucket,
		AccessKey:   r.AccessKey,
		SecretKey:   r.SecretKey,
		Region:      r.Region,
		UseSSL:      r.UseSSL,
		Prefix:      r.Prefix,
		MaxPackSize: int64(limit),
		Logger:      logger,
	})
}

// Flags returns the archive flags the pack is mounted with.
func (p PackConfig) Flags() archive.Flags {
	var flags archive.Flags
	if p.Override {
		flags |= archive.FlagOverridePak
	}
	if p.InMemory {
		flags |= archive.FlagInMemoryCPU
	}
	if p.Disabled {
		flags |= archive.FlagDisabled
	}
	return flags
}

func (p PackConfig) wildcard() bool {
	return strings.ContainsAny(p.Path, "*?[")
}
