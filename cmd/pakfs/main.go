package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/config"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/mount"
	"github.com/mwantia/pakfs/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "pakfs: %v\n", err)
		return 1
	}
	return 0
}

// priorityValue is a pflag.Value selecting the lookup order of disk files and packs.
type priorityValue struct {
	priority mount.Priority
}

func (p *priorityValue) String() string { return p.priority.String() }
func (*priorityValue) Type() string     { return "priority" }

func (p *priorityValue) Set(val string) error {
	priority, err := mount.ParsePriority(val)
	if err != nil {
		return err
	}
	p.priority = priority
	return nil
}

var _ pflag.Value = (*priorityValue)(nil)

// app holds the file system shared by every command of one invocation.
type app struct {
	configPath string
	basePath   string
	logLevel   string
	mounts     []string
	priority   priorityValue

	log   *log.Logger
	fs    *pakfs.VirtualFileSystem
	store store.Store
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "pakfs",
		Short: "Inspect and author game packs",
		Long: `pakfs resolves game paths against loose files and mounted packs.

Packs listed in the configuration file and every --mount pattern are mounted
before a command runs, so "cat" and "hash" see the same files a game would.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to the configuration file (default $XDG_CONFIG_HOME/pakfs/config.toml)")
	flags.StringVar(&a.basePath, "base", "", "base directory of the game (default: config base_path or the working directory)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error, off)")
	flags.StringSliceVar(&a.mounts, "mount", nil, "pack or wildcard pattern to mount, may be repeated")
	flags.Var(&a.priority, "priority", "lookup order: pak-first, file-first or pak-only")

	root.AddCommand(newHashCmd(a), newCatCmd(a), newPackCmd(a), newStatCmd(a))
	return root, a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	levelName := a.logLevel
	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		levelName = cfg.Log.Level
	}
	level, err := log.Parse(levelName)
	if err != nil {
		return err
	}

	base := a.basePath
	if base == "" {
		base = cfg.BasePath
	}
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return err
		}
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	a.log = log.New("pakfs", log.Options{
		Level:      level,
		File:       cfg.Log.File,
		NoTerminal: true,
		Writer:     cmd.ErrOrStderr(),
	})
	opts = append(opts, pakfs.WithLogger(a.log))
	if cmd.Flags().Changed("priority") {
		opts = append(opts, pakfs.WithPriority(a.priority.priority))
	}

	if a.fs, err = pakfs.New(opts...); err != nil {
		return err
	}
	if err := a.fs.Init(ctx, base); err != nil {
		return err
	}

	if a.store, err = cfg.OpenStore(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if a.store != nil {
		if err := a.fs.LoadState(ctx, a.store); err != nil && !errors.Is(err, data.ErrNotExist) {
			return fmt.Errorf("load state: %w", err)
		}
	}

	results, err := config.Boot(ctx, a.fs, cfg)
	if err != nil {
		return err
	}
	for _, pattern := range a.mounts {
		mounted, err := a.fs.OpenPacks(ctx, pattern, "", 0)
		if err != nil {
			return err
		}
		if len(mounted) == 0 {
			a.log.Warn("Setup: no pack matches '%s'", pattern)
		}
		results = append(results, mounted...)
	}
	for _, result := range results {
		if result.Err != nil {
			a.log.Warn("Setup: failed to mount '%s': %v", result.Path, result.Err)
		}
	}

	return nil
}

func (a *app) close() error {
	var errs data.Errors

	if a.store != nil {
		errs.Add(a.store.Close())
	}
	if a.fs != nil {
		errs.Add(a.fs.Shutdown(context.Background()))
	}
	if a.log != nil {
		errs.Add(a.log.Close())
	}
	return errs.Errors()
}
