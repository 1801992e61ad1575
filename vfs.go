package pakfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mwantia/pakfs/access"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
	"github.com/mwantia/pakfs/mount"
	"github.com/mwantia/pakfs/pool"
	"github.com/mwantia/pakfs/resolver"
)

// VirtualFileSystem unifies loose files on disk and mounted packs behind one
// path namespace. A single instance is created with New, prepared with Init and
// torn down with Shutdown; collaborators receive it explicitly.
type VirtualFileSystem struct {
	// coarse is the caller-facing lock exposed through Lock and Unlock.
	coarse sync.Mutex
	// mu guards the mount table and resolver mutations.
	mu     sync.Mutex
	readIO sync.Mutex

	log       *log.Logger
	ownLogger bool
	options   *Options

	resolver *resolver.Resolver
	table    *mount.Table
	gate     *access.Gate
	pool     *pool.Pool

	lockReadIO  atomic.Bool
	initialized atomic.Bool
	openFiles   atomic.Int64
}

// New creates an uninitialized file system.
func New(opts ...Option) (*VirtualFileSystem, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	logger := options.Logger
	ownLogger := false
	if logger == nil {
		logger = log.NewLogger("pakfs", options.LogLevel, options.LogFile, options.NoTerminalLog)
		ownLogger = true
	}

	blocks, err := pool.New(options.PoolBudget, pool.WithLogger(logger.Named("pool")))
	if err != nil {
		return nil, err
	}

	return &VirtualFileSystem{
		log:       logger,
		ownLogger: ownLogger,
		options:   options,
		table:     mount.NewTable(logger.Named("mount"), options.Priority),
		gate:      access.NewGate(logger.Named("access")),
		pool:      blocks,
	}, nil
}

// Init roots the file system at basePath. It must be called before any path is resolved.
func (vfs *VirtualFileSystem) Init(ctx context.Context, basePath string) error {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	if vfs.initialized.Load() {
		return fmt.Errorf("%w: file system already initialized", data.ErrInvalid)
	}

	opts := []resolver.Option{
		resolver.WithLogger(vfs.log.Named("resolver")),
		resolver.WithGameFolder(vfs.options.GameFolder),
		resolver.WithMaxPathLength(vfs.options.MaxPathLength),
		resolver.WithMods(vfs.options.Mods...),
		resolver.WithProbe(vfs.table.Exists),
	}
	if vfs.options.Localization != "" {
		opts = append(opts, resolver.WithLocalization(vfs.options.Localization))
	}
	if vfs.options.WriteRoot != "" {
		opts = append(opts, resolver.WithWriteRoot(vfs.options.WriteRoot))
	}

	r, err := resolver.New(basePath, opts...)
	if err != nil {
		return err
	}

	vfs.resolver = r
	vfs.table.AddRoot(filepath.FromSlash(r.BasePath()))
	vfs.initialized.Store(true)

	vfs.log.Info("Init: base path '%s', game folder '%s', priority %s", r.BasePath(), r.GameFolder(), vfs.table.Priority())
	return nil
}

// Shutdown unmounts every pack and closes the logger created by New. Files that
// are still open keep their pack alive until they are closed.
func (vfs *VirtualFileSystem) Shutdown(ctx context.Context) error {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	var errs data.Errors
	if open := vfs.openFiles.Load(); open > 0 {
		vfs.log.Warn("Shutdown: %d files are still open", open)
	}

	errs.Add(vfs.table.Close(ctx))
	vfs.initialized.Store(false)

	vfs.log.Info("Shutdown: file system closed")
	if vfs.ownLogger {
		errs.Add(vfs.log.Close())
	}
	return errs.Errors()
}

// Lock acquires the coarse lock callers use to serialize shared handle use.
// Facade methods synchronize internally and may be called while holding it.
func (vfs *VirtualFileSystem) Lock() {
	vfs.coarse.Lock()
}

func (vfs *VirtualFileSystem) Unlock() {
	vfs.coarse.Unlock()
}

// LockReadIO routes every file read through a single critical section while
// enabled. It returns the previous setting.
func (vfs *VirtualFileSystem) LockReadIO(enabled bool) bool {
	previous := vfs.lockReadIO.Swap(enabled)
	vfs.log.Debug("LockReadIO: %t", enabled)
	return previous
}

func (vfs *VirtualFileSystem) Gate() *access.Gate {
	return vfs.gate
}

func (vfs *VirtualFileSystem) Pool() *pool.Pool {
	return vfs.pool
}

func (vfs *VirtualFileSystem) Table() *mount.Table {
	return vfs.table
}

// Resolver returns the path resolver, or nil before Init.
func (vfs *VirtualFileSystem) Resolver() *resolver.Resolver {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	return vfs.resolver
}

func (vfs *VirtualFileSystem) Logger() *log.Logger {
	return vfs.log
}

// OpenFiles returns the number of handles that have not been closed yet.
func (vfs *VirtualFileSystem) OpenFiles() int64 {
	return vfs.openFiles.Load()
}

// SetAlias adds or removes an alias for a leading path segment.
func (vfs *VirtualFileSystem) SetAlias(name, value string, add bool) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	r.SetAlias(name, value, add)
	return nil
}

// ParseAliases adds aliases from a comma separated "name,value,name,value" list.
func (vfs *VirtualFileSystem) ParseAliases(list string) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	return r.ParseAliases(list)
}

func (vfs *VirtualFileSystem) AddMod(mod string) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	r.AddMod(mod)
	return nil
}

func (vfs *VirtualFileSystem) RemoveMod(mod string) (bool, error) {
	r, err := vfs.mutableResolver()
	if err != nil {
		return false, err
	}
	defer vfs.mu.Unlock()

	return r.RemoveMod(mod), nil
}

func (vfs *VirtualFileSystem) SetGameFolder(folder string) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	r.SetGameFolder(folder)
	return nil
}

func (vfs *VirtualFileSystem) SetLocalization(language string) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	r.SetLocalization(language)
	return nil
}

// AdjustFileName resolves a virtual path without touching the disk, unless
// resolver.CheckModPaths asks to probe the mod folders.
func (vfs *VirtualFileSystem) AdjustFileName(p string, flags resolver.Flags) (string, error) {
	r, err := vfs.currentResolver()
	if err != nil {
		return "", err
	}
	return r.Resolve(p, flags)
}

// OpenPack mounts the pack at the virtual path packPath. An empty bindingRoot
// binds the pack to its own directory.
func (vfs *VirtualFileSystem) OpenPack(ctx context.Context, packPath, bindingRoot string, flags archive.Flags, opts ...mount.MountOption) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	full, root, err := vfs.resolvePackUnsafe(r, packPath, bindingRoot)
	if err != nil {
		return err
	}

	return vfs.table.Mount(ctx, full, root, flags, vfs.mountOptions(opts)...)
}

// OpenPacks mounts every pack matching the wildcard pattern, e.g. "paks/*.pak".
func (vfs *VirtualFileSystem) OpenPacks(ctx context.Context, pattern, bindingRoot string, flags archive.Flags, opts ...mount.MountOption) ([]mount.Result, error) {
	r, err := vfs.mutableResolver()
	if err != nil {
		return nil, err
	}
	defer vfs.mu.Unlock()

	dir, file := path.Split(data.ToSlash(pattern))
	if file == "" {
		return nil, data.MalformedPath("open packs", pattern, "pattern names no file")
	}
	if dir == "" {
		dir = "./"
	}

	fullDir, err := r.Resolve(dir, resolver.AddTrailingSlash)
	if err != nil {
		return nil, err
	}

	root := ""
	if bindingRoot != "" {
		if root, err = r.Resolve(bindingRoot, 0); err != nil {
			return nil, err
		}
	}

	results := vfs.table.MountWildcard(ctx, fullDir+file, root, flags, vfs.mountOptions(opts)...)
	vfs.log.Debug("OpenPacks: '%s' mounted %d packs", pattern, len(results))
	return results, nil
}

// ClosePack unmounts the pack at the virtual path packPath.
func (vfs *VirtualFileSystem) ClosePack(packPath string) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	full, err := r.Resolve(packPath, 0)
	if err != nil {
		return err
	}
	return vfs.table.Unmount(full)
}

// SetPackAccessible hides or reveals a mounted pack.
func (vfs *VirtualFileSystem) SetPackAccessible(packPath string, accessible bool) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	full, err := r.Resolve(packPath, 0)
	if err != nil {
		return err
	}
	return vfs.table.SetAccessible(full, accessible)
}

// OpenArchive opens a pack for authoring without mounting it. Writable archives
// are placed below the write root. The caller owns the archive and must close it.
func (vfs *VirtualFileSystem) OpenArchive(archivePath string, flags archive.Flags, opts ...archive.Option) (*archive.Archive, error) {
	r, err := vfs.currentResolver()
	if err != nil {
		return nil, err
	}

	rflags := resolver.Flags(0)
	if flags&archive.FlagReadOnly == 0 && !flags.InMemory() {
		rflags |= resolver.ForWriting
	}

	full, err := r.Resolve(archivePath, rflags)
	if err != nil {
		return nil, err
	}

	native := data.MatchCase(filepath.FromSlash(full))
	if rflags&resolver.ForWriting != 0 {
		if err := os.MkdirAll(filepath.Dir(native), 0o755); err != nil {
			return nil, &data.PathError{Op: "open archive", Path: archivePath, Err: fmt.Errorf("%w: %v", data.ErrIO, err)}
		}
	}

	archiveOpts := []archive.Option{archive.WithLogger(vfs.log.Named("archive"))}
	if vfs.options.ArchiveKey != nil {
		archiveOpts = append(archiveOpts, archive.WithKey(vfs.options.ArchiveKey))
	}
	return archive.Open(native, flags, append(archiveOpts, opts...)...)
}

// IsFileExist reports whether the virtual path p is backed by a disk file or a
// pack entry in the given location.
func (vfs *VirtualFileSystem) IsFileExist(p string, location mount.SearchLocation) bool {
	full, err := vfs.AdjustFileName(p, 0)
	if err != nil {
		return false
	}
	_, ok := vfs.table.Lookup(full, location, 0)
	return ok
}

// Stat describes the file backing the virtual path p.
func (vfs *VirtualFileSystem) Stat(p string, flags OpenFlags) (*data.FileInfo, error) {
	full, err := vfs.AdjustFileName(p, resolverFlags(flags, data.AccessModeRead))
	if err != nil {
		return nil, err
	}

	backing, ok := vfs.table.Lookup(full, searchLocation(flags), lookupFlags(flags))
	if !ok {
		return nil, &data.PathError{Op: "stat", Path: p, Err: data.ErrNotExist}
	}
	return fileInfo(full, backing), nil
}

// ReadFile opens p, reads it whole and closes it again.
func (vfs *VirtualFileSystem) ReadFile(ctx context.Context, p string, flags OpenFlags) ([]byte, error) {
	f, err := vfs.Open(ctx, p, "rb", flags)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.ReadAll()
}

// mutableResolver returns the resolver while holding vfs.mu. The caller MUST
// unlock vfs.mu if no error is returned.
func (vfs *VirtualFileSystem) mutableResolver() (*resolver.Resolver, error) {
	vfs.mu.Lock()
	if vfs.resolver == nil || !vfs.initialized.Load() {
		vfs.mu.Unlock()
		return nil, data.ErrNotInitialized
	}
	return vfs.resolver, nil
}

func (vfs *VirtualFileSystem) currentResolver() (*resolver.Resolver, error) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()

	if vfs.resolver == nil || !vfs.initialized.Load() {
		return nil, data.ErrNotInitialized
	}
	return vfs.resolver, nil
}

// resolvePackUnsafe MUST be called while holding vfs.mu.
func (vfs *VirtualFileSystem) resolvePackUnsafe(r *resolver.Resolver, packPath, bindingRoot string) (string, string, error) {
	full, err := r.Resolve(packPath, 0)
	if err != nil {
		return "", "", err
	}
	if bindingRoot == "" {
		return full, "", nil
	}

	root, err := r.Resolve(bindingRoot, 0)
	if err != nil {
		return "", "", err
	}
	return full, root, nil
}

func (vfs *VirtualFileSystem) mountOptions(opts []mount.MountOption) []mount.MountOption {
	if vfs.options.ArchiveKey == nil {
		return opts
	}
	return append([]mount.MountOption{mount.WithKey(vfs.options.ArchiveKey)}, opts...)
}
