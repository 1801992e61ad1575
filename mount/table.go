package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

// Table keeps the mounted packs in mount order and answers which source backs
// a resolved path.
type Table struct {
	mu  sync.RWMutex
	log *log.Logger

	packs    []*Pack
	roots    []string
	priority Priority
	seq      uint64
}

// Result reports the outcome of mounting a single wildcard match.
type Result struct {
	Path string
	Err  error
}

func NewTable(logger *log.Logger, priority Priority) *Table {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &Table{
		log:      logger,
		priority: priority,
	}
}

func (t *Table) Priority() Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.priority
}

func (t *Table) SetPriority(priority Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.priority = priority
}

// Mount opens the pack at path read-only and makes its entries visible below
// bindingRoot. An empty bindingRoot binds the pack to its own directory.
func (t *Table) Mount(ctx context.Context, packPath, bindingRoot string, flags archive.Flags, opts ...MountOption) error {
	options := newDefaultMountOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return err
		}
	}

	if err := data.ValidatePath("mount", packPath, data.DefaultMaxPathLength); err != nil {
		return err
	}

	name := strings.TrimSuffix(data.CleanPath(packPath), "/")
	if bindingRoot == "" {
		bindingRoot = path.Dir(name)
	}
	bindingRoot = data.CleanPath(bindingRoot)
	if bindingRoot != "/" {
		bindingRoot = strings.TrimSuffix(bindingRoot, "/")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.findUnsafe(name) >= 0 {
		return &data.PathError{Op: "mount", Path: packPath, Err: data.ErrAlreadyMounted}
	}

	archiveOpts := []archive.Option{archive.WithLogger(t.log.Named("archive"))}
	if options.Key != nil {
		archiveOpts = append(archiveOpts, archive.WithKey(options.Key))
	}

	var (
		a   *archive.Archive
		err error
	)
	if options.Preloaded != nil {
		a, err = archive.OpenBlock(name, options.Preloaded, flags, archiveOpts...)
	} else {
		a, err = archive.Open(filepath.FromSlash(name), flags|archive.FlagReadOnly, archiveOpts...)
	}
	if err != nil {
		return err
	}

	t.seq++
	pack := newPack(name, bindingRoot, a.Flags(), a, t.seq)
	t.packs = append(t.packs, pack)

	t.log.Debug("Mount: mounted %s at %s with %d entries (%s, archive %s)", name, bindingRoot, a.Len(), pack.Flags, a.ID())
	return nil
}

// MountWildcard mounts every pack matching pattern in name order. Relative
// patterns are expanded below each disk root.
func (t *Table) MountWildcard(ctx context.Context, pattern, bindingRoot string, flags archive.Flags, opts ...MountOption) []Result {
	var candidates []string
	if data.IsAbsolute(data.ToSlash(pattern)) {
		candidates = append(candidates, pattern)
	} else {
		for _, root := range t.Roots() {
			candidates = append(candidates, filepath.Join(root, pattern))
		}
		if len(candidates) == 0 {
			candidates = append(candidates, pattern)
		}
	}

	var matches []string
	for _, candidate := range candidates {
		found, err := globFold(filepath.FromSlash(data.ToSlash(candidate)))
		if err != nil {
			return []Result{{Path: pattern, Err: data.MalformedPath("mount", pattern, err.Error())}}
		}
		matches = append(matches, found...)
	}
	slices.Sort(matches)
	matches = slices.Compact(matches)

	results := make([]Result, 0, len(matches))
	for _, match := range matches {
		err := t.Mount(ctx, filepath.ToSlash(match), bindingRoot, flags, opts...)
		if err != nil {
			t.log.Warn("MountWildcard: failed to mount %s: %v", match, err)
		}
		results = append(results, Result{Path: filepath.ToSlash(match), Err: err})
	}

	t.log.Debug("MountWildcard: %s matched %d packs", pattern, len(matches))
	return results
}

// globFold matches pattern like filepath.Glob. Without an exact match it
// retries with the folders spelled as on disk and the file name pattern
// compared case-insensitively.
func globFold(pattern string) ([]string, error) {
	found, err := filepath.Glob(pattern)
	if err != nil || len(found) > 0 {
		return found, err
	}

	dir, file := filepath.Split(pattern)
	if dir == "" {
		dir = "."
	}
	if strings.ContainsAny(dir, "*?[") {
		return nil, nil
	}

	dir = data.MatchCase(filepath.Clean(dir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	file = strings.ToLower(file)
	for _, entry := range entries {
		if ok, _ := filepath.Match(file, strings.ToLower(entry.Name())); ok {
			found = append(found, filepath.Join(dir, entry.Name()))
		}
	}
	return found, nil
}

// Unmount removes the pack and closes its archive. It fails with
// data.ErrInUse while files opened from the pack are still open.
func (t *Table) Unmount(packPath string) error {
	name := strings.TrimSuffix(data.CleanPath(packPath), "/")

	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.findUnsafe(name)
	if i < 0 {
		return &data.PathError{Op: "unmount", Path: packPath, Err: data.ErrNotMounted}
	}

	pack := t.packs[i]
	if handles := pack.Handles(); handles > 0 {
		return &data.PathError{Op: "unmount", Path: packPath, Err: fmt.Errorf("%w: %d open files", data.ErrInUse, handles)}
	}

	t.packs = slices.Delete(t.packs, i, i+1)
	if err := pack.Archive.Close(); err != nil {
		return err
	}

	t.log.Debug("Unmount: unmounted %s", pack.Name)
	return nil
}

// SetAccessible hides or reveals a mounted pack without unmounting it.
func (t *Table) SetAccessible(packPath string, accessible bool) error {
	pack := t.Find(packPath)
	if pack == nil {
		return &data.PathError{Op: "accessible", Path: packPath, Err: data.ErrNotMounted}
	}

	pack.setAccessible(accessible)
	t.log.Debug("SetAccessible: %s accessible=%t", pack.Name, accessible)
	return nil
}

// Find returns the mounted pack with the given path, or nil.
func (t *Table) Find(packPath string) *Pack {
	name := strings.TrimSuffix(data.CleanPath(packPath), "/")

	t.mu.RLock()
	defer t.mu.RUnlock()

	if i := t.findUnsafe(name); i >= 0 {
		return t.packs[i]
	}
	return nil
}

// Packs returns the mounted packs in mount order.
func (t *Table) Packs() []*Pack {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.packs)
}

// AddRoot adds a disk directory searched for relative paths.
func (t *Table) AddRoot(root string) {
	root = filepath.Clean(root)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(t.roots, root) {
		t.roots = append(t.roots, root)
	}
}

func (t *Table) RemoveRoot(root string) bool {
	root = filepath.Clean(root)

	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.Index(t.roots, root)
	if i < 0 {
		return false
	}
	t.roots = slices.Delete(t.roots, i, i+1)
	return true
}

func (t *Table) Roots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.roots)
}

// Lookup finds the source backing the resolved path p. Override packs come
// first, then normal packs, each most recently mounted first. The disk is
// searched where the table priority places it. The first match wins.
func (t *Table) Lookup(p string, location SearchLocation, flags LookupFlags) (Backing, bool) {
	key := strings.ToLower(strings.TrimSuffix(data.CleanPath(p), "/"))
	if key == "" {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if flags&LookupNeverInPak != 0 || location == SearchOnDisk {
		return t.lookupDiskUnsafe(p)
	}

	disk := location == SearchAny && t.priority != PriorityPakOnly

	if b, ok := t.lookupPacksUnsafe(key, true, flags); ok {
		return b, true
	}
	if disk && t.priority == PriorityFileFirst {
		if b, ok := t.lookupDiskUnsafe(p); ok {
			return b, true
		}
	}
	if b, ok := t.lookupPacksUnsafe(key, false, flags); ok {
		return b, true
	}
	if disk && t.priority == PriorityPakFirst {
		return t.lookupDiskUnsafe(p)
	}
	return nil, false
}

// Exists reports whether any source backs p.
func (t *Table) Exists(p string) bool {
	_, ok := t.Lookup(p, SearchAny, 0)
	return ok
}

// Close unmounts every pack. Archives with open files stay alive until the
// last file is closed.
func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()
	packs := t.packs
	t.packs = nil
	t.mu.Unlock()

	var errs data.Errors
	for i := len(packs) - 1; i >= 0; i-- {
		errs.Add(packs[i].Archive.Close())
	}

	t.log.Debug("Close: unmounted %d packs", len(packs))
	return errs.Errors()
}

// findUnsafe MUST be called while holding the table lock.
func (t *Table) findUnsafe(name string) int {
	return slices.IndexFunc(t.packs, func(p *Pack) bool {
		return strings.EqualFold(p.Name, name)
	})
}

// lookupPacksUnsafe MUST be called while holding the table lock.
func (t *Table) lookupPacksUnsafe(key string, override bool, flags LookupFlags) (Backing, bool) {
	for i := len(t.packs) - 1; i >= 0; i-- {
		pack := t.packs[i]
		if pack.Override() != override || !pack.Accessible() {
			continue
		}
		if flags&LookupPakInMemory != 0 && !pack.Flags.InMemory() {
			continue
		}

		rel, ok := pack.relative(key)
		if !ok {
			continue
		}
		entry := pack.Archive.FindEntry(rel)
		if entry == nil || entry.IsFolder {
			continue
		}
		return &ArchiveBacking{Pack: pack, Entry: entry, Relative: rel}, true
	}
	return nil, false
}

// lookupDiskUnsafe MUST be called while holding the table lock.
func (t *Table) lookupDiskUnsafe(p string) (Backing, bool) {
	var candidates []string
	if data.IsAbsolute(data.ToSlash(p)) || len(t.roots) == 0 {
		candidates = append(candidates, filepath.FromSlash(p))
	} else {
		for _, root := range t.roots {
			candidates = append(candidates, filepath.Join(root, filepath.FromSlash(p)))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			// Resolved paths are lower-cased; find the on-disk spelling.
			if folded := data.MatchCase(candidate); folded != candidate {
				candidate = folded
				info, err = os.Stat(candidate)
			}
		}
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return &DiskBacking{Path: candidate, Size: info.Size(), ModTime: info.ModTime()}, true
	}
	return nil, false
}
