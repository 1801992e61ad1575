package pakfs

import (
	"context"

	"github.com/mwantia/pakfs/store"
)

// SaveState persists the game folder, localization, aliases and mods.
func (vfs *VirtualFileSystem) SaveState(ctx context.Context, s store.Store) error {
	r, err := vfs.currentResolver()
	if err != nil {
		return err
	}

	state := r.State()
	if err := s.Save(ctx, state); err != nil {
		return err
	}

	vfs.log.Debug("SaveState: saved %d aliases and %d mods to %s", len(state.Aliases), len(state.Mods), s.Name())
	return nil
}

// LoadState replaces the resolver configuration with the state saved in s.
func (vfs *VirtualFileSystem) LoadState(ctx context.Context, s store.Store) error {
	r, err := vfs.mutableResolver()
	if err != nil {
		return err
	}
	defer vfs.mu.Unlock()

	state, err := s.Load(ctx)
	if err != nil {
		return err
	}

	r.Restore(state)
	vfs.log.Debug("LoadState: restored %d aliases and %d mods from %s", len(state.Aliases), len(state.Mods), s.Name())
	return nil
}
