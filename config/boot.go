package config

import (
	"context"
	"fmt"

	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/mount"
)

// Boot applies the configured aliases to an initialized file system and mounts
// the configured packs in order. Mount failures are reported per pack; the
// returned error covers configuration problems only.
func Boot(ctx context.Context, vfs *pakfs.VirtualFileSystem, cfg Config) ([]mount.Result, error) {
	for _, alias := range cfg.Aliases {
		if err := vfs.SetAlias(alias.Name, alias.Value, true); err != nil {
			return nil, fmt.Errorf("alias %s: %w", alias.Name, err)
		}
	}

	source, err := cfg.OpenRemote(vfs.Logger().Named("remote"))
	if err != nil {
		return nil, err
	}

	var results []mount.Result
	for _, pack := range cfg.Packs {
		if pack.Path == "" {
			return results, fmt.Errorf("%w: pack without path", data.ErrInvalid)
		}

		switch {
		case pack.Remote && source == nil:
			return results, fmt.Errorf("%w: pack %s needs a remote source", data.ErrInvalid, pack.Path)

		case pack.Remote && pack.wildcard():
			mounted, err := source.MountAll(ctx, vfs, pack.Path, pack.BindingRoot, pack.Flags())
			if err != nil {
				results = append(results, mount.Result{Path: pack.Path, Err: err})
				continue
			}
			results = append(results, mounted...)

		case pack.Remote:
			err := source.Mount(ctx, vfs, pack.Path, pack.BindingRoot, pack.Flags())
			results = append(results, mount.Result{Path: pack.Path, Err: err})

		case pack.wildcard():
			mounted, err := vfs.OpenPacks(ctx, pack.Path, pack.BindingRoot, pack.Flags())
			if err != nil {
				results = append(results, mount.Result{Path: pack.Path, Err: err})
				continue
			}
			results = append(results, mounted...)

		default:
			err := vfs.OpenPack(ctx, pack.Path, pack.BindingRoot, pack.Flags())
			results = append(results, mount.Result{Path: pack.Path, Err: err})
		}
	}

	vfs.Logger().Debug("Boot: processed %d pack entries", len(results))
	return results, nil
}
