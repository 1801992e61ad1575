// Package store persists the resolver state (game folder, localization,
// aliases and mods) so a host can restore its path setup across restarts.
package store

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/resolver"
)

// DefaultProfile is used when a store is created without a profile name.
const DefaultProfile = "default"

// Store loads and saves the resolver state of one profile.
type Store interface {
	// Name returns the identifier of the store implementation.
	Name() string
	// Load returns the saved state, or an error wrapping data.ErrNotExist.
	Load(ctx context.Context) (*resolver.State, error)
	Save(ctx context.Context, state *resolver.State) error
	Close() error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("store: cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(fmt.Sprintf("store: cbor decoder: %v", err))
	}
}

type record struct {
	GameFolder   string           `cbor:"1,keyasint"`
	Localization string           `cbor:"2,keyasint"`
	Aliases      []resolver.Alias `cbor:"3,keyasint"`
	Mods         []string         `cbor:"4,keyasint"`
}

// Encode serializes state into a compact binary record.
func Encode(state *resolver.State) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: nil state", data.ErrInvalid)
	}
	return encMode.Marshal(record{
		GameFolder:   state.GameFolder,
		Localization: state.Localization,
		Aliases:      state.Aliases,
		Mods:         state.Mods,
	})
}

// Decode parses a record produced by Encode.
func Decode(raw []byte) (*resolver.State, error) {
	var r record
	if err := decMode.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: decoding state: %v", data.ErrCorrupt, err)
	}
	return &resolver.State{
		GameFolder:   r.GameFolder,
		Localization: r.Localization,
		Aliases:      r.Aliases,
		Mods:         r.Mods,
	}, nil
}

// ProfileOrDefault returns profile, or DefaultProfile if it is empty.
func ProfileOrDefault(profile string) string {
	if profile == "" {
		return DefaultProfile
	}
	return profile
}
