package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/resolver"
	"github.com/mwantia/pakfs/store"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store keeps resolver states in a SQLite database, one row per profile.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	profile string
}

// New opens the database at dbPath. The dbPath can be ":memory:" for an
// in-memory database or a file path.
func New(dbPath, profile string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" opens a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		profile: store.ProfileOrDefault(profile),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pakfs_state (
		profile TEXT PRIMARY KEY,
		game_folder TEXT NOT NULL,
		localization TEXT NOT NULL,
		aliases TEXT,
		mods TEXT,
		update_time INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (*Store) Name() string {
	return "sqlite"
}

func (s *Store) Load(ctx context.Context) (*resolver.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		state         resolver.State
		aliases, mods sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT game_folder, localization, aliases, mods
		FROM pakfs_state WHERE profile = ?
	`, s.profile).Scan(&state.GameFolder, &state.Localization, &aliases, &mods)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no state saved for profile %q", data.ErrNotExist, s.profile)
	}
	if err != nil {
		return nil, err
	}

	if aliases.Valid {
		if err := json.Unmarshal([]byte(aliases.String), &state.Aliases); err != nil {
			return nil, fmt.Errorf("%w: aliases: %v", data.ErrCorrupt, err)
		}
	}
	if mods.Valid {
		if err := json.Unmarshal([]byte(mods.String), &state.Mods); err != nil {
			return nil, fmt.Errorf("%w: mods: %v", data.ErrCorrupt, err)
		}
	}

	return &state, nil
}

func (s *Store) Save(ctx context.Context, state *resolver.State) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", data.ErrInvalid)
	}

	aliases, err := nullJSON(state.Aliases, len(state.Aliases))
	if err != nil {
		return err
	}
	mods, err := nullJSON(state.Mods, len(state.Mods))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pakfs_state (profile, game_folder, localization, aliases, mods, update_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			game_folder = excluded.game_folder,
			localization = excluded.localization,
			aliases = excluded.aliases,
			mods = excluded.mods,
			update_time = excluded.update_time
	`, s.profile, state.GameFolder, state.Localization, aliases, mods, time.Now().Unix())
	return err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

func nullJSON(v any, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
