// Package store implements the relational staging database: schema
// creation, idempotent profile registration, run creation, and per-value
// inserts, plus load-from-file/store-to-file using the SQLite driver's
// online backup API, mirroring the original C++ library's in-memory
// staging database that is only ever materialized to disk on demand.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/anupzope-go/perfoscope/internal/domain"
)

// timeEventName is the synthetic event perfoscope always stores alongside
// whatever hardware events the caller's profile names, holding each
// category's wall-clock duration. It is never part of domain.ProfileSpec
// itself: RegisterProfile appends it only to the stored event list.
const timeEventName = "time"

// Store is the staging database for profiles, runs, and measured values.
// It is safe for concurrent use by multiple goroutines, backed by a
// single *sql.DB whose connection pool SQLite's own locking serializes.
type Store struct {
	db          *sql.DB
	foreignKeys bool
}

// Open creates (if necessary) the perfoscope schema against db and
// returns a ready Store. foreignKeys mirrors the original library's
// build-time toggle for emitting FOREIGN KEY clauses: some embedding
// applications link against SQLite builds with foreign key support
// compiled out.
func Open(db *sql.DB, foreignKeys bool) (*Store, error) {
	s := &Store{db: db, foreignKeys: foreignKeys}
	if err := s.createSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// createSchema builds the five normative tables: perf_profile,
// perf_category (global, not keyed by profile), perf_event (keyed by
// profile), perf_run (keyed by profile and size), and perf_value.
func (s *Store) createSchema(ctx context.Context) error {
	eventFK := ""
	runFK := ""
	if s.foreignKeys {
		eventFK = `,
  FOREIGN KEY(profile_id) REFERENCES perf_profile(id)`
		runFK = `,
  FOREIGN KEY(profile_id) REFERENCES perf_profile(id)`
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS perf_profile (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);`,
		`CREATE TABLE IF NOT EXISTS perf_category (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS perf_event (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  profile_id INTEGER NOT NULL%s,
  UNIQUE(name, profile_id)
);`, eventFK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS perf_run (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run INTEGER NOT NULL,
  size INTEGER NOT NULL,
  profile_id INTEGER NOT NULL%s,
  UNIQUE(run, size, profile_id)
);`, runFK),
		`CREATE TABLE IF NOT EXISTS perf_value (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  proc_id INTEGER NOT NULL,
  thread_id INTEGER NOT NULL,
  profile_id INTEGER NOT NULL,
  category_id INTEGER NOT NULL,
  event_id INTEGER NOT NULL,
  run_id INTEGER NOT NULL,
  value NUMERIC
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create schema: %v", domain.ErrStoreIOError, err)
		}
	}
	return nil
}

// RegisterProfile idempotently registers spec, mirroring the original
// library's exist_mask logic: bit0 records whether the ProfileSpec's
// complete category set is already present in the global perf_category
// table, bit1 whether the profile row exists, bit2 whether the complete
// stored event set (spec.Events plus the synthetic "time" event) is
// already present as perf_event rows tied to that profile. Profile and
// events must agree — one present without the other, or only some of
// either set present, means a previous registration was interrupted
// partway through or a name collides with an unrelated profile, which is
// a schema inconsistency rather than something safe to silently repair.
func (s *Store) RegisterProfile(ctx context.Context, spec domain.ProfileSpec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", domain.ErrStoreIOError, err)
	}
	defer tx.Rollback()

	var profileID int64
	var maskProfile bool

	row := tx.QueryRowContext(ctx, `SELECT id FROM perf_profile WHERE name = ?`, spec.Name)
	switch err := row.Scan(&profileID); err {
	case nil:
		maskProfile = true
	case sql.ErrNoRows:
		maskProfile = false
	default:
		return 0, fmt.Errorf("%w: lookup profile: %v", domain.ErrStoreIOError, err)
	}

	storedEvents := append(append([]string(nil), spec.Events...), timeEventName)

	if maskProfile {
		present, err := matchCount(ctx, tx, `SELECT COUNT(*) FROM perf_event WHERE profile_id = ? AND name = ?`, profileID, storedEvents)
		if err != nil {
			return 0, fmt.Errorf("%w: lookup events: %v", domain.ErrStoreIOError, err)
		}
		if present != len(storedEvents) {
			return 0, fmt.Errorf("%w: profile %q: expected %d event rows, found %d", domain.ErrSchemaInconsistent, spec.Name, len(storedEvents), present)
		}
	}

	presentCategories, err := matchCount(ctx, tx, `SELECT COUNT(*) FROM perf_category WHERE name = ?`, 0, spec.Categories)
	if err != nil {
		return 0, fmt.Errorf("%w: lookup categories: %v", domain.ErrStoreIOError, err)
	}
	switch {
	case presentCategories == len(spec.Categories):
		// bit0 true: nothing to insert.
	case presentCategories == 0:
		for _, name := range spec.Categories {
			if _, err := tx.ExecContext(ctx, `INSERT INTO perf_category (name) VALUES (?)`, name); err != nil {
				return 0, fmt.Errorf("%w: insert category: %v", domain.ErrStoreIOError, err)
			}
		}
	default:
		return 0, fmt.Errorf("%w: profile %q: %d of %d categories already present", domain.ErrSchemaInconsistent, spec.Name, presentCategories, len(spec.Categories))
	}

	if maskProfile {
		return profileID, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO perf_profile (name) VALUES (?)`, spec.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: insert profile: %v", domain.ErrStoreIOError, err)
	}
	profileID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", domain.ErrStoreIOError, err)
	}

	for _, name := range storedEvents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO perf_event (name, profile_id) VALUES (?,?)`, name, profileID); err != nil {
			return 0, fmt.Errorf("%w: insert event: %v", domain.ErrStoreIOError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrStoreIOError, err)
	}
	return profileID, nil
}

// matchCount counts how many of names already exist, evaluating query
// (which must select a single name parameter, optionally preceded by a
// profileID parameter when profileID != 0) once per name. Used to detect
// partial matches against the complete set a spec names, which a plain
// COUNT(*) over the whole set cannot distinguish from a same-sized but
// differently-named set.
func matchCount(ctx context.Context, tx *sql.Tx, query string, profileID int64, names []string) (int, error) {
	count := 0
	for _, name := range names {
		var n int
		var err error
		if profileID != 0 {
			err = tx.QueryRowContext(ctx, query, profileID, name).Scan(&n)
		} else {
			err = tx.QueryRowContext(ctx, query, name).Scan(&n)
		}
		if err != nil {
			return 0, err
		}
		if n > 0 {
			count++
		}
	}
	return count, nil
}

// CreateNewRun computes the next run index for (profileID, size) as
// 1 + max(run) over existing rows sharing that pair (1 when there are
// none) and inserts the new row, matching the original library's
// s_create_new_run_query.
func (s *Store) CreateNewRun(ctx context.Context, profileID, size int64) (domain.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: begin: %v", domain.ErrStoreIOError, err)
	}
	defer tx.Rollback()

	var runIndex int64
	err = tx.QueryRowContext(ctx, `SELECT ifnull(max(run), 0) + 1 FROM perf_run WHERE profile_id = ? AND size = ?`, profileID, size).Scan(&runIndex)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: next run index: %v", domain.ErrStoreIOError, err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO perf_run (run, size, profile_id) VALUES (?,?,?)`, runIndex, size, profileID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: insert run: %v", domain.ErrStoreIOError, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: last insert id: %v", domain.ErrStoreIOError, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, fmt.Errorf("%w: commit: %v", domain.ErrStoreIOError, err)
	}
	return domain.Run{ID: id, RunIndex: runIndex, Size: size, ProfileID: profileID}, nil
}

// categoryID resolves a global category name to its row id.
func (s *Store) categoryID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM perf_category WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: category lookup %q: %v", domain.ErrStoreIOError, name, err)
	}
	return id, nil
}

// eventID resolves a profile-scoped event name to its row id.
func (s *Store) eventID(ctx context.Context, profileID int64, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM perf_event WHERE profile_id = ? AND name = ?`, profileID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: event lookup %q: %v", domain.ErrStoreIOError, name, err)
	}
	return id, nil
}

// InsertValue records one (proc, thread, category, event) measurement
// under the given profileID, resolving category_id and event_id by name
// with one lookup query each before the insert. v's
// tag selects whether the bound value is an integer counter delta or a
// double wall-clock duration; both bind into the same numeric column.
func (s *Store) InsertValue(ctx context.Context, runID int64, profileID int64, procID, threadID int, category, eventName string, v domain.Value) error {
	categoryID, err := s.categoryID(ctx, category)
	if err != nil {
		return err
	}
	eventID, err := s.eventID(ctx, profileID, eventName)
	if err != nil {
		return err
	}

	var value any
	if v.IsTime() {
		value = v.Float64()
	} else {
		value = v.Int64()
	}

	const q = `INSERT INTO perf_value (proc_id, thread_id, profile_id, category_id, event_id, run_id, value) VALUES (?,?,?,?,?,?,?)`
	if _, err := s.db.ExecContext(ctx, q, procID, threadID, profileID, categoryID, eventID, runID, value); err != nil {
		return fmt.Errorf("%w: insert value: %v", domain.ErrStoreIOError, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadFromFile replaces the in-memory staging database's contents with
// path's, using SQLite's online backup API the same way the original
// library used sqlite3_backup_init to load a persisted database into its
// in-process handle at Init time.
func (s *Store) LoadFromFile(ctx context.Context, path string) error {
	return s.backup(ctx, path, false)
}

// StoreToFile writes the in-memory staging database out to path, the
// counterpart used at Finalize time only when the database was actually
// modified since load.
func (s *Store) StoreToFile(ctx context.Context, path string) error {
	return s.backup(ctx, path, true)
}

// backup drives sqlite3's backup API between s.db's connection and a
// throwaway connection to path, in the direction toFile indicates.
func (s *Store) backup(ctx context.Context, path string, toFile bool) error {
	fileDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStoreIOError, path, err)
	}
	defer fileDB.Close()
	if err := fileDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStoreIOError, path, err)
	}

	memConn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: conn: %v", domain.ErrStoreIOError, err)
	}
	defer memConn.Close()

	err = memConn.Raw(func(memDriverConn any) error {
		fileConn, err := fileDB.Conn(ctx)
		if err != nil {
			return err
		}
		defer fileConn.Close()

		return fileConn.Raw(func(fileDriverConn any) error {
			memSQLite, ok := memDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("in-memory connection is not a sqlite3 driver connection")
			}
			fileSQLite, ok := fileDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("file connection is not a sqlite3 driver connection")
			}

			src, dst := fileSQLite, memSQLite
			if toFile {
				src, dst = memSQLite, fileSQLite
			}

			bk, err := dst.Backup("main", src, "main")
			if err != nil {
				return err
			}
			defer bk.Close()
			for {
				done, err := bk.Step(-1)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		})
	})
	if err != nil {
		return fmt.Errorf("%w: backup %s: %v", domain.ErrStoreIOError, path, err)
	}
	return nil
}
