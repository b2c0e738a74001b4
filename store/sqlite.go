package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite is the on-disk Store.
type SQLite struct {
	db       *sql.DB
	deviceID string
}

// OpenSQLite opens (or creates) the database at path and migrates it to the latest schema.
func OpenSQLite(path, deviceID string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, deviceID: deviceID}, nil
}

// migrateUp leaves the migrator open: closing it would close db as well.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration engine: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	version, _, _ := m.Version()
	tool.DefaultLogger.Debugf("[Store] schema version %d", version)
	return nil
}

func (s *SQLite) Snapshot(ctx context.Context) (types.Snapshot, error) {
	snap := types.Snapshot{DeviceID: s.deviceID}

	rows, err := s.db.QueryContext(ctx, `SELECT book_key, title, author, membership, updated_at FROM books ORDER BY book_key`)
	if err != nil {
		return snap, types.StorageError("read books", err)
	}
	for rows.Next() {
		var b types.BookEntry
		if err := rows.Scan(&b.Key, &b.Title, &b.Author, &b.Membership, &b.UpdatedAt); err != nil {
			rows.Close()
			return snap, types.StorageError("read books", err)
		}
		snap.Books = append(snap.Books, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, types.StorageError("read books", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT book_key, current_chapter, position, updated_at FROM reading_progress ORDER BY book_key`)
	if err != nil {
		return snap, types.StorageError("read progress", err)
	}
	for rows.Next() {
		var p types.ProgressEntry
		if err := rows.Scan(&p.BookKey, &p.CurrentChapter, &p.Position, &p.UpdatedAt); err != nil {
			rows.Close()
			return snap, types.StorageError("read progress", err)
		}
		snap.Progress = append(snap.Progress, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, types.StorageError("read progress", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT book_key, categories, updated_at FROM book_categories ORDER BY book_key`)
	if err != nil {
		return snap, types.StorageError("read categories", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c   types.CategoryEntry
			raw string
		)
		if err := rows.Scan(&c.BookKey, &raw, &c.UpdatedAt); err != nil {
			return snap, types.StorageError("read categories", err)
		}
		if err := sonic.UnmarshalString(raw, &c.Categories); err != nil {
			return snap, types.StorageError("decode categories of "+c.BookKey, err)
		}
		snap.Categories = append(snap.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return snap, types.StorageError("read categories", err)
	}
	return snap, nil
}

func (s *SQLite) Apply(ctx context.Context, changes types.Snapshot) (err error) {
	if err := validate(changes); err != nil {
		return types.StorageError("invalid change set", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.StorageError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				tool.DefaultLogger.Errorf("[Store] rollback failed: %v", rbErr)
			}
		}
	}()

	for _, b := range changes.Books {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO books (book_key, title, author, membership, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(book_key) DO UPDATE SET
				title = excluded.title, author = excluded.author,
				membership = excluded.membership, updated_at = excluded.updated_at`,
			b.Key, b.Title, b.Author, b.Membership, b.UpdatedAt); err != nil {
			return types.StorageError("write book "+b.Key, err)
		}
	}
	for _, p := range changes.Progress {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO reading_progress (book_key, current_chapter, position, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(book_key) DO UPDATE SET
				current_chapter = excluded.current_chapter, position = excluded.position,
				updated_at = excluded.updated_at`,
			p.BookKey, p.CurrentChapter, p.Position, p.UpdatedAt); err != nil {
			return types.StorageError("write progress "+p.BookKey, err)
		}
	}
	for _, c := range changes.Categories {
		cats := c.Categories
		if cats == nil {
			cats = []string{}
		}
		var raw string
		if raw, err = sonic.MarshalString(cats); err != nil {
			return types.StorageError("encode categories of "+c.BookKey, err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO book_categories (book_key, categories, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(book_key) DO UPDATE SET
				categories = excluded.categories, updated_at = excluded.updated_at`,
			c.BookKey, raw, c.UpdatedAt); err != nil {
			return types.StorageError("write categories "+c.BookKey, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return types.StorageError("commit", err)
	}
	return nil
}

func (s *SQLite) RecordSync(ctx context.Context, entry types.SyncLogEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO sync_log (sync_id, device_id, device_name, status, items_synced, duration_ms, error, unresolved, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SyncID, entry.DeviceID, entry.DeviceName, string(entry.Status),
		entry.ItemsSynced, entry.DurationMs, entry.Error, entry.Unresolved, entry.Timestamp); err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	if entry.Status == types.PhaseCompleted {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sync_metadata (device_id, last_sync_time) VALUES (?, ?)
			ON CONFLICT(device_id) DO UPDATE SET last_sync_time = excluded.last_sync_time`,
			entry.DeviceID, entry.Timestamp); err != nil {
			return fmt.Errorf("update sync metadata: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) LastSyncTime(ctx context.Context, deviceID string) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_time FROM sync_metadata WHERE device_id = ?`, deviceID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query last sync time: %w", err)
	}
	return ts, nil
}

func (s *SQLite) SyncLog(ctx context.Context, limit int) ([]types.SyncLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_id, device_id, device_name, status, items_synced, duration_ms, error, unresolved, timestamp
		FROM sync_log ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync log: %w", err)
	}
	defer rows.Close()
	var out []types.SyncLogEntry
	for rows.Next() {
		var (
			e      types.SyncLogEntry
			status string
		)
		if err := rows.Scan(&e.SyncID, &e.DeviceID, &e.DeviceName, &status, &e.ItemsSynced, &e.DurationMs, &e.Error, &e.Unresolved, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		e.Status = types.SyncPhase(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
