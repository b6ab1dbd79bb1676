package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Store is a Catalog backed by SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *log.Logger
}

var _ Catalog = (*Store)(nil)

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, url string, logger *log.Logger) (*Store, error) {
	dialect := Dialect(driver)
	switch dialect {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	if dialect == SQLite {
		// SQLite allows one writer; serializing avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := Migrate(ctx, db, dialect, logger, nil); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, dialect, logger), nil
}

func New(db *sql.DB, dialect Dialect, logger *log.Logger) *Store {
	return &Store{db: db, dialect: dialect, log: logger}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context) ([]SoundEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, p.phrase
		FROM sounds s
		LEFT JOIN pseudonyms p ON p.sound = s.name
		ORDER BY s.name, p.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sounds: %w", err)
	}
	defer rows.Close()

	var entries []SoundEntry
	for rows.Next() {
		var name string
		var phrase sql.NullString
		if err := rows.Scan(&name, &phrase); err != nil {
			return nil, fmt.Errorf("failed to scan sound: %w", err)
		}
		if len(entries) == 0 || entries[len(entries)-1].Name != name {
			entries = append(entries, SoundEntry{Name: name})
		}
		if phrase.Valid {
			last := &entries[len(entries)-1]
			last.Pseudonyms = append(last.Pseudonyms, phrase.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sounds: %w", err)
	}
	return entries, nil
}

func (s *Store) Get(ctx context.Context, name string) (SoundEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.dialect == Postgres})
	if err != nil {
		return SoundEntry{}, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.get(ctx, tx, name)
	if err != nil {
		return SoundEntry{}, err
	}
	return entry, tx.Commit()
}

func (s *Store) get(ctx context.Context, tx *sql.Tx, name string) (SoundEntry, error) {
	var found string
	err := tx.QueryRowContext(
		ctx,
		s.dialect.rebind("SELECT name FROM sounds WHERE name = ?"),
		name,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return SoundEntry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return SoundEntry{}, fmt.Errorf("failed to get sound: %w", err)
	}

	rows, err := tx.QueryContext(
		ctx,
		s.dialect.rebind("SELECT phrase FROM pseudonyms WHERE sound = ? ORDER BY position"),
		name,
	)
	if err != nil {
		return SoundEntry{}, fmt.Errorf("failed to get pseudonyms: %w", err)
	}
	defer rows.Close()

	entry := SoundEntry{Name: found}
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return SoundEntry{}, fmt.Errorf("failed to scan pseudonym: %w", err)
		}
		entry.Pseudonyms = append(entry.Pseudonyms, phrase)
	}
	return entry, rows.Err()
}

func (s *Store) Lookup(ctx context.Context, token string) (SoundEntry, error) {
	entry, err := s.Get(ctx, token)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return entry, err
	}

	n, convErr := strconv.Atoi(token)
	if convErr != nil || n < 1 {
		return SoundEntry{}, err
	}
	entries, listErr := s.List(ctx)
	if listErr != nil {
		return SoundEntry{}, listErr
	}
	if n > len(entries) {
		return SoundEntry{}, fmt.Errorf("%w: no sound at position %d", ErrNotFound, n)
	}
	return entries[n-1], nil
}

func (s *Store) Add(ctx context.Context, name string, pseudonyms ...string) error {
	if err := ValidName(name); err != nil {
		return err
	}

	phrases := []string{name}
	for _, p := range pseudonyms {
		p = strings.TrimSpace(p)
		if p != "" && !contains(phrases, p) {
			phrases = append(phrases, p)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			s.dialect.rebind("INSERT INTO sounds (name) VALUES (?)"),
			name,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sound %s", ErrExists, name)
		}
		if err != nil {
			return fmt.Errorf("failed to add sound: %w", err)
		}
		for i, phrase := range phrases {
			if err := s.insertPseudonym(ctx, tx, name, i, phrase); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddPseudonym(ctx context.Context, name, phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return fmt.Errorf("empty pseudonym for %s", name)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := s.get(ctx, tx, name)
		if err != nil {
			return err
		}
		if contains(entry.Pseudonyms, phrase) {
			return fmt.Errorf("%w: %s already has pseudonym %q", ErrExists, name, phrase)
		}

		var next int
		err = tx.QueryRowContext(
			ctx,
			s.dialect.rebind("SELECT COALESCE(MAX(position), -1) + 1 FROM pseudonyms WHERE sound = ?"),
			name,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to find next position: %w", err)
		}
		return s.insertPseudonym(ctx, tx, name, next, phrase)
	})
}

func (s *Store) insertPseudonym(ctx context.Context, tx *sql.Tx, name string, position int, phrase string) error {
	_, err := tx.ExecContext(
		ctx,
		s.dialect.rebind("INSERT INTO pseudonyms (sound, position, phrase) VALUES (?, ?, ?)"),
		name, position, phrase,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: pseudonym %q", ErrExists, phrase)
	}
	if err != nil {
		return fmt.Errorf("failed to add pseudonym: %w", err)
	}
	return nil
}

func (s *Store) RemovePseudonym(ctx context.Context, name, phrase string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := s.get(ctx, tx, name)
		if err != nil {
			return err
		}
		if len(entry.Pseudonyms) > 0 && entry.Pseudonyms[0] == phrase {
			return ErrPrimaryPseudonym
		}

		res, err := tx.ExecContext(
			ctx,
			s.dialect.rebind("DELETE FROM pseudonyms WHERE sound = ? AND phrase = ? AND position > 0"),
			name, phrase,
		)
		if err != nil {
			return fmt.Errorf("failed to remove pseudonym: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s has no pseudonym %q", ErrNotFound, name, phrase)
		}
		return nil
	})
}

// Rename moves the sound and its pseudonyms to newName. The first pseudonym
// follows the name.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	if err := ValidName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.get(ctx, tx, oldName); err != nil {
			return err
		}
		if _, err := s.get(ctx, tx, newName); err == nil {
			return fmt.Errorf("%w: sound %s", ErrExists, newName)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		stmts := []struct {
			query string
			args  []any
		}{
			{"INSERT INTO sounds (name, created_at) SELECT CAST(? AS TEXT), created_at FROM sounds WHERE name = ?", []any{newName, oldName}},
			{"UPDATE pseudonyms SET sound = ? WHERE sound = ?", []any{newName, oldName}},
			{"DELETE FROM pseudonyms WHERE sound = ? AND phrase = ? AND position > 0", []any{newName, newName}},
			{"UPDATE pseudonyms SET phrase = ? WHERE sound = ? AND position = 0", []any{newName, newName}},
			{"DELETE FROM sounds WHERE name = ?", []any{oldName}},
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(stmt.query), stmt.args...); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: sound %s", ErrExists, newName)
				}
				return fmt.Errorf("failed to rename %s: %w", oldName, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.rebind("DELETE FROM sounds WHERE name = ?"), name)
		if err != nil {
			return fmt.Errorf("failed to delete sound: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind("DELETE FROM pseudonyms WHERE sound = ?"), name); err != nil {
			return fmt.Errorf("failed to delete pseudonyms: %w", err)
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
