package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

type Migration struct {
	ID          string
	Description string
	Up          []string
	Down        []string
}

var migrations = []Migration{
	{
		ID:          "001_sounds",
		Description: "Create sounds and pseudonyms",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS sounds (
				name TEXT PRIMARY KEY,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS pseudonyms (
				sound TEXT NOT NULL,
				position INTEGER NOT NULL,
				phrase TEXT NOT NULL,
				PRIMARY KEY (sound, position),
				UNIQUE (sound, phrase)
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS pseudonyms`,
			`DROP TABLE IF EXISTS sounds`,
		},
	},
	{
		ID:          "002_phrase_index",
		Description: "Index pseudonyms by phrase",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS pseudonyms_phrase ON pseudonyms (phrase)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS pseudonyms_phrase`,
		},
	},
}

// Confirm is asked before each pending migration. A nil Confirm applies
// everything.
type Confirm func(Migration) (bool, error)

func Migrate(
	ctx context.Context,
	db *sql.DB,
	dialect Dialect,
	logger *log.Logger,
	confirm Confirm,
) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating migration_history table: %w", err)
	}

	for _, migration := range migrations {
		var applied int
		err := db.QueryRowContext(
			ctx,
			dialect.rebind("SELECT 1 FROM migration_history WHERE id = ?"),
			migration.ID,
		).Scan(&applied)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("error checking migration status: %w", err)
		}

		if applied == 1 {
			logger.Debug("Skipping migration (already applied)", "id", migration.ID)
			continue
		}

		if confirm != nil {
			ok, err := confirm(migration)
			if err != nil {
				return fmt.Errorf("error getting user confirmation: %w", err)
			}
			if !ok {
				logger.Info("Migration skipped", "id", migration.ID)
				continue
			}
		}

		logger.Info("Applying migration", "id", migration.ID)
		if err := apply(ctx, db, dialect, migration); err != nil {
			return err
		}
		logger.Info("Successfully applied migration", "id", migration.ID)
	}

	return nil
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range migration.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying migration %s: %w", migration.ID, err)
		}
	}

	_, err = tx.ExecContext(
		ctx,
		dialect.rebind("INSERT INTO migration_history (id) VALUES (?)"),
		migration.ID,
	)
	if err != nil {
		return fmt.Errorf("error recording migration %s: %w", migration.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing migration %s: %w", migration.ID, err)
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func Rollback(ctx context.Context, db *sql.DB, dialect Dialect, logger *log.Logger) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]

		var applied int
		err := db.QueryRowContext(
			ctx,
			dialect.rebind("SELECT 1 FROM migration_history WHERE id = ?"),
			migration.ID,
		).Scan(&applied)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error checking migration status: %w", err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}
		defer tx.Rollback()

		for _, stmt := range migration.Down {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("error reverting migration %s: %w", migration.ID, err)
			}
		}
		_, err = tx.ExecContext(
			ctx,
			dialect.rebind("DELETE FROM migration_history WHERE id = ?"),
			migration.ID,
		)
		if err != nil {
			return fmt.Errorf("error forgetting migration %s: %w", migration.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("error committing rollback of %s: %w", migration.ID, err)
		}

		logger.Info("Reverted migration", "id", migration.ID)
		return nil
	}

	logger.Info("No migrations to revert")
	return nil
}

func Migrations() []Migration {
	return migrations
}
