package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/migrations"
)

// Migrate applies the embedded migrations. direction is "up" or "down"; nothing to do is not an
// error.
func Migrate(dsn, direction string) error {
	if err := checkMigrateArgs(dsn, direction); err != nil {
		return err
	}
	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	v, dirty, verr := m.Version()
	if verr == nil {
		logger.Infof("migrations %s done: version=%d dirty=%v", direction, v, dirty)
	}
	return nil
}

// MigrateWithRetry keeps calling Migrate while the database is still coming up. Bad arguments
// fail at once.
func MigrateWithRetry(ctx context.Context, dsn, direction string, maxWait time.Duration) error {
	if err := checkMigrateArgs(dsn, direction); err != nil {
		return err
	}
	return retry(ctx, "migrate "+direction, maxWait, func(context.Context) error {
		return Migrate(dsn, direction)
	})
}

func checkMigrateArgs(dsn, direction string) error {
	if dsn == "" {
		return errors.New("migrate: DATABASE_URL is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("migrate: direction must be up or down, got %q", direction)
	}
	return nil
}
