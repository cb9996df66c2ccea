package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jobportal/internal/logger"
)

const (
	embeddedUser     = "jobportal"
	embeddedPassword = "jobportal_secret"
	embeddedDatabase = "jobportal"
)

// StartEmbeddedPostgres runs a local PostgreSQL with its data in dataDir and returns it with
// its connection string. The caller stops it.
func StartEmbeddedPostgres(dataDir string, port uint32) (*embeddedpostgres.EmbeddedPostgres, string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create pgdata dir: %w", err)
	}
	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), fmt.Sprintf("jobportal-pg-runtime-%d", port))),
	)
	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, "", fmt.Errorf("start embedded postgres: %w", err)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		embeddedUser, embeddedPassword, port, embeddedDatabase)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, dsn, nil
}
