package pgvector

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openGormDB opens a second gorm handle against the item database. The
// embedding table lives next to the item tables, so the plugin shares the
// store's DSN. Query logging stays off: similarity searches carry whole
// query vectors and would flood the log.
func openGormDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
}
