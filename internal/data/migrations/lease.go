package migrations

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	leasedata "postsmith/app/internal/data/lease"
)

// MigrateLeases applies the run lease schema using Gorm's AutoMigrate and logs progress.
func MigrateLeases(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "lease.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying lease schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&leasedata.LeaseRecord{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("lease schema migration failed")
		}
		return eris.Wrap(err, "auto migrating lease schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("lease schema migration complete")
	}

	return nil
}
