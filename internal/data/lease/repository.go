package lease

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"postsmith/app/internal/domain/pipeline"
)

// Repository stores run leases in SQLite. Each Repository acts as one holder.
type Repository struct {
	db     *gorm.DB
	logger *logrus.Logger
	holder string
	now    func() time.Time
}

var _ pipeline.Locker = (*Repository)(nil)

// NewRepository constructs a Gorm-backed lease store with a fresh holder identity.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*Repository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Repository{
		db:     db,
		logger: logger,
		holder: uuid.NewString(),
		now:    time.Now,
	}, nil
}

// Holder returns the identity this repository acquires leases under.
func (r *Repository) Holder() string {
	return r.holder
}

// Acquire claims name for ttl. It succeeds when the lease is free, expired, or already
// held by this repository.
func (r *Repository) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false, eris.New("lease name is required")
	}
	if ttl <= 0 {
		return false, eris.Errorf("lease ttl must be positive, got %s", ttl)
	}

	now := r.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	fields := logrus.Fields{"lease": trimmed, "holder": r.holder}

	record := &LeaseRecord{Name: trimmed, Holder: r.holder, ExpiresAt: expiresAt}
	created := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if created.Error != nil {
		r.logError(fields, created.Error, "inserting lease")
		return false, eris.Wrapf(created.Error, "inserting lease: %s", trimmed)
	}
	if created.RowsAffected == 1 {
		return true, nil
	}

	updated := r.db.WithContext(ctx).
		Model(&LeaseRecord{}).
		Where("name = ? AND (holder = ? OR expires_at <= ?)", trimmed, r.holder, now).
		Updates(map[string]any{"holder": r.holder, "expires_at": expiresAt})
	if updated.Error != nil {
		r.logError(fields, updated.Error, "taking over lease")
		return false, eris.Wrapf(updated.Error, "taking over lease: %s", trimmed)
	}

	return updated.RowsAffected == 1, nil
}

// Release drops the lease if this repository holds it.
func (r *Repository) Release(ctx context.Context, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return eris.New("lease name is required")
	}

	err := r.db.WithContext(ctx).
		Where("name = ? AND holder = ?", trimmed, r.holder).
		Delete(&LeaseRecord{}).Error
	if err != nil {
		r.logError(logrus.Fields{"lease": trimmed, "holder": r.holder}, err, "releasing lease")
		return eris.Wrapf(err, "releasing lease: %s", trimmed)
	}

	return nil
}

func (r *Repository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil || err == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
