package lease

import "time"

// LeaseRecord is a named, expiring claim on running the pipeline.
type LeaseRecord struct {
	Name      string    `gorm:"primaryKey;size:128"`
	Holder    string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time
}

// TableName defines the table name for the lease model.
func (LeaseRecord) TableName() string {
	return "run_leases"
}
