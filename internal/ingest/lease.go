package ingest

import (
	"fmt"
	"time"

	"github.com/voxyard/voxyard/internal/models"
	"gorm.io/gorm"
)

// DefaultLeaseTTL bounds how long a creation lease can be held. A holder
// that crashes without releasing stops blocking room creation once the
// lease expires, so correctness survives restarts and multiple instances.
const DefaultLeaseTTL = 10 * time.Second

// AcquireLease takes the named lease for holder. It first clears any
// expired lease, then inserts a fresh row; the primary-key insert is the
// conditional write that makes acquisition atomic across instances.
// Returns an error if the lease is currently held.
func AcquireLease(db *gorm.DB, key, holder string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// Clear an expired lease so a crashed holder can't wedge creation.
		if err := tx.Where("`key` = ? AND expires_at < ?", key, now).
			Delete(&models.CreationLease{}).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		lease := models.CreationLease{
			Key:        key,
			Holder:     holder,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		if err := tx.Create(&lease).Error; err != nil {
			// Duplicate key: someone else holds an unexpired lease.
			return fmt.Errorf("lease held: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: acquire lease %s: %w", key, err)
	}
	return nil
}

// ReleaseLease frees the lease if holder still owns it. Releasing a lease
// that expired and was taken over by another holder is a no-op.
func ReleaseLease(db *gorm.DB, key, holder string) error {
	result := db.Where("`key` = ? AND holder = ?", key, holder).
		Delete(&models.CreationLease{})
	if result.Error != nil {
		return fmt.Errorf("ingest: release lease %s: %w", key, result.Error)
	}
	return nil
}
