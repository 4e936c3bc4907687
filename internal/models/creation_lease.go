package models

import "time"

// CreationLease is the service-wide room-creation lock, held as a row in
// the shared store so mutual exclusion spans process instances. A lease
// whose ExpiresAt has passed is reclaimable by any instance, so a crashed
// holder can never wedge room creation.
type CreationLease struct {
	Key        string `gorm:"primaryKey;size:64"`
	Holder     string `gorm:"size:64;not null"`
	AcquiredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}
