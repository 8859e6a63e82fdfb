package models

import "time"

// SyncWatermark records the newest source timestamp that has been durably
// committed to the graph for a collection. It only ever moves forward, and
// only after a successful batch commit.
type SyncWatermark struct {
	CollectionID string    `db:"collection_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
