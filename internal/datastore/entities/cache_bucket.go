package entities

import "time"

// CacheBucket is a named cache. ID order is creation order, which is the
// order buckets are searched in when a request is matched across all of them.
type CacheBucket struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:191;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	Entries   []CacheEntry `gorm:"foreignKey:BucketID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (CacheBucket) TableName() string {
	return "cache_buckets"
}
