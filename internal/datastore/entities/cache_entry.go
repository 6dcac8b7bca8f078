package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// Body encodings stored in CacheEntry.Encoding.
const (
	EncodingIdentity = "identity"
	EncodingZstd     = "zstd"
)

// CacheEntry is one stored response, keyed by (bucket, method, URL).
// URLHash keeps the unique index short enough for MySQL.
type CacheEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BucketID   uint      `gorm:"not null;uniqueIndex:idx_cache_entry_key,priority:1" json:"bucket_id"`
	Method     string    `gorm:"size:10;not null;uniqueIndex:idx_cache_entry_key,priority:2" json:"method"`
	URLHash    string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entry_key,priority:3" json:"-"`
	URL        string    `gorm:"type:text;not null" json:"url"`
	Status     int       `gorm:"not null" json:"status"`
	StatusText string    `gorm:"size:100;default:''" json:"status_text"`
	Headers    string    `gorm:"type:text" json:"headers"`
	Body       []byte    `json:"-"`
	Encoding   string    `gorm:"size:16;not null;default:'identity'" json:"encoding"`
	Size       int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// HashURL returns the hex SHA-256 of a URL for the entry key.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// StoredResponse is the decoded form of a CacheEntry handed to callers.
// Body is always uncompressed.
type StoredResponse struct {
	Bucket     string
	Method     string
	URL        string
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// BucketStats summarizes a bucket for listings.
type BucketStats struct {
	Name      string    `json:"name"`
	Entries   int64     `json:"entries"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}
