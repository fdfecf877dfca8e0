package domain

import "time"

// CacheKeyRecommendedTopics is the cache entry holding the JSON-encoded list
// of recommended topics produced by the recommend_topics stage.
const CacheKeyRecommendedTopics = "recommended_topics"

// CacheEntry memoizes an expensive derived computation across restarts.
// Writes are last-write-wins on key collision.
type CacheEntry struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
