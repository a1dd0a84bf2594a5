package models

// CacheStats reports prompt cache handle metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
