package dto

import "time"

// MetricsSnapshot summarises engine counters.
type MetricsSnapshot struct {
	RequestsTotal    uint64    `json:"requests_total"`
	WindowsResolved  uint64    `json:"windows_resolved"`
	TemplatesSkipped uint64    `json:"templates_skipped"`
	UpsertRetries    uint64    `json:"upsert_retries"`
	AuditFindings    uint64    `json:"audit_findings"`
	CacheHits        uint64    `json:"cache_hits"`
	CacheMisses      uint64    `json:"cache_misses"`
	CacheHitRatio    float64   `json:"cache_hit_ratio"`
	Goroutines       int       `json:"goroutines"`
	GeneratedAt      time.Time `json:"generated_at"`
}
