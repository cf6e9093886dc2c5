package storage

import "time"

// VisitRecord is one row of the visit log.
type VisitRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalizedUrl"`
	Hostname      string    `json:"hostname"`
	Title         string    `json:"title"`
	TabID         int       `json:"tabId"`
}

// VisitSummary groups visits of one normalized URL.
type VisitSummary struct {
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalizedUrl"`
	Title         string    `json:"title"`
	LastVisitTime time.Time `json:"lastVisitTime"`
	VisitCount    int       `json:"visitCount"`
}

// SearchQuery defines filters for keyword search over the visit log.
type SearchQuery struct {
	Query    string    `json:"query"`
	Hostname string    `json:"hostname"`
	Since    time.Time `json:"since"`
	Until    time.Time `json:"until"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats holds database-level statistics.
type Stats struct {
	TotalVisits       int64     `json:"totalVisits"`
	TotalKeys         int64     `json:"totalKeys"`
	OldestVisit       time.Time `json:"oldestVisit"`
	NewestVisit       time.Time `json:"newestVisit"`
	DatabaseSizeBytes int64     `json:"databaseSizeBytes"`
}
