package scrape

import "time"

// Entry is one rendered page held by the cache. Entries are never mutated;
// a refresh replaces the entry for the URL.
type Entry struct {
	URL       string
	HTML      string
	FetchedAt time.Time
	Digest    string
}

// EntryInfo is the introspection view of an Entry.
type EntryInfo struct {
	FetchedAt time.Time
	Length    int
	Digest    string
}

// PreloadStatus reports one preload URL joined with its cache metadata.
// LastUpdated and ContentLength are nil until the URL renders successfully.
type PreloadStatus struct {
	URL           string     `json:"url"`
	LastUpdated   *time.Time `json:"last_updated"`
	ContentLength *int       `json:"content_length"`
	ContentHash   string     `json:"content_hash,omitempty"`
}

// UpdateResult is returned when the preload set is replaced.
type UpdateResult struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// RefreshEvent is published after a preload URL is re-rendered.
type RefreshEvent struct {
	URL           string    `json:"url"`
	FetchedAt     time.Time `json:"fetched_at"`
	ContentLength int       `json:"content_length"`
	ContentHash   string    `json:"content_hash"`
}
