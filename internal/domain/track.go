package domain

// Track is an immutable catalog entry. Queue entries hold tracks by value;
// there is no back-reference into the catalog.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	StreamingURL    string  `json:"streaming_url"`
	ContentType     string  `json:"content_type"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// QueueEntry is a Track plus its 0-based position in the current queue
// ordering.
type QueueEntry struct {
	Track    Track `json:"track"`
	Position int   `json:"position"`
}
