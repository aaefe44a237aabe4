package storage

import (
	"encoding/json"
	"time"
)

// DocumentRecord is an ingested CV document.
type DocumentRecord struct {
	ID          string // UUID
	SourceURL   string // Unique origin (file path or URL)
	Title       string
	ContentHash string // SHA256 hex of the extracted text, used for change detection
	Metadata    map[string]string
	UpdatedAt   time.Time
}

// ChunkRecord is a chunk of a document's text. Its ID is also the vector point ID.
type ChunkRecord struct {
	ID         string
	DocumentID string
	Ordinal    int // Reading order within the document, starting at 0
	Text       string
	Metadata   map[string]string

	// Populated from the owning document on reads.
	DocumentTitle string
	SourceURL     string
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	meta := map[string]string{}
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// parseTimestamp accepts both SQLite's default DATETIME layout and RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
