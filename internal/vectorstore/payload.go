package vectorstore

// Payload keys stored with every chunk point.
const (
	MetaChunkID    = "chunk_id"
	MetaDocumentID = "document_id"
	MetaOrdinal    = "ordinal"
	MetaText       = "text"
	MetaTitle      = "title"
	MetaSourceURL  = "source_url"
)

// ChunkPayload is what a chunk point carries besides its vector.
type ChunkPayload struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Title      string
	SourceURL  string
}

// Meta encodes the payload for Point.Meta.
func (p ChunkPayload) Meta() map[string]any {
	return map[string]any{
		MetaChunkID:    p.ChunkID,
		MetaDocumentID: p.DocumentID,
		MetaOrdinal:    p.Ordinal,
		MetaText:       p.Text,
		MetaTitle:      p.Title,
		MetaSourceURL:  p.SourceURL,
	}
}

// ChunkPayload decodes the result's payload. Points written without a
// chunk_id fall back to the point ID.
func (r SearchResult) ChunkPayload() ChunkPayload {
	p := ChunkPayload{
		ChunkID:    MetaString(r.Meta, MetaChunkID),
		DocumentID: MetaString(r.Meta, MetaDocumentID),
		Ordinal:    MetaInt(r.Meta, MetaOrdinal),
		Text:       MetaString(r.Meta, MetaText),
		Title:      MetaString(r.Meta, MetaTitle),
		SourceURL:  MetaString(r.Meta, MetaSourceURL),
	}
	if p.ChunkID == "" {
		p.ChunkID = r.PointID
	}
	return p
}

// MetaString reads a string payload value.
func MetaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// MetaInt reads an integer payload value regardless of how the backend decoded it.
func MetaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
