package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkPayload_RoundTrip(t *testing.T) {
	p := ChunkPayload{
		ChunkID: "c-1", DocumentID: "d-1", Ordinal: 2,
		Text: "Built pipelines on AWS Glue.", Title: "Evelyn Hamilton", SourceURL: "cvs/evelyn_hamilton.pdf",
	}
	assert.Equal(t, p, SearchResult{PointID: "c-1", Meta: p.Meta()}.ChunkPayload())
}

func TestChunkPayload_Decoding(t *testing.T) {
	tests := []struct {
		name string
		res  SearchResult
		want ChunkPayload
	}{
		{
			name: "json numbers",
			res:  SearchResult{PointID: "p", Meta: map[string]any{MetaChunkID: "c", MetaOrdinal: float64(4)}},
			want: ChunkPayload{ChunkID: "c", Ordinal: 4},
		},
		{
			name: "grpc integers",
			res:  SearchResult{PointID: "p", Meta: map[string]any{MetaChunkID: "c", MetaOrdinal: int64(7)}},
			want: ChunkPayload{ChunkID: "c", Ordinal: 7},
		},
		{
			name: "missing chunk id",
			res:  SearchResult{PointID: "p", Meta: map[string]any{MetaText: "x"}},
			want: ChunkPayload{ChunkID: "p", Text: "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.ChunkPayload())
		})
	}
}
