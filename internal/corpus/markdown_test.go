package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const janeCV = `# Jane Doe

Senior data engineer based in Lisbon with ten years of experience.

## Experience

### Acme Corp

Built streaming pipelines with Kafka and Flink for fraud detection.

## Skills

| Area | Tools |
|------|-------|
| Cloud | AWS, GCP |
`

func TestMarkdownSplitter_Sections(t *testing.T) {
	title, chunks := NewMarkdownSplitter().Split([]byte(janeCV), "jane.md")

	assert.Equal(t, "Jane Doe", title)
	assert.Equal(t, []string{
		"Senior data engineer based in Lisbon with ten years of experience.",
		"Experience > Acme Corp\nBuilt streaming pipelines with Kafka and Flink for fraud detection.",
		"Skills\nArea | Tools\nCloud | AWS, GCP",
	}, chunks)
}

func TestMarkdownSplitter_TitleFromFilename(t *testing.T) {
	title, chunks := NewMarkdownSplitter().Split([]byte("Data analyst."), "cvs/jane_doe-smith.md")
	assert.Equal(t, "Jane Doe Smith", title)
	assert.Equal(t, []string{"Data analyst."}, chunks)
}

func TestMarkdownSplitter_MergesSmallSections(t *testing.T) {
	_, chunks := NewMarkdownSplitter().Split([]byte("# T\n\n## A\n\nshort one.\n\n## B\n\nshort two.\n"), "t.md")
	assert.Equal(t, []string{"A\nshort one.\n\nB\nshort two."}, chunks)
}

func TestMarkdownSplitter_Empty(t *testing.T) {
	title, chunks := NewMarkdownSplitter().Split(nil, "empty_cv.md")
	assert.Equal(t, "Empty Cv", title)
	assert.Empty(t, chunks)
}

func TestSplitLong(t *testing.T) {
	para := strings.Repeat("a", 300)

	tests := []struct {
		name  string
		text  string
		runes []int
	}{
		{name: "fits", text: para, runes: []int{300}},
		{name: "paragraph boundary", text: para + "\n\n" + para + "\n\n" + para, runes: []int{602, 300}},
		{name: "hard cut", text: strings.Repeat("x", 1500), runes: []int{700, 700, 100}},
		{name: "multibyte", text: strings.Repeat("é", 800), runes: []int{700, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pieces := splitLong(tt.text, 700)
			got := make([]int, len(pieces))
			for i, p := range pieces {
				got[i] = utf8.RuneCountInString(p)
				assert.True(t, utf8.ValidString(p))
			}
			assert.Equal(t, tt.runes, got)
		})
	}
}

func TestReadMarkdownDir(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	write("jane.md", janeCV)
	write("team/bob.md", "# Bob Stone\n\nBackend developer who maintains payment APIs in Go and Postgres.\n")
	write(".hidden/ignored.md", "# Hidden\n\nShould never be read by the loader at all.\n")
	write("notes.txt", "not markdown")
	write("empty.md", "# Empty\n")

	inputs, err := ReadMarkdownDir(context.Background(), root, NewMarkdownSplitter())
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, "jane.md", inputs[0].SourceURL)
	assert.Equal(t, "Jane Doe", inputs[0].Title)
	assert.Len(t, inputs[0].Chunks, 3)
	assert.Nil(t, inputs[0].Metadata)

	assert.Equal(t, "team/bob.md", inputs[1].SourceURL)
	assert.Equal(t, "Bob Stone", inputs[1].Title)
	assert.Equal(t, map[string]string{"folder": "team"}, inputs[1].Metadata)
}

func TestReadMarkdownDir_Cancelled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("# A\n\nText."), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadMarkdownDir(ctx, root, NewMarkdownSplitter())
	assert.ErrorIs(t, err, context.Canceled)
}
