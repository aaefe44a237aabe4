package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cv-screener/internal/contextutil"
)

const (
	minSectionRunes = 50
	maxSectionRunes = 700 // keeps a chunk inside a 512-token embedding window
)

// MarkdownSplitter turns a markdown CV into one chunk per section. Each chunk
// starts with its heading path so section names are searchable.
type MarkdownSplitter struct {
	md       goldmark.Markdown
	minRunes int
	maxRunes int
}

// NewMarkdownSplitter creates a splitter with GFM tables enabled.
func NewMarkdownSplitter() *MarkdownSplitter {
	return &MarkdownSplitter{
		md:       goldmark.New(goldmark.WithExtensions(extension.Table)),
		minRunes: minSectionRunes,
		maxRunes: maxSectionRunes,
	}
}

type section struct {
	path string
	body strings.Builder
}

func (s *section) text() string {
	body := strings.TrimSpace(s.body.String())
	if body == "" {
		return ""
	}
	if s.path == "" {
		return body
	}
	return s.path + "\n" + body
}

// Split returns the CV title and its chunks. The title is the first level-1
// heading, or is derived from filename.
func (m *MarkdownSplitter) Split(content []byte, filename string) (string, []string) {
	doc := m.md.Parser().Parse(text.NewReader(content))

	var (
		title    string
		stack    []string
		levels   []int
		sections []*section
		current  = &section{}
	)
	sections = append(sections, current)

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			writeBlock(&current.body, n, content)
			continue
		}
		heading := inlineText(h, content)
		if h.Level == 1 && title == "" {
			title = heading
			continue
		}
		for len(levels) > 0 && levels[len(levels)-1] >= h.Level {
			stack, levels = stack[:len(stack)-1], levels[:len(levels)-1]
		}
		stack, levels = append(stack, heading), append(levels, h.Level)
		current = &section{path: strings.Join(stack, " > ")}
		sections = append(sections, current)
	}

	if title == "" {
		title = titleFromFilename(filename)
	}

	var raw []string
	for _, s := range sections {
		if t := s.text(); t != "" {
			raw = append(raw, t)
		}
	}
	return title, m.fit(raw)
}

// fit merges undersized chunks into their successor and splits oversized ones.
func (m *MarkdownSplitter) fit(chunks []string) []string {
	var out []string
	for i := 0; i < len(chunks); i++ {
		c := chunks[i]
		for utf8.RuneCountInString(c) < m.minRunes && i+1 < len(chunks) {
			merged := c + "\n\n" + chunks[i+1]
			if utf8.RuneCountInString(merged) > m.maxRunes {
				break
			}
			c = merged
			i++
		}
		out = append(out, splitLong(c, m.maxRunes)...)
	}
	return out
}

// splitLong cuts text into pieces of at most max runes, preferring paragraph,
// line and sentence boundaries.
func splitLong(s string, max int) []string {
	var out []string
	for utf8.RuneCountInString(s) > max {
		window := s[:byteOffset(s, max)]
		cut := len(window)
		for _, sep := range []string{"\n\n", "\n", ". "} {
			if i := strings.LastIndex(window, sep); i > 0 {
				cut = i + len(sep)
				break
			}
		}
		if piece := strings.TrimSpace(s[:cut]); piece != "" {
			out = append(out, piece)
		}
		s = s[cut:]
	}
	if piece := strings.TrimSpace(s); piece != "" {
		out = append(out, piece)
	}
	return out
}

func byteOffset(s string, runes int) int {
	i := 0
	for pos := range s {
		if i == runes {
			return pos
		}
		i++
	}
	return len(s)
}

func writeBlock(b *strings.Builder, n ast.Node, src []byte) {
	switch n.Kind() {
	case extast.KindTableHeader, extast.KindTableRow:
		var cells []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, inlineText(c, src))
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
		return
	}

	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		b.WriteString(inlineText(n, src))
		b.WriteByte('\n')
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
	case *ast.ThematicBreak, *ast.HTMLBlock:
	case *ast.ListItem:
		b.WriteString("- ")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			writeBlock(b, c, src)
		}
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			writeBlock(b, c, src)
		}
	}
	if n.Kind() == ast.KindParagraph || n.Kind() == ast.KindList {
		b.WriteByte('\n')
	}
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

var titleCaser = cases.Title(language.Und)

// titleFromFilename turns "cvs/jane_doe-smith.md" into "Jane Doe Smith".
func titleFromFilename(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

// ReadMarkdownDir splits every .md file under root into a DocumentInput.
// Hidden directories are skipped. SourceURL is the slash-separated path
// relative to root, and the "folder" metadata key holds its directory.
func ReadMarkdownDir(ctx context.Context, root string, splitter *MarkdownSplitter) ([]DocumentInput, error) {
	logger := contextutil.LoggerFromContext(ctx)

	var inputs []DocumentInput
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		title, chunks := splitter.Split(content, rel)
		if len(chunks) == 0 {
			logger.WarnContext(ctx, "skipping empty CV", "path", rel)
			return nil
		}

		in := DocumentInput{SourceURL: rel, Title: title, Chunks: chunks}
		if folder := filepath.ToSlash(filepath.Dir(rel)); folder != "." {
			in.Metadata = map[string]string{"folder": folder}
		}
		inputs = append(inputs, in)
		return nil
	})
	if err != nil {
		return inputs, err
	}
	return inputs, nil
}
