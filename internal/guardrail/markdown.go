package guardrail

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// parsed is the plain-text view of a markdown answer.
type parsed struct {
	// body is the plain text before the sources section, code and raw HTML removed.
	body string
	// all is the plain text of the whole answer.
	all           string
	sourcesBlocks int
}

var markdown = goldmark.New()

func parseAnswer(answer string) parsed {
	src := []byte(answer)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var p parsed
	var all, body bytes.Buffer
	inSources := false

	for block := doc.FirstChild(); block != nil; block = block.NextSibling() {
		blockText := plainText(block, src)
		if isSourcesHeader(blockText) {
			p.sourcesBlocks++
			inSources = true
		}
		if blockText == "" {
			continue
		}
		all.WriteString(blockText)
		all.WriteByte('\n')
		if !inSources {
			body.WriteString(blockText)
			body.WriteByte('\n')
		}
	}

	p.all = strings.TrimSpace(all.String())
	p.body = strings.TrimSpace(body.String())
	return p
}

func isSourcesHeader(blockText string) bool {
	lower := strings.ToLower(strings.TrimSpace(blockText))
	return strings.HasPrefix(lower, "sources consulted") || strings.HasPrefix(lower, "sources:")
}

// plainText concatenates the text under n, skipping code and raw HTML.
func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.CodeSpan, *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.AutoLink:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(v.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			if !v.IsCode() {
				b.Write(v.Value)
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
