// ABOUTME: Renders markdown message text as plain terminal text by walking the goldmark AST
// ABOUTME: Keeps list markers, code lines and link targets; drops raw HTML and emphasis markup

// Package textfmt turns agent message markdown into text suited for a
// plain terminal.
package textfmt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

type writer struct {
	b    strings.Builder
	last byte
}

func (w *writer) write(s string) {
	if s == "" {
		return
	}
	w.b.WriteString(s)
	w.last = s[len(s)-1]
}

func (w *writer) newline() {
	if w.b.Len() > 0 && w.last != '\n' {
		w.write("\n")
	}
}

// Plain renders markdown src as plain text.
func Plain(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	w := &writer{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Document:
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.ThematicBreak:
			if entering {
				separate(w, n)
				if _, ok := n.(*ast.ThematicBreak); ok {
					w.write("---")
				}
			} else {
				w.newline()
			}
		case *ast.List, *ast.Blockquote:
			if entering {
				separate(w, n)
			}
		case *ast.ListItem:
			if entering {
				w.newline()
				w.write(strings.Repeat("  ", listDepth(n)-1) + itemMarker(node))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				separate(w, n)
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					line := lines.At(i)
					w.write(string(line.Value(source)))
				}
				w.newline()
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				w.write(string(node.Segment.Value(source)))
				if node.SoftLineBreak() || node.HardLineBreak() {
					w.write("\n")
				}
			}
		case *ast.String:
			if entering {
				w.write(string(node.Value))
			}
		case *ast.Link:
			if !entering {
				dest := string(node.Destination)
				if dest != "" && dest != linkText(node, source) {
					w.write(" (" + dest + ")")
				}
			}
		case *ast.AutoLink:
			if entering {
				w.write(string(node.Label(source)))
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(w.b.String())
}

// Preview renders src on a single line truncated to width runes. A width
// <= 0 disables truncation.
func Preview(src string, width int) string {
	line := strings.Join(strings.Fields(Plain(src)), " ")
	if width <= 0 || utf8.RuneCountInString(line) <= width {
		return line
	}
	if width == 1 {
		return "…"
	}
	runes := []rune(line)
	return string(runes[:width-1]) + "…"
}

// separate puts a blank line between top-level blocks.
func separate(w *writer, n ast.Node) {
	if n.Parent() == nil || n.Parent().Kind() != ast.KindDocument {
		return
	}
	if n.PreviousSibling() != nil {
		w.newline()
		w.write("\n")
	}
}

func listDepth(n ast.Node) int {
	depth := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindList {
			depth++
		}
	}
	return max(depth, 1)
}

func itemMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	index := list.Start
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		index++
	}
	return fmt.Sprintf("%d. ", index)
}

func linkText(link *ast.Link, source []byte) string {
	var b strings.Builder
	for c := link.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return b.String()
}
