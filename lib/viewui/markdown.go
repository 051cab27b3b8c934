// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// IsMarkdown reports whether a file should offer a rendered preview.
func IsMarkdown(filename, language string) bool {
	if strings.EqualFold(language, "markdown") {
		return true
	}
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// RenderMarkdown renders source as styled terminal lines wrapped to
// width. Fenced code is highlighted with scheme.
func RenderMarkdown(source string, theme Theme, scheme string, width int) []string {
	if source == "" {
		return nil
	}
	data := []byte(source)
	document := getMarkdownParser().Parser().Parse(text.NewReader(data))

	lipRenderer := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	renderer := &markdownRenderer{
		source:      data,
		theme:       theme,
		scheme:      scheme,
		width:       max(width, 10),
		lipRenderer: lipRenderer,
	}
	ast.Walk(document, renderer.walk)
	return strings.Split(strings.TrimRight(renderer.output.String(), "\n"), "\n")
}

// markdownRenderer accumulates inline content per block and wraps it
// when the block closes.
type markdownRenderer struct {
	source []byte
	theme  Theme
	scheme string
	width  int

	output strings.Builder
	inline strings.Builder

	// prefixes holds one entry per open blockquote or list item.
	prefixes    []prefixLevel
	prefix      string
	prefixWidth int
	bullet      string

	bold, italic, strike int
	lists                []listState

	lipRenderer *lipgloss.Renderer
}

type prefixLevel struct {
	text  string
	width int
}

type listState struct {
	ordered bool
	counter int
}

func (r *markdownRenderer) style() lipgloss.Style { return r.lipRenderer.NewStyle() }

func (r *markdownRenderer) pushPrefix(text string, width int) {
	r.prefixes = append(r.prefixes, prefixLevel{text, width})
	r.prefix += text
	r.prefixWidth += width
}

func (r *markdownRenderer) popPrefix() {
	top := r.prefixes[len(r.prefixes)-1]
	r.prefixes = r.prefixes[:len(r.prefixes)-1]
	r.prefix = r.prefix[:len(r.prefix)-len(top.text)]
	r.prefixWidth -= top.width
}

func (r *markdownRenderer) blankLine() {
	current := r.output.String()
	if current == "" || strings.HasSuffix(current, "\n\n") {
		return
	}
	if strings.HasSuffix(current, "\n") {
		r.output.WriteString("\n")
		return
	}
	r.output.WriteString("\n\n")
}

// flush wraps the inline buffer and writes it with the current prefix.
// The first line takes the pending bullet instead, if one is set.
func (r *markdownRenderer) flush(style lipgloss.Style) {
	content := r.inline.String()
	r.inline.Reset()
	if content == "" {
		return
	}
	wrapped := ansi.Wrap(content, max(r.width-r.prefixWidth, 10), " ,.;-+|")
	for index, line := range strings.Split(wrapped, "\n") {
		prefix := r.prefix
		if index == 0 && r.bullet != "" {
			prefix, r.bullet = r.bullet, ""
		}
		r.output.WriteString(prefix + style.Render(line) + "\n")
	}
}

func (r *markdownRenderer) styled(content string) string {
	style := r.style().Foreground(r.theme.Foreground)
	if r.bold > 0 {
		style = style.Bold(true)
	}
	if r.italic > 0 {
		style = style.Italic(true)
	}
	if r.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

func (r *markdownRenderer) lines(node ast.Node) string {
	var builder strings.Builder
	segments := node.Lines()
	for i := range segments.Len() {
		segment := segments.At(i)
		builder.Write(segment.Value(r.source))
	}
	return strings.TrimRight(builder.String(), "\n")
}

func (r *markdownRenderer) code(code, language string) {
	var lines []string
	if language != "" {
		lines = Highlight("", language, strings.Split(code, "\n"), r.scheme)
	} else {
		faint := r.style().Foreground(r.theme.FaintText)
		for _, line := range strings.Split(code, "\n") {
			lines = append(lines, faint.Render(line))
		}
	}
	r.blankLine()
	for _, line := range lines {
		r.output.WriteString(r.prefix + "  " + line + "\n")
	}
	r.blankLine()
}

func (r *markdownRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		if entering {
			if _, tight := node.(*ast.TextBlock); !tight {
				r.blankLine()
			}
		} else {
			r.flush(r.style())
		}

	case *ast.Heading:
		if entering {
			r.blankLine()
			r.inline.WriteString(strings.Repeat("#", node.Level) + " ")
		} else {
			r.flush(r.style().Foreground(r.theme.TabActive).Bold(true))
		}

	case *ast.FencedCodeBlock:
		if entering {
			r.code(r.lines(node), string(node.Language(r.source)))
		}
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		if entering {
			r.code(r.lines(node), "")
		}
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if entering {
			r.blankLine()
			r.pushPrefix(r.style().Foreground(r.theme.FaintText).Render("│ "), 2)
		} else {
			r.popPrefix()
		}

	case *ast.List:
		if entering {
			r.blankLine()
			r.lists = append(r.lists, listState{ordered: node.IsOrdered(), counter: node.Start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
		}

	case *ast.ListItem:
		list := &r.lists[len(r.lists)-1]
		if entering {
			marker := "• "
			if list.ordered {
				marker = fmt.Sprintf("%d. ", list.counter)
				list.counter++
			}
			width := ansi.StringWidth(marker)
			r.bullet = r.prefix + marker
			r.pushPrefix(strings.Repeat(" ", width), width)
		} else {
			r.popPrefix()
		}

	case *ast.ThematicBreak:
		if entering {
			r.blankLine()
			rule := strings.Repeat("─", max(r.width-r.prefixWidth, 1))
			r.output.WriteString(r.prefix + r.style().Foreground(r.theme.FaintText).Render(rule) + "\n")
		}

	case *ast.Text:
		if entering {
			r.inline.WriteString(r.styled(string(node.Value(r.source))))
			if node.SoftLineBreak() {
				r.inline.WriteString(" ")
			}
			if node.HardLineBreak() {
				r.inline.WriteString("\n")
			}
		}

	case *ast.String:
		if entering {
			r.inline.WriteString(r.styled(string(node.Value)))
		}

	case *ast.Emphasis:
		delta := -1
		if entering {
			delta = 1
		}
		if node.Level >= 2 {
			r.bold += delta
		} else {
			r.italic += delta
		}

	case *extast.Strikethrough:
		if entering {
			r.strike++
		} else {
			r.strike--
		}

	case *ast.CodeSpan:
		if entering {
			var span strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if leaf, ok := child.(*ast.Text); ok {
					span.Write(leaf.Value(r.source))
				}
			}
			r.inline.WriteString(r.style().Foreground(r.theme.Warning).Render(span.String()))
		}
		return ast.WalkSkipChildren, nil

	case *ast.Link:
		if !entering {
			r.inline.WriteString(r.style().Foreground(r.theme.FaintText).Render(" (" + string(node.Destination) + ")"))
		}

	case *ast.AutoLink:
		if entering {
			r.inline.WriteString(r.style().Foreground(r.theme.Info).Underline(true).Render(string(node.URL(r.source))))
		}
		return ast.WalkSkipChildren, nil

	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}
