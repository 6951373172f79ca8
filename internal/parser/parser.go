// Package parser extracts proposal content from Markdown documents.
//
// Proposals are authored as plain Markdown files: the first heading is the
// proposal title and everything after it is the description, kept as raw
// Markdown.
package parser

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Document is the proposal content extracted from a Markdown file.
type Document struct {
	Title       string
	Description string
}

// Parse extracts the title and description from Markdown source. The
// document must contain at least one heading.
func Parse(src []byte) (Document, error) {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	var heading *ast.Heading
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			heading = h
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("walk proposal document: %w", err)
	}
	if heading == nil {
		return Document{}, fmt.Errorf("proposal document has no heading")
	}

	title := strings.TrimSpace(nodeText(heading, src))
	if title == "" {
		return Document{}, fmt.Errorf("proposal heading is empty")
	}

	// The description is the raw Markdown after the title heading's line.
	description := ""
	if lines := heading.Lines(); lines.Len() > 0 {
		stop := lines.At(lines.Len() - 1).Stop
		if stop < len(src) {
			description = strings.TrimSpace(string(src[stop:]))
		}
	}

	return Document{Title: title, Description: description}, nil
}

// ParseFile reads and parses a proposal Markdown file.
func ParseFile(path string) (Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read proposal file: %w", err)
	}
	doc, err := Parse(src)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// nodeText flattens the literal text inside a node, dropping inline markup.
func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
