// Package htmlformat pretty-prints HTML documents and fragments.
package htmlformat

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const indent = "  "

// maxInline is the longest text an element may hold and still be printed
// on one line.
const maxInline = 80

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// rawElements are rendered verbatim so their content keeps its whitespace.
var rawElements = map[string]bool{
	"pre": true, "textarea": true, "script": true, "style": true,
}

// Format renders input with one node per line and two-space indentation.
// Whitespace between tags is dropped and runs of whitespace inside text are
// collapsed. Input that starts with a doctype or <html> is parsed as a
// full document; anything else as a body fragment.
func Format(input string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return "", nil
	}

	var nodes []*html.Node
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
		doc, err := html.Parse(strings.NewReader(input))
		if err != nil {
			return "", err
		}
		nodes = []*html.Node{doc}
	} else {
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		var err error
		nodes, err = html.ParseFragment(strings.NewReader(input), body)
		if err != nil {
			return "", err
		}
	}

	var b strings.Builder
	for _, n := range nodes {
		if err := render(&b, n, 0); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func render(b *strings.Builder, n *html.Node, depth int) error {
	pad := strings.Repeat(indent, depth)
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := render(b, c, depth); err != nil {
				return err
			}
		}
	case html.DoctypeNode:
		b.WriteString(pad + "<!DOCTYPE " + n.Data + ">\n")
	case html.CommentNode:
		b.WriteString(pad + "<!--" + n.Data + "-->\n")
	case html.TextNode:
		if text := collapse(n.Data); text != "" {
			b.WriteString(pad + html.EscapeString(text) + "\n")
		}
	case html.ElementNode:
		return renderElement(b, n, pad, depth)
	}
	return nil
}

func renderElement(b *strings.Builder, n *html.Node, pad string, depth int) error {
	if rawElements[n.Data] {
		var raw bytes.Buffer
		if err := html.Render(&raw, n); err != nil {
			return err
		}
		b.WriteString(pad + raw.String() + "\n")
		return nil
	}

	open := openTag(n)
	if voidElements[n.Data] {
		b.WriteString(pad + open + "\n")
		return nil
	}
	closing := "</" + n.Data + ">"

	if n.FirstChild == nil {
		b.WriteString(pad + open + closing + "\n")
		return nil
	}
	if c := n.FirstChild; c.NextSibling == nil && c.Type == html.TextNode {
		if text := collapse(c.Data); len(text) <= maxInline {
			b.WriteString(pad + open + html.EscapeString(text) + closing + "\n")
			return nil
		}
	}

	b.WriteString(pad + open + "\n")
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := render(b, c, depth+1); err != nil {
			return err
		}
	}
	b.WriteString(pad + closing + "\n")
	return nil
}

func openTag(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + key
		}
		b.WriteString(" " + key + `="` + html.EscapeString(a.Val) + `"`)
	}
	b.WriteString(">")
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
