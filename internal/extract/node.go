package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Selector types understood by Node.Find.
const (
	TypeCSS   = "css"
	TypeXPath = "xpath"
)

// Node is a queryable element of a parsed document or a live page.
type Node interface {
	// Find returns the nodes matching expr relative to this node.
	// An empty expr matches the node itself.
	Find(kind, expr string) ([]Node, error)

	// Text returns the node's text content.
	Text() string

	// Attr returns the named attribute.
	Attr(name string) (string, bool)

	// HTML returns the node's outer HTML.
	HTML() string
}

// staticNode wraps a single element of a goquery document.
type staticNode struct {
	sel *goquery.Selection
}

// NewDocument parses HTML into a Node rooted at the document.
func NewDocument(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromDocument(doc), nil
}

// FromDocument adapts an already parsed goquery document.
func FromDocument(doc *goquery.Document) Node {
	return &staticNode{sel: doc.Selection}
}

// FromSelection adapts the first element of a goquery selection.
func FromSelection(sel *goquery.Selection) Node {
	return &staticNode{sel: sel.First()}
}

func (n *staticNode) Find(kind, expr string) ([]Node, error) {
	if expr == "" {
		return []Node{n}, nil
	}

	switch kind {
	case "", TypeCSS:
		var nodes []Node
		n.sel.Find(expr).Each(func(_ int, s *goquery.Selection) {
			nodes = append(nodes, &staticNode{sel: s})
		})
		return nodes, nil

	case TypeXPath:
		if len(n.sel.Nodes) == 0 {
			return nil, nil
		}
		matches, err := htmlquery.QueryAll(n.sel.Nodes[0], expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
		}
		nodes := make([]Node, 0, len(matches))
		for _, m := range matches {
			nodes = append(nodes, fromHTMLNode(m))
		}
		return nodes, nil

	default:
		return nil, fmt.Errorf("unknown selector type %q", kind)
	}
}

func (n *staticNode) Text() string {
	return n.sel.Text()
}

func (n *staticNode) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n *staticNode) HTML() string {
	out, err := goquery.OuterHtml(n.sel)
	if err != nil {
		return ""
	}
	return out
}

func fromHTMLNode(hn *html.Node) Node {
	return &staticNode{sel: goquery.NewDocumentFromNode(hn).Selection}
}

// collapseSpace trims s and folds internal whitespace runs into one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
