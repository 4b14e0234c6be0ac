package parser

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// CSSPrefix marks a selector as CSS. Selectors without it are XPath.
const CSSPrefix = "css:"

// Document is a parsed page that can be queried with selectors.
//
// Query methods report "no match" through their bool result (or an empty
// slice), never through the error. An error means the selector itself could
// not be evaluated.
type Document interface {
	// URL is the address the document was fetched from.
	URL() string

	// QueryText returns the text of the first node matched by selector.
	QueryText(selector string) (string, bool, error)

	// QueryTexts returns the text of every node matched by selector, in
	// document order.
	QueryTexts(selector string) ([]string, error)

	// QueryAttribute returns attr of the first matched element carrying it.
	// An empty attr behaves like QueryText.
	QueryAttribute(selector, attr string) (string, bool, error)

	// ResolveURL resolves ref against the document's base URL.
	ResolveURL(ref string) (string, error)
}

// SelectorError reports a selector that failed to compile or evaluate.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// HTMLDocument is a Document backed by a single x/net/html parse tree,
// queried through htmlquery (XPath) or goquery (CSS).
type HTMLDocument struct {
	pageURL string
	base    *url.URL
	root    *html.Node
	gq      *goquery.Document
}

// Parse reads HTML from r. pageURL must be absolute; it is used as the
// base for relative links unless the page declares a <base href>.
func Parse(r io.Reader, pageURL string) (*HTMLDocument, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("page URL %q is not absolute", pageURL)
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc := &HTMLDocument{
		pageURL: pageURL,
		base:    base,
		root:    root,
		gq:      goquery.NewDocumentFromNode(root),
	}

	if n := htmlquery.FindOne(root, "//base[@href]"); n != nil {
		if b, err := base.Parse(htmlquery.SelectAttr(n, "href")); err == nil {
			doc.base = b
		}
	}

	return doc, nil
}

// ParseString is Parse over a string.
func ParseString(content, pageURL string) (*HTMLDocument, error) {
	return Parse(strings.NewReader(content), pageURL)
}

func (d *HTMLDocument) URL() string {
	return d.pageURL
}

func (d *HTMLDocument) QueryText(selector string) (string, bool, error) {
	nodes, err := d.nodes(selector)
	if err != nil {
		return "", false, err
	}
	if len(nodes) == 0 {
		return "", false, nil
	}
	return htmlquery.InnerText(nodes[0]), true, nil
}

func (d *HTMLDocument) QueryTexts(selector string) ([]string, error) {
	nodes, err := d.nodes(selector)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		texts = append(texts, htmlquery.InnerText(n))
	}
	return texts, nil
}

func (d *HTMLDocument) QueryAttribute(selector, attr string) (string, bool, error) {
	if attr == "" {
		return d.QueryText(selector)
	}

	nodes, err := d.nodes(selector)
	if err != nil {
		return "", false, err
	}
	for _, n := range nodes {
		if v, ok := attrValue(n, attr); ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (d *HTMLDocument) ResolveURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}
	u, err := d.base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q: %w", ref, err)
	}
	u.Fragment = ""
	return u.String(), nil
}

// nodes evaluates selector against the tree.
func (d *HTMLDocument) nodes(selector string) (nodes []*html.Node, err error) {
	if expr, ok := strings.CutPrefix(selector, CSSPrefix); ok {
		sel, err := cascadia.Compile(strings.TrimSpace(expr))
		if err != nil {
			return nil, &SelectorError{Selector: selector, Err: err}
		}
		return d.gq.FindMatcher(sel).Nodes, nil
	}

	expr, err := xpath.Compile(selector)
	if err != nil {
		return nil, &SelectorError{Selector: selector, Err: err}
	}

	// xpath reports some evaluation errors (bad function arguments) by panicking
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = &SelectorError{Selector: selector, Err: fmt.Errorf("evaluation failed: %v", r)}
		}
	}()

	return htmlquery.QuerySelectorAll(d.root, expr), nil
}

// ValidateSelector reports whether selector compiles in its engine.
func ValidateSelector(selector string) error {
	if expr, ok := strings.CutPrefix(selector, CSSPrefix); ok {
		if _, err := cascadia.Compile(strings.TrimSpace(expr)); err != nil {
			return &SelectorError{Selector: selector, Err: err}
		}
		return nil
	}
	if _, err := xpath.Compile(selector); err != nil {
		return &SelectorError{Selector: selector, Err: err}
	}
	return nil
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
