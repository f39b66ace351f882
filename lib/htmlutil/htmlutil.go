package htmlutil

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("paulemploi/htmlutil")

// GetText concatenates the text nodes under `node`.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`[\s\p{Zs}]+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// Normalize collapses every whitespace run (non-breaking spaces included)
// into a single space and trims the result.
func Normalize(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Document is a parsed page along with the URL it was finally served from.
type Document struct {
	Node
	URL *url.URL
}

// Parse parses `body`, relative links are resolved against `base`.
func Parse(body []byte, base *url.URL) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return Document{}, err
	}
	if base == nil {
		base = &url.URL{}
	}
	return Document{
		Node: Node{sel: doc.Selection, base: base},
		URL:  base,
	}, nil
}

// Node is a single element of a Document.
type Node struct {
	sel  *goquery.Selection
	base *url.URL
}

func (n Node) wrap(sel *goquery.Selection) []Node {
	out := make([]Node, sel.Length())
	sel.Each(func(i int, s *goquery.Selection) {
		out[i] = Node{sel: s, base: n.base}
	})
	return out
}

// SelectAll returns the descendants matching `selector` in document order.
func (n Node) SelectAll(selector string) []Node {
	return n.wrap(n.sel.Find(selector))
}

// SelectOne returns the descendant matching `selector`, if there is exactly one.
func (n Node) SelectOne(selector string) ExactlyOne[Node] {
	return One(n.SelectAll(selector))
}

// Is reports whether the node itself matches `selector`.
func (n Node) Is(selector string) bool {
	return n.sel.Is(selector)
}

func (n Node) Tag() string {
	return goquery.NodeName(n.sel)
}

func (n Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n Node) AttrOr(name, fallback string) string {
	return n.sel.AttrOr(name, fallback)
}

func (n Node) ID() string {
	return n.sel.AttrOr("id", "")
}

func (n Node) HasClass(class string) bool {
	return n.sel.HasClass(class)
}

// URLAttr returns the attribute `name` resolved against the document URL.
func (n Node) URLAttr(name string) (string, error) {
	raw, ok := n.sel.Attr(name)
	if !ok {
		return "", fmt.Errorf("<%s> has no %s attribute", n.Tag(), name)
	}
	link, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse %s attribute: %w", name, err)
	}
	return n.base.ResolveReference(link).String(), nil
}

// Text returns the raw text content of the node.
func (n Node) Text() string {
	var out strings.Builder
	for _, node := range n.sel.Nodes {
		out.WriteString(GetText(node))
	}
	return out.String()
}

// CleanText is Text passed through Normalize.
func (n Node) CleanText() string {
	return Normalize(n.Text())
}

// HTML returns the outer markup of the node, used in diagnostics.
func (n Node) HTML() string {
	out, err := goquery.OuterHtml(n.sel)
	if err != nil {
		return fmt.Sprintf("<%s: %s>", n.Tag(), err.Error())
	}
	return out
}

// Prev returns the previous element sibling.
func (n Node) Prev() (Node, bool) {
	prev := n.sel.Prev()
	if prev.Length() == 0 {
		return Node{}, false
	}
	return Node{sel: prev, base: n.base}, true
}

// ExactlyOne is the outcome of a lookup that expects a single match.
type ExactlyOne[T any] struct {
	value T
	count int
}

func One[T any](items []T) ExactlyOne[T] {
	out := ExactlyOne[T]{count: len(items)}
	if len(items) == 1 {
		out.value = items[0]
	}
	return out
}

// Get returns the match and true when there was exactly one.
func (e ExactlyOne[T]) Get() (T, bool) {
	return e.value, e.count == 1
}

func (e ExactlyOne[T]) NotFound() bool {
	return e.count == 0
}

func (e ExactlyOne[T]) Ambiguous() bool {
	return e.count > 1
}

func (e ExactlyOne[T]) Count() int {
	return e.count
}

// CountError is returned by ExactlyOne.Unwrap when the lookup did not
// match exactly once.
type CountError struct {
	What  string
	Count int
}

func (e *CountError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("no %s found", e.What)
	}
	return fmt.Sprintf("expected exactly one %s, found %d", e.What, e.Count)
}

// Unwrap returns the single match or a *CountError naming `what`.
func (e ExactlyOne[T]) Unwrap(what string) (T, error) {
	if e.count != 1 {
		var zero T
		return zero, &CountError{What: what, Count: e.count}
	}
	return e.value, nil
}

type Anchor struct {
	Name string
	Href string
}

// Anchors returns the text and resolved href of every `a` matched by `selector`.
func (n Node) Anchors(ctx context.Context, selector string) []Anchor {
	_, span := tracer.Start(ctx, "Anchors")
	defer span.End()

	anchors := []Anchor{}
	for _, a := range n.SelectAll(selector) {
		href, err := a.URLAttr("href")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}

		name := a.CleanText()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: href,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", href),
		))
	}

	return anchors
}
