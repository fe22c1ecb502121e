// Package memdoc implements dom.Document over a parsed HTML snapshot of the
// host page. Writes mutate the parsed tree and are recorded as events, so a
// fill can be previewed offline and asserted on in tests.
package memdoc

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/hostalscan/guestfill/internal/dom"
)

// Event is a synthetic DOM event fired by a write.
type Event struct {
	Target string // name attribute, #id, or tag
	Type   string
}

// Hook runs when an element matching its selector is clicked. It may mutate
// the tree to mimic the host page's scripts (unlocking fields, opening a
// modal, advancing a wizard).
type Hook func(doc *goquery.Document)

type hook struct {
	selector string
	fn       Hook
}

// Document is an in-memory host page. It is safe for concurrent use.
type Document struct {
	mu     sync.Mutex
	url    string
	doc    *goquery.Document
	events []Event
	hooks  []hook
}

var _ dom.Document = (*Document)(nil)

// Parse builds a Document from HTML served at url.
func Parse(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Document{url: url, doc: doc}, nil
}

// FromString is Parse for an HTML string.
func FromString(url, html string) (*Document, error) {
	return Parse(url, strings.NewReader(html))
}

// Open parses a saved page from disk.
func Open(url, path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()
	return Parse(url, f)
}

// OnClick registers fn to run after a click on any element matching selector.
func (d *Document) OnClick(selector string, fn Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook{selector: selector, fn: fn})
}

// Mutate runs fn against the tree under the document lock.
func (d *Document) Mutate(fn Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

// HTML renders the current tree.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

// Events returns a copy of the events fired so far.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// ResetEvents clears the event log.
func (d *Document) ResetEvents() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

func (d *Document) URL(ctx context.Context) (string, error) {
	return d.url, ctx.Err()
}

func (d *Document) Query(ctx context.Context, selector string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, dom.ErrNotFound
	}
	return &element{doc: d, sel: sel}, nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []dom.Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{doc: d, sel: s})
	})
	return out, nil
}

func (d *Document) fire(sel *goquery.Selection, types ...string) {
	target := goquery.NodeName(sel)
	if name, ok := sel.Attr("name"); ok && name != "" {
		target = name
	} else if id, ok := sel.Attr("id"); ok && id != "" {
		target = "#" + id
	}
	for _, t := range types {
		d.events = append(d.events, Event{Target: target, Type: t})
	}
}
