// Package dom abstracts the host page the engine writes into. The live
// implementation drives Chrome over the DevTools protocol; memdoc works on a
// parsed HTML snapshot.
package dom

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a selector matches nothing.
var ErrNotFound = errors.New("element not found")

// Document is a host page.
type Document interface {
	URL(ctx context.Context) (string, error)
	// Query returns the first element matching selector, or ErrNotFound.
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Element is a node of a Document.
type Element interface {
	Info(ctx context.Context) (Info, error)
	// Unlock removes disabled/readonly attributes and classes.
	Unlock(ctx context.Context) error
	// SetValue assigns the value through the native setter and fires input,
	// change and blur, bubbling, in that order.
	SetValue(ctx context.Context, value string) error
	// SelectOption selects the option with the given value and fires change
	// then input. It returns ErrNotFound when no option carries value.
	SelectOption(ctx context.Context, value string) error
	SetText(ctx context.Context, text string) error
	Click(ctx context.Context) error
	Closest(ctx context.Context, selector string) (Element, error)
	Find(ctx context.Context, selector string) (Element, error)
}

// Option is one entry of a select element.
type Option struct {
	Value string
	Text  string
}

// Info is a snapshot of an element's state.
type Info struct {
	Tag         string // lowercase
	Type        string // lowercase type attribute of inputs
	Name        string
	ID          string
	Placeholder string
	Value       string
	Text        string
	Classes     []string
	Disabled    bool
	ReadOnly    bool
	Visible     bool
	Options     []Option
}

// Locked reports whether the element rejects user input.
func (i Info) Locked() bool {
	return i.Disabled || i.ReadOnly || i.HasClass("disabled") || i.HasClass("readonly")
}

func (i Info) HasClass(c string) bool {
	return slices.Contains(i.Classes, c)
}

// IsSelect reports whether the element is a select.
func (i Info) IsSelect() bool { return i.Tag == "select" }

// IsTextual reports whether the element accepts typed text.
func (i Info) IsTextual() bool {
	return i.Tag == "textarea" || (i.Tag == "input" && i.Type != "checkbox" && i.Type != "radio" && i.Type != "file")
}

// TypeaheadSelector is implemented by elements bound to a typeahead widget
// that exposes a selection API.
type TypeaheadSelector interface {
	SelectTypeahead(ctx context.Context, value string) (bool, error)
}

// KeyTyper is implemented by elements that can receive simulated keystrokes.
type KeyTyper interface {
	TypeKeys(ctx context.Context, text string) error
}

// DatePicker is implemented by elements bound to a datepicker widget.
type DatePicker interface {
	SetDate(ctx context.Context, t time.Time) (bool, error)
}

// Releaser is implemented by documents that leave bookkeeping behind on the
// page. Release is called once a request is done with the document.
type Releaser interface {
	Release(ctx context.Context) error
}

// First returns the first element matched by any of selectors, in order,
// together with the selector that matched.
func First(ctx context.Context, doc Document, selectors []string) (Element, string, error) {
	for _, sel := range selectors {
		el, err := doc.Query(ctx, sel)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return el, sel, nil
	}
	return nil, "", ErrNotFound
}

// Exists reports whether selector matches anything.
func Exists(ctx context.Context, doc Document, selector string) (bool, error) {
	_, err := doc.Query(ctx, selector)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Visible reports whether selector matches a visible element.
func Visible(ctx context.Context, doc Document, selector string) (bool, error) {
	el, err := doc.Query(ctx, selector)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	info, err := el.Info(ctx)
	if err != nil {
		return false, err
	}
	return info.Visible, nil
}
