package memdoc

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hostalscan/guestfill/internal/dom"
)

type element struct {
	doc *Document
	sel *goquery.Selection
}

var (
	_ dom.Element  = (*element)(nil)
	_ dom.KeyTyper = (*element)(nil)
)

func (e *element) Info(ctx context.Context) (dom.Info, error) {
	if err := ctx.Err(); err != nil {
		return dom.Info{}, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	s := e.sel
	info := dom.Info{
		Tag:         goquery.NodeName(s),
		Name:        s.AttrOr("name", ""),
		ID:          s.AttrOr("id", ""),
		Placeholder: s.AttrOr("placeholder", ""),
		Text:        strings.TrimSpace(s.Text()),
		Classes:     strings.Fields(s.AttrOr("class", "")),
		Visible:     visible(s),
	}
	_, info.Disabled = s.Attr("disabled")
	_, info.ReadOnly = s.Attr("readonly")

	switch info.Tag {
	case "input":
		info.Type = strings.ToLower(s.AttrOr("type", "text"))
		info.Value = s.AttrOr("value", "")
	case "textarea":
		info.Value = s.Text()
	case "select":
		s.Find("option").Each(func(_ int, o *goquery.Selection) {
			info.Options = append(info.Options, dom.Option{Value: optionValue(o), Text: strings.TrimSpace(o.Text())})
		})
		info.Value = selectedValue(s)
	}
	return info, nil
}

func (e *element) Unlock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.RemoveAttr("disabled").RemoveAttr("readonly").RemoveClass("disabled", "readonly")
	return nil
}

func (e *element) SetValue(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	switch goquery.NodeName(e.sel) {
	case "textarea":
		e.sel.SetText(value)
	case "select":
		selectByValue(e.sel, value)
	default:
		e.sel.SetAttr("value", value)
	}
	e.doc.fire(e.sel, "input", "change", "blur")
	return nil
}

func (e *element) SelectOption(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if !selectByValue(e.sel, value) {
		return dom.ErrNotFound
	}
	e.doc.fire(e.sel, "change", "input")
	return nil
}

func (e *element) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.SetText(text)
	return nil
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.doc.fire(e.sel, "click")
	for _, h := range e.doc.hooks {
		if e.sel.Is(h.selector) {
			h.fn(e.doc.doc)
		}
	}
	return nil
}

// TypeKeys replaces the value one character at a time, firing keyboard
// events around each input event.
func (e *element) TypeKeys(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.SetAttr("value", "")
	e.doc.fire(e.sel, "focus")
	var typed strings.Builder
	for _, r := range text {
		typed.WriteRune(r)
		e.sel.SetAttr("value", typed.String())
		e.doc.fire(e.sel, "keydown", "input", "keyup")
	}
	return nil
}

func (e *element) Closest(ctx context.Context, selector string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	s := e.sel.Closest(selector)
	if s.Length() == 0 {
		return nil, dom.ErrNotFound
	}
	return &element{doc: e.doc, sel: s}, nil
}

func (e *element) Find(ctx context.Context, selector string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	s := e.sel.Find(selector).First()
	if s.Length() == 0 {
		return nil, dom.ErrNotFound
	}
	return &element{doc: e.doc, sel: s}, nil
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(o.Text())
}

func selectedValue(s *goquery.Selection) string {
	opts := s.Find("option")
	if sel := opts.Filter("[selected]").First(); sel.Length() > 0 {
		return optionValue(sel)
	}
	if opts.Length() == 0 {
		return ""
	}
	return optionValue(opts.First())
}

func selectByValue(s *goquery.Selection, value string) bool {
	var match *goquery.Selection
	s.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		if optionValue(o) == value {
			match = o
			return false
		}
		return true
	})
	if match == nil {
		return false
	}
	s.Find("option").RemoveAttr("selected")
	match.SetAttr("selected", "selected")
	return true
}

// visible walks up the tree looking for the usual ways a page hides things.
func visible(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "input" && strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return false
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if n.HasClass("hide") || n.HasClass("hidden") {
			return false
		}
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
