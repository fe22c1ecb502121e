package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/hostalscan/guestfill/internal/dom"
)

type element struct {
	page *Page
	ref  string
}

var (
	_ dom.Element           = (*element)(nil)
	_ dom.TypeaheadSelector = (*element)(nil)
	_ dom.KeyTyper          = (*element)(nil)
	_ dom.DatePicker        = (*element)(nil)
)

// infoJSON mirrors the object built by jsInfo.
type infoJSON struct {
	Tag         string       `json:"tag"`
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	ID          string       `json:"id"`
	Placeholder string       `json:"placeholder"`
	Value       string       `json:"value"`
	Text        string       `json:"text"`
	Classes     []string     `json:"classes"`
	Disabled    bool         `json:"disabled"`
	ReadOnly    bool         `json:"readOnly"`
	Visible     bool         `json:"visible"`
	Options     []optionJSON `json:"options"`
}

type optionJSON struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

func (e *element) selector() string {
	return fmt.Sprintf(`[%s="%s"]`, refAttr, e.ref)
}

// apply runs fn against the tagged node. fn receives the node first and
// its return value is decoded into out; a missing node surfaces as
// dom.ErrNotFound.
func (e *element) apply(ctx context.Context, fn string, out any, args ...any) error {
	var res struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	all := append([]any{e.selector()}, args...)
	if err := e.page.call(ctx, fmt.Sprintf(jsApply, fn), &res, false, all...); err != nil {
		return err
	}
	if !res.Found {
		return dom.ErrNotFound
	}
	if out == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func (e *element) Info(ctx context.Context) (dom.Info, error) {
	var raw infoJSON
	if err := e.apply(ctx, jsInfo, &raw); err != nil {
		return dom.Info{}, err
	}
	info := dom.Info{
		Tag:         strings.ToLower(raw.Tag),
		Type:        strings.ToLower(raw.Type),
		Name:        raw.Name,
		ID:          raw.ID,
		Placeholder: raw.Placeholder,
		Value:       raw.Value,
		Text:        strings.TrimSpace(raw.Text),
		Classes:     raw.Classes,
		Disabled:    raw.Disabled,
		ReadOnly:    raw.ReadOnly,
		Visible:     raw.Visible,
	}
	for _, o := range raw.Options {
		info.Options = append(info.Options, dom.Option{Value: o.Value, Text: strings.TrimSpace(o.Text)})
	}
	return info, nil
}

func (e *element) Unlock(ctx context.Context) error {
	return e.apply(ctx, jsUnlock, nil)
}

func (e *element) SetValue(ctx context.Context, value string) error {
	return e.apply(ctx, jsSetValue, nil, value)
}

func (e *element) SelectOption(ctx context.Context, value string) error {
	var ok bool
	if err := e.apply(ctx, jsSelectOption, &ok, value); err != nil {
		return err
	}
	if !ok {
		return dom.ErrNotFound
	}
	return nil
}

func (e *element) SetText(ctx context.Context, text string) error {
	return e.apply(ctx, jsSetText, nil, text)
}

func (e *element) Click(ctx context.Context) error {
	return e.apply(ctx, jsClick, nil)
}

func (e *element) Closest(ctx context.Context, selector string) (dom.Element, error) {
	return e.relative(ctx, jsClosest, selector)
}

func (e *element) Find(ctx context.Context, selector string) (dom.Element, error) {
	return e.relative(ctx, jsFind, selector)
}

func (e *element) relative(ctx context.Context, fn, selector string) (dom.Element, error) {
	var ref string
	if err := e.apply(ctx, fn, &ref, selector, refAttr, newRef()); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, dom.ErrNotFound
	}
	return &element{page: e.page, ref: ref}, nil
}

// SelectTypeahead drives a jQuery typeahead bound to the input, if any.
func (e *element) SelectTypeahead(ctx context.Context, value string) (bool, error) {
	var ok bool
	err := e.apply(ctx, jsTypeaheadSelect, &ok, value)
	return ok, err
}

// TypeKeys clears the input and types text through real key events so the
// page's typeahead sees each keystroke.
func (e *element) TypeKeys(ctx context.Context, text string) error {
	if err := e.apply(ctx, jsClearAndFocus, nil); err != nil {
		return err
	}
	return e.page.run(ctx, chromedp.SendKeys(e.selector(), text, chromedp.ByQuery))
}

// SetDate updates a jQuery UI or bootstrap datepicker bound to the input.
func (e *element) SetDate(ctx context.Context, t time.Time) (bool, error) {
	var ok bool
	err := e.apply(ctx, jsSetDate, &ok, t.Year(), int(t.Month()), t.Day())
	return ok, err
}
