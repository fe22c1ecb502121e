package filler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/dom"
)

const (
	formGroupSelector    = ".form-group"
	staticValueSelector  = ".form-control-static"
	datepickerClass      = "datepicker"
	jqueryDatepickerMark = "hasDatepicker"
)

func (f *Filler) writeSelect(ctx context.Context, doc dom.Document, el dom.Element, info dom.Info, value string) (string, error) {
	opt, step, ok := MatchOption(info.Options, value, f.provinces)
	if !ok {
		f.log.Warn("no option matches value",
			zap.String("select", info.Name),
			zap.String("value", value),
			zap.Int("options", len(info.Options)))
		return ReasonNoOption, nil
	}
	if err := el.SelectOption(ctx, opt.Value); err != nil {
		return "", err
	}
	f.log.Debug("option selected", zap.String("select", info.Name), zap.String("option", opt.Value), zap.String("step", string(step)))

	if opt.Text != "" {
		f.syncSelectDisplay(ctx, doc, el, info, opt.Text)
	}
	return "", nil
}

// writeNationalitySelect prefers the option whose value is the resolved ISO
// code and falls back to the country name.
func (f *Filler) writeNationalitySelect(ctx context.Context, doc dom.Document, el dom.Element, info dom.Info, value string) (string, error) {
	country, ok := f.countries.Resolve(value)
	if !ok {
		return f.writeSelect(ctx, doc, el, info, value)
	}
	for _, o := range info.Options {
		if strings.EqualFold(o.Value, country.Code) {
			return f.writeSelect(ctx, doc, el, info, o.Value)
		}
	}
	return f.writeSelect(ctx, doc, el, info, country.Name)
}

// syncSelectDisplay mirrors the chosen option into the read-only display the
// page shows next to a select.
func (f *Filler) syncSelectDisplay(ctx context.Context, doc dom.Document, el dom.Element, info dom.Info, text string) {
	name := info.Name
	if name == "" {
		name = info.ID
	}
	if name != "" {
		hook := strings.Replace(name, "guest_", "", 1)
		selectors := []string{
			attrSelector("data-hook", "guest-"+hook+"-text-value"),
			attrSelector("data-hook", name+"-text-value"),
		}
		if display, _, err := dom.First(ctx, doc, selectors); err == nil {
			if err := display.SetText(ctx, text); err != nil {
				f.log.Debug("display sync failed", zap.Error(err))
			}
			return
		}
	}
	f.syncStatic(ctx, el, text)
}

// syncStatic writes text into the .form-control-static sibling inside the
// element's form group, if there is one.
func (f *Filler) syncStatic(ctx context.Context, el dom.Element, text string) {
	group, err := el.Closest(ctx, formGroupSelector)
	if err != nil {
		return
	}
	static, err := group.Find(ctx, staticValueSelector)
	if err != nil {
		return
	}
	if err := static.SetText(ctx, text); err != nil {
		f.log.Debug("static sync failed", zap.Error(err))
	}
}

// writeDate reformats value for the target input. Values that do not parse
// are written as given.
func (f *Filler) writeDate(ctx context.Context, el dom.Element, info dom.Info, value string) error {
	p, ok := ParseDate(value)
	if !ok {
		return el.SetValue(ctx, value)
	}
	if err := el.SetValue(ctx, p.Format(LayoutFor(info))); err != nil {
		return err
	}
	if info.HasClass(datepickerClass) || info.HasClass(jqueryDatepickerMark) {
		f.setDatepicker(ctx, el, p)
	}
	return nil
}

func (f *Filler) setDatepicker(ctx context.Context, el dom.Element, p DateParts) {
	dp, ok := el.(dom.DatePicker)
	if !ok {
		return
	}
	if _, err := dp.SetDate(ctx, p.Time()); err != nil {
		f.log.Debug("datepicker update failed", zap.Error(err))
	}
}

// writeBirthdate fills the visible birthday input, its hidden canonical
// twin and the display element. It counts once however many were found.
func (f *Filler) writeBirthdate(ctx context.Context, doc dom.Document, m FieldMapping, value string) (string, error) {
	p, ok := ParseDate(value)
	if !ok {
		return ReasonInvalidDate, nil
	}
	formatted := p.String()
	wrote := false

	label, _, err := dom.First(ctx, doc, m.Selectors)
	switch {
	case err == nil:
		if err := f.unlockAndSet(ctx, label, formatted); err != nil {
			return "", err
		}
		f.setDatepicker(ctx, label, p)
		wrote = true
	case !errors.Is(err, dom.ErrNotFound):
		return "", err
	}

	hidden, _, err := dom.First(ctx, doc, m.Mirror)
	switch {
	case err == nil:
		if err := hidden.SetValue(ctx, formatted); err != nil {
			return "", err
		}
		wrote = true
	case !errors.Is(err, dom.ErrNotFound):
		return "", err
	}

	if m.Display != "" {
		if display, err := doc.Query(ctx, m.Display); err == nil {
			if err := display.SetText(ctx, formatted); err != nil {
				f.log.Debug("birthday display sync failed", zap.Error(err))
			}
		}
	}

	if !wrote {
		return ReasonNoElement, nil
	}
	return "", nil
}

// writeTypeahead tries the widget's own selection API, falls back to typing,
// then always assigns the value and syncs the static display.
func (f *Filler) writeTypeahead(ctx context.Context, el dom.Element, value string) error {
	selected := false
	if ts, ok := el.(dom.TypeaheadSelector); ok {
		var err error
		selected, err = ts.SelectTypeahead(ctx, value)
		if err != nil {
			f.log.Debug("typeahead selection failed", zap.Error(err))
		}
	}
	if !selected {
		if kt, ok := el.(dom.KeyTyper); ok {
			if err := kt.TypeKeys(ctx, value); err != nil {
				f.log.Debug("typing into typeahead failed", zap.Error(err))
			}
		}
	}
	if err := el.SetValue(ctx, value); err != nil {
		return err
	}
	f.syncStatic(ctx, el, value)
	return nil
}

func (f *Filler) unlockAndSet(ctx context.Context, el dom.Element, value string) error {
	info, err := el.Info(ctx)
	if err != nil {
		return err
	}
	if info.Locked() {
		if err := el.Unlock(ctx); err != nil {
			return err
		}
	}
	return el.SetValue(ctx, value)
}

// attrSelector builds [attr="value"] with value quoted for CSS.
func attrSelector(attr, value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fmt.Sprintf(`[%s="%s"]`, attr, r.Replace(value))
}
