package filler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/textnorm"
	"github.com/hostalscan/guestfill/internal/wait"
)

const (
	guestNameSelector = `input[name="guest_first_name"]`
	saveBarSelector   = `#panelSave`
	buttonSelector    = `button, a.btn, .btn, a[role="button"]`
)

var editSelectors = []string{
	`[data-hook="guest-edit-button"]`,
	`.edit-guest-details`,
	`.btn-edit-guest`,
	`[data-action="edit"]`,
	`.guest-edit-btn`,
	`button.edit-button`,
	`a.edit-details`,
	`.edit_mode_toggle`,
	`[onclick*="editGuest"]`,
	`[onclick*="edit_guest"]`,
}

// EditMode switches the guest form out of its read-only view.
type EditMode struct {
	timing Timing
	clock  wait.Clock
	log    *zap.Logger
}

func NewEditMode(opts Options) *EditMode {
	opts = opts.withDefaults()
	return &EditMode{timing: opts.Timing, clock: opts.Clock, log: opts.Logger}
}

// Ensure clicks the edit control when the guest name input is locked, then
// waits for the form to unlock. It reports whether it clicked anything. A
// page without an edit control is left alone.
func (e *EditMode) Ensure(ctx context.Context, doc dom.Document) (bool, error) {
	editable, err := e.nameEditable(ctx, doc)
	if err != nil {
		return false, err
	}
	if editable {
		return false, nil
	}

	btn, err := e.findEditControl(ctx, doc)
	if errors.Is(err, dom.ErrNotFound) {
		e.log.Debug("no edit control found")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := btn.Click(ctx); err != nil {
		return false, err
	}
	e.log.Debug("edit control clicked")
	return true, e.clock.Sleep(ctx, e.timing.EditSettle)
}

// IsEditing reports whether the save bar is showing, which the page only
// does in edit mode.
func (e *EditMode) IsEditing(ctx context.Context, doc dom.Document) (bool, error) {
	return dom.Visible(ctx, doc, saveBarSelector)
}

func (e *EditMode) nameEditable(ctx context.Context, doc dom.Document) (bool, error) {
	el, err := doc.Query(ctx, guestNameSelector)
	if errors.Is(err, dom.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	info, err := el.Info(ctx)
	if err != nil {
		return false, err
	}
	return !info.Disabled && !info.ReadOnly, nil
}

func (e *EditMode) findEditControl(ctx context.Context, doc dom.Document) (dom.Element, error) {
	btn, _, err := dom.First(ctx, doc, editSelectors)
	if !errors.Is(err, dom.ErrNotFound) {
		return btn, err
	}

	buttons, err := doc.QueryAll(ctx, buttonSelector)
	if err != nil {
		return nil, err
	}
	for _, b := range buttons {
		info, err := b.Info(ctx)
		if err != nil {
			return nil, err
		}
		if isEditLabel(info.Text) {
			return b, nil
		}
	}
	return nil, dom.ErrNotFound
}

func isEditLabel(text string) bool {
	t := textnorm.Normalize(text)
	return t == "edit" || t == "editar" ||
		strings.Contains(t, "edit details") || strings.Contains(t, "editar detalles")
}
