package filler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/wait"
)

const (
	openModalSelector    = `.modal.in, .modal.show`
	modalCloseSelector   = `button.close[data-dismiss="modal"]`
	contentCloseSelector = `.modal-content button.close[data-dismiss="modal"]`
	uploadButtonSelector = `button[data-hook="guest-photo-upload"]`
	dropzoneSelector     = `form.dropzone[id^="my-dropzone-photoupload"]`
	dropPreviewSelector  = `.dz-preview`
	firstStepHidden      = `#step_1.hide`
	stepDoneSelector     = `.control-steps.step_2:not(.hide) .btn.blue.done`
	stepSaveSelector     = `.control-steps.step_3:not(.hide) .btn.blue.save-uploader`
	stepOKSelector       = `.control-steps.step_resImportOk:not(.hide) .btn.blue`
)

// Image is a decoded photo ready to hand to the page.
type Image struct {
	Name string
	MIME string
	Data []byte
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// DecodeImage decodes a base64 payload, with or without a data URL prefix.
// The MIME type comes from the prefix and defaults to JPEG.
func DecodeImage(payload string) (Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Image{}, errors.New("empty image payload")
	}

	mime := "image/jpeg"
	data := payload
	if head, body, ok := strings.Cut(payload, ","); ok {
		data = body
		switch {
		case strings.Contains(head, "image/png"):
			mime = "image/png"
		case strings.Contains(head, "image/gif"):
			mime = "image/gif"
		case strings.Contains(head, "image/webp"):
			mime = "image/webp"
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return Image{}, fmt.Errorf("failed to decode image: %w", err)
		}
	}
	if len(raw) == 0 {
		return Image{}, errors.New("empty image payload")
	}
	return Image{Name: "document" + extension(mime, raw), MIME: mime, Data: raw}, nil
}

func extension(mime string, raw []byte) string {
	switch {
	case mime == "image/png" || bytes.HasPrefix(raw, []byte("\x89PNG")):
		return ".png"
	case mime == "image/gif":
		return ".gif"
	case mime == "image/webp":
		return ".webp"
	}
	return ".jpg"
}

// DropSimulator dispatches a synthetic dragenter, dragover, drop sequence
// carrying img onto the element matched by selector.
type DropSimulator interface {
	SimulateFileDrop(ctx context.Context, selector string, img Image) error
}

// WidgetAPI hands img straight to the upload widget bound to the form with
// the given id, from inside the page's own script context.
type WidgetAPI interface {
	AddFileToDropzone(ctx context.Context, formID string, img Image) (bool, error)
}

// Uploader drives the guest photo upload wizard. The page must implement
// DropSimulator, WidgetAPI or both.
type Uploader struct {
	timing Timing
	clock  wait.Clock
	log    *zap.Logger
}

func NewUploader(opts Options) *Uploader {
	opts = opts.withDefaults()
	return &Uploader{timing: opts.Timing, clock: opts.Clock, log: opts.Logger}
}

// Upload runs the whole wizard. It returns false, without an error, when any
// step cannot be completed; errors are reserved for context cancellation.
func (u *Uploader) Upload(ctx context.Context, doc dom.Document, payload string) (bool, error) {
	img, err := DecodeImage(payload)
	if err != nil {
		u.log.Warn("photo not uploaded", zap.Error(err))
		return false, nil
	}

	ok, err := u.upload(ctx, doc, img)
	if err != nil && ctx.Err() == nil {
		u.log.Warn("photo upload failed", zap.Error(err))
		u.closeModal(ctx, doc)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		u.closeModal(ctx, doc)
	}
	return ok, nil
}

func (u *Uploader) upload(ctx context.Context, doc dom.Document, img Image) (bool, error) {
	if err := u.closeOpenModal(ctx, doc); err != nil {
		return false, err
	}

	btn, err := doc.Query(ctx, uploadButtonSelector)
	if errors.Is(err, dom.ErrNotFound) {
		u.log.Debug("no photo upload button")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := btn.Click(ctx); err != nil {
		return false, err
	}

	found, err := wait.Poll(ctx, u.clock, u.timing.DropzonePoll, u.timing.DropzoneAttempts, u.exists(doc, dropzoneSelector))
	if err != nil || !found {
		u.log.Debug("dropzone did not appear")
		return false, err
	}
	form, err := doc.Query(ctx, dropzoneSelector)
	if err != nil {
		return false, err
	}
	info, err := form.Info(ctx)
	if err != nil {
		return false, err
	}

	if err := u.drop(ctx, doc, info.ID, img); err != nil {
		return false, err
	}

	return u.advanceWizard(ctx, doc)
}

// drop tries native drag events first and falls back to the widget API when
// no preview shows up.
func (u *Uploader) drop(ctx context.Context, doc dom.Document, formID string, img Image) error {
	if sim, ok := doc.(DropSimulator); ok {
		if err := sim.SimulateFileDrop(ctx, dropzoneSelector, img); err != nil {
			u.log.Debug("simulated drop failed", zap.Error(err))
		}
		if err := u.clock.Sleep(ctx, u.timing.DropCheck); err != nil {
			return err
		}
		accepted, err := u.dropAccepted(ctx, doc)
		if err != nil {
			return err
		}
		if accepted {
			return nil
		}
	}

	api, ok := doc.(WidgetAPI)
	if !ok {
		return nil
	}
	added, err := api.AddFileToDropzone(ctx, formID, img)
	if err != nil {
		u.log.Debug("dropzone API call failed", zap.Error(err))
		return nil
	}
	u.log.Debug("file handed to dropzone API", zap.Bool("added", added))
	return nil
}

func (u *Uploader) dropAccepted(ctx context.Context, doc dom.Document) (bool, error) {
	if ok, err := dom.Exists(ctx, doc, dropzoneSelector+" "+dropPreviewSelector); ok || err != nil {
		return ok, err
	}
	return dom.Exists(ctx, doc, firstStepHidden)
}

// advanceWizard clicks through the confirm buttons as they appear.
func (u *Uploader) advanceWizard(ctx context.Context, doc dom.Document) (bool, error) {
	anyStep := func(ctx context.Context) bool {
		for _, sel := range []string{stepDoneSelector, stepSaveSelector, stepOKSelector} {
			if ok, _ := dom.Exists(ctx, doc, sel); ok {
				return true
			}
		}
		return false
	}
	ready, err := wait.Poll(ctx, u.clock, u.timing.WizardPoll, u.timing.WizardAttempts, anyStep)
	if err != nil || !ready {
		u.log.Debug("upload wizard did not advance")
		return false, err
	}

	clicked, err := u.clickIfPresent(ctx, doc, stepDoneSelector, u.timing.StepDonePause)
	if err != nil {
		return false, err
	}
	if clicked {
		final := func(ctx context.Context) bool {
			a, _ := dom.Exists(ctx, doc, stepSaveSelector)
			b, _ := dom.Exists(ctx, doc, stepOKSelector)
			return a || b
		}
		if ready, err := wait.Poll(ctx, u.clock, u.timing.WizardPoll, u.timing.WizardAttempts, final); err != nil || !ready {
			return false, err
		}
	}

	if clicked, err := u.clickIfPresent(ctx, doc, stepSaveSelector, u.timing.StepSavePause); err != nil || clicked {
		return clicked, err
	}
	return u.clickIfPresent(ctx, doc, stepOKSelector, u.timing.StepOKPause)
}

func (u *Uploader) clickIfPresent(ctx context.Context, doc dom.Document, selector string, pause time.Duration) (bool, error) {
	el, err := doc.Query(ctx, selector)
	if errors.Is(err, dom.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := el.Click(ctx); err != nil {
		return false, err
	}
	return true, u.clock.Sleep(ctx, pause)
}

func (u *Uploader) closeOpenModal(ctx context.Context, doc dom.Document) error {
	modal, err := doc.Query(ctx, openModalSelector)
	if errors.Is(err, dom.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	closeBtn, err := modal.Find(ctx, modalCloseSelector)
	if errors.Is(err, dom.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := closeBtn.Click(ctx); err != nil {
		return err
	}
	return u.clock.Sleep(ctx, u.timing.ModalClose)
}

// closeModal is best effort cleanup after a failed upload.
func (u *Uploader) closeModal(ctx context.Context, doc dom.Document) {
	if btn, err := doc.Query(ctx, contentCloseSelector); err == nil {
		_ = btn.Click(ctx)
	}
}

func (u *Uploader) exists(doc dom.Document, selector string) func(context.Context) bool {
	return func(ctx context.Context) bool {
		ok, _ := dom.Exists(ctx, doc, selector)
		return ok
	}
}
