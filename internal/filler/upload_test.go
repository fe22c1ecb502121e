package filler

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostalscan/guestfill/internal/dom/memdoc"
	"github.com/hostalscan/guestfill/internal/wait"
)

const uploadPageHTML = `<html><body>
<button data-hook="guest-photo-upload">Upload photo</button>
<div id="uploader"></div>
<div class="control-steps step_2 hide"><button class="btn blue done">Done</button></div>
<div class="control-steps step_3 hide"><button class="btn blue save-uploader" id="save-photo">Save</button></div>
<div class="modal-content"><button class="close" data-dismiss="modal" id="close-uploader">x</button></div>
</body></html>`

// uploadPage is a host page whose upload widget accepts either native drops
// or direct API calls, depending on the flags.
type uploadPage struct {
	*memdoc.Document
	dropWorks bool
	stuck     bool
	drops     int
	apiCalls  int
}

func (p *uploadPage) SimulateFileDrop(ctx context.Context, selector string, img Image) error {
	p.drops++
	if !p.dropWorks {
		return nil
	}
	p.Mutate(func(doc *goquery.Document) {
		doc.Find(selector).AppendHtml(`<div class="dz-preview"></div>`)
		p.showFirstStep(doc)
	})
	return nil
}

func (p *uploadPage) AddFileToDropzone(ctx context.Context, formID string, img Image) (bool, error) {
	p.apiCalls++
	p.Mutate(p.showFirstStep)
	return true, nil
}

func (p *uploadPage) showFirstStep(doc *goquery.Document) {
	if !p.stuck {
		doc.Find(".step_2").RemoveClass("hide")
	}
}

func newUploadPage(t *testing.T, html string, withButton bool) *uploadPage {
	t.Helper()
	doc, err := memdoc.FromString(guestPageURL, html)
	require.NoError(t, err)
	if withButton {
		doc.OnClick(`button[data-hook="guest-photo-upload"]`, func(d *goquery.Document) {
			d.Find("#uploader").AppendHtml(`<form class="dropzone" id="my-dropzone-photoupload-1"></form>`)
		})
	}
	doc.OnClick(".btn.done", func(d *goquery.Document) {
		d.Find(".step_2").AddClass("hide")
		d.Find(".step_3").RemoveClass("hide")
	})
	return &uploadPage{Document: doc, dropWorks: true}
}

func photoPayload() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0fake-jpeg"))
}

func TestUploadNativeDrop(t *testing.T) {
	clock := &wait.RecordingClock{}
	page := newUploadPage(t, uploadPageHTML, true)

	ok, err := NewUploader(Options{Clock: clock}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, page.drops)
	assert.Zero(t, page.apiCalls)
	assert.Contains(t, page.Events(), memdoc.Event{Target: "#save-photo", Type: "click"})
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		500 * time.Millisecond,
	}, clock.Sleeps())
}

func TestUploadFallsBackToWidgetAPI(t *testing.T) {
	page := newUploadPage(t, uploadPageHTML, true)
	page.dropWorks = false

	ok, err := NewUploader(Options{Clock: &wait.RecordingClock{}}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, page.drops)
	assert.Equal(t, 1, page.apiCalls)
}

func TestUploadWithoutButton(t *testing.T) {
	clock := &wait.RecordingClock{}
	page := newUploadPage(t, `<html><body><div class="modal-content"></div></body></html>`, false)

	ok, err := NewUploader(Options{Clock: clock}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, page.drops)
	assert.Empty(t, clock.Sleeps())
}

func TestUploadDropzoneNeverAppears(t *testing.T) {
	clock := &wait.RecordingClock{}
	page := newUploadPage(t, uploadPageHTML, false)

	ok, err := NewUploader(Options{Clock: clock}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, page.drops)
	assert.Len(t, clock.Sleeps(), 19)
	assert.Equal(t, 1900*time.Millisecond, clock.Total())
	assert.Contains(t, page.Events(), memdoc.Event{Target: "#close-uploader", Type: "click"})
}

func TestUploadWizardStuck(t *testing.T) {
	clock := &wait.RecordingClock{}
	page := newUploadPage(t, uploadPageHTML, true)
	page.stuck = true

	ok, err := NewUploader(Options{Clock: clock}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, page.apiCalls, "preview showed up after the drop")
	// drop check, then 39 wizard polls
	assert.Len(t, clock.Sleeps(), 40)
	assert.Contains(t, page.Events(), memdoc.Event{Target: "#close-uploader", Type: "click"})
}

func TestUploadInvalidPayload(t *testing.T) {
	page := newUploadPage(t, uploadPageHTML, true)

	ok, err := NewUploader(Options{Clock: &wait.RecordingClock{}}).Upload(context.Background(), page, "data:image/jpeg;base64,@@@")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page.Events())
}

func TestUploadClosesOpenModalFirst(t *testing.T) {
	clock := &wait.RecordingClock{}
	html := `<html><body>
<div class="modal in" id="notes"><button class="close" data-dismiss="modal" id="close-notes">x</button></div>
` + uploadPageHTML[len("<html><body>"):]
	page := newUploadPage(t, html, true)
	page.OnClick("#close-notes", func(d *goquery.Document) {
		d.Find("#notes").RemoveClass("in")
	})

	ok, err := NewUploader(Options{Clock: clock}).Upload(context.Background(), page, photoPayload())
	require.NoError(t, err)
	assert.True(t, ok)

	events := page.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, memdoc.Event{Target: "#close-notes", Type: "click"}, events[0])
	assert.Equal(t, 500*time.Millisecond, clock.Sleeps()[0])
}

func TestUploadCancelled(t *testing.T) {
	page := newUploadPage(t, uploadPageHTML, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := NewUploader(Options{Clock: &wait.RecordingClock{}}).Upload(ctx, page, photoPayload())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestDecodeImage(t *testing.T) {
	raw := []byte("image-body")
	enc := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		payload string
		mime    string
		file    string
	}{
		{"png data url", "data:image/png;base64," + enc, "image/png", "document.png"},
		{"gif data url", "data:image/gif;base64," + enc, "image/gif", "document.gif"},
		{"webp data url", "data:image/webp;base64," + enc, "image/webp", "document.webp"},
		{"bare base64", base64.StdEncoding.EncodeToString([]byte("jpeg")), "image/jpeg", "document.jpg"},
		{"unpadded", "data:image/jpeg;base64," + base64.RawStdEncoding.EncodeToString([]byte("jpeg")), "image/jpeg", "document.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.mime, img.MIME)
			assert.Equal(t, tt.file, img.Name)
			assert.NotEmpty(t, img.Data)
		})
	}

	for _, bad := range []string{"", "   ", "data:image/png;base64,", "not base64!"} {
		_, err := DecodeImage(bad)
		assert.Error(t, err, bad)
	}
}

func TestImageDataURL(t *testing.T) {
	img, err := DecodeImage(photoPayload())
	require.NoError(t, err)
	assert.Equal(t, photoPayload(), img.DataURL())
}
