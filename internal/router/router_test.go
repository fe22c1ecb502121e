package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostalscan/guestfill/internal/browser"
	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/dom/memdoc"
	"github.com/hostalscan/guestfill/internal/filler"
	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/wait"
)

const guestURL = "https://hotels.cloudbeds.com/connect/123#/reservations/r1"

const lockedForm = `<html><body>
<div id="panelSave" style="display:none"><button class="btn save">Save</button></div>
<div class="guest-info-fields-folio">
  <a class="btn" href="#">Edit details</a>
  <input name="guest_first_name" readonly>
  <input name="guest_last_name" readonly>
  <select name="guest_country" disabled>
    <option value="">--</option><option value="ES">Spain</option><option value="FR">France</option>
  </select>
</div>
</body></html>`

func enterEditMode(doc *goquery.Document) {
	doc.Find("#panelSave").RemoveAttr("style")
	doc.Find("input, select").RemoveAttr("readonly").RemoveAttr("disabled")
}

func newTestFiller(t *testing.T, clock wait.Clock) *filler.Filler {
	t.Helper()
	ds, err := refdata.Default()
	require.NoError(t, err)
	rules, ok := guest.NewRules(ds, "ES", []string{"dni", "nie"})
	require.True(t, ok)
	return filler.New(ds, rules, filler.Options{Clock: clock})
}

func newTestRouter(t *testing.T, doc dom.Document, opts Options) (*Router, *wait.RecordingClock) {
	t.Helper()
	clock := &wait.RecordingClock{}
	opts.Clock = clock
	if opts.Hosts == nil {
		opts.Hosts = browser.NewHostMatcher(browser.DefaultHostDomains)
	}
	return New(Static(doc), newTestFiller(t, clock), opts), clock
}

func lockedPage(t *testing.T, url string) *memdoc.Document {
	t.Helper()
	doc, err := memdoc.FromString(url, lockedForm)
	require.NoError(t, err)
	doc.OnClick("a.btn", enterEditMode)
	return doc
}

func fillRequest(t *testing.T, data string) Request {
	t.Helper()
	return Request{Action: ActionFill, Data: json.RawMessage(data)}
}

func TestHandlePing(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})
	assert.Equal(t, PingReply{Success: true, Message: MsgPong}, r.Handle(context.Background(), Request{Action: ActionPing}))
}

func TestHandleUnknownAction(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})
	assert.Equal(t, ErrorReply{Error: MsgUnknownAction}, r.Handle(context.Background(), Request{Action: "reboot"}))
}

func TestHandleCheckEditMode(t *testing.T) {
	doc := lockedPage(t, guestURL)
	r, _ := newTestRouter(t, doc, Options{})
	ctx := context.Background()

	assert.Equal(t, EditModeReply{Success: true, IsEditMode: false}, r.Handle(ctx, Request{Action: ActionCheckEditMode}))
	assert.Empty(t, doc.Events(), "checking has no side effects")

	doc.Mutate(enterEditMode)
	assert.Equal(t, EditModeReply{Success: true, IsEditMode: true}, r.Handle(ctx, Request{Action: ActionCheckEditMode}))
}

func TestHandleFill(t *testing.T) {
	doc := lockedPage(t, guestURL)
	r, clock := newTestRouter(t, doc, Options{})

	reply := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana","lastName":"Ruiz","lastName2":"Gil","country":"ES"}`))

	res, ok := reply.(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.FilledCount)
	assert.False(t, res.PhotoUploaded)
	assert.Empty(t, res.Error)

	assert.Equal(t, []memdoc.Event{{Target: "a", Type: "click"}}, doc.Events()[:1])
	assert.Equal(t, []time.Duration{
		800 * time.Millisecond, // edit settle
		300 * time.Millisecond, // post-edit settle
		500 * time.Millisecond, // country settle
	}, clock.Sleeps())

	html, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `value="Ruiz Gil"`)
}

func TestHandleFillPreconditions(t *testing.T) {
	tests := []struct {
		name string
		url  string
		html string
		opts Options
		want string
	}{
		{
			name: "foreign host",
			url:  "https://evil.example.com/cloudbeds.com",
			html: lockedForm,
			want: MsgWrongHost,
		},
		{
			name: "no guest form",
			url:  guestURL,
			html: `<html><body><div class="dashboard"><input name="search"></div></body></html>`,
			want: MsgFormNotFound,
		},
		{
			name: "never enters edit mode",
			url:  guestURL,
			html: `<html><body><div id="panelSave" style="display:none"></div><input name="guest_first_name" readonly></body></html>`,
			opts: Options{RequireEditMode: true},
			want: MsgNotEditing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := memdoc.FromString(tt.url, tt.html)
			require.NoError(t, err)
			r, _ := newTestRouter(t, doc, tt.opts)

			reply := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana"}`))
			assert.Equal(t, FillResult{Error: tt.want}, reply)

			html, err := doc.HTML()
			require.NoError(t, err)
			assert.NotContains(t, html, `value="Ana"`, "nothing written")
		})
	}
}

func TestHandleFillGuestFieldWithoutContainer(t *testing.T) {
	doc, err := memdoc.FromString(guestURL, `<html><body><input id="guest_first_name" name="guest_first_name"></body></html>`)
	require.NoError(t, err)
	r, _ := newTestRouter(t, doc, Options{})

	res, ok := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana"}`)).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.FilledCount)
}

func TestHandleFillBadData(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})

	res, ok := r.Handle(context.Background(), fillRequest(t, `["not", "an", "object"]`)).(FillResult)
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid guest data")
}

func TestHandleFillRejectedDocument(t *testing.T) {
	tests := []struct {
		name       string
		validation string
		want       string
	}{
		{"back side missing", `{"isValidDni":false,"hasAnverso":true,"hasReverso":false,"errorMessage":"Falta el reverso"}`, "Falta el reverso"},
		{"no message", `{"isValidDni":true,"hasAnverso":false,"hasReverso":true}`, "the photos do not show both sides of a valid national ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := lockedPage(t, guestURL)
			j := &memJournal{}
			r, _ := newTestRouter(t, doc, Options{Journal: j})

			res, ok := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana","validation":`+tt.validation+`}`)).(FillResult)
			require.True(t, ok)
			assert.Equal(t, FillResult{Error: tt.want}, res)
			assert.Empty(t, doc.Events(), "the page is not touched")

			html, err := doc.HTML()
			require.NoError(t, err)
			assert.NotContains(t, html, `value="Ana"`)

			require.Len(t, j.records, 1)
			assert.Equal(t, history.StatusBlocked, j.records[0].Status)
			assert.Equal(t, tt.want, j.records[0].Error)
		})
	}
}

func TestHandleFillAcceptedDocument(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})

	res, ok := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana","validation":{"isValidDni":true,"hasAnverso":true,"hasReverso":true}}`)).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.FilledCount)
}

func TestHandleFillNumericFields(t *testing.T) {
	doc, err := memdoc.FromString(guestURL, `<html><body><div class="customer-form">
<input name="guest_first_name"><input name="guest_zip">
</div></body></html>`)
	require.NoError(t, err)
	r, _ := newTestRouter(t, doc, Options{})

	res, ok := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana","zipCode":28001,"city":null,"issuingCountry":"ES"}`)).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.FilledCount)

	html, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `value="28001"`)
}

func TestHandleFillBadPhoto(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})
	req := fillRequest(t, `{"firstName":"Ana"}`)
	req.ImageToUpload = "not base64 at all!"

	res, ok := r.Handle(context.Background(), req).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success, "a failed upload does not fail the fill")
	assert.False(t, res.PhotoUploaded)
	assert.Equal(t, 1, res.FilledCount)
}

func TestHandleFillConcurrentUpload(t *testing.T) {
	doc := lockedPage(t, guestURL)
	r, clock := newTestRouter(t, doc, Options{ConcurrentUpload: true})
	req := fillRequest(t, `{"firstName":"Ana"}`)
	req.ImageToUpload = "aW1hZ2UtYm9keQ=="

	res, ok := r.Handle(context.Background(), req).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.FilledCount)
	assert.False(t, res.PhotoUploaded, "page has no upload button")
	assert.Contains(t, clock.Sleeps(), 200*time.Millisecond)
}

func TestHandleFillSkipUpload(t *testing.T) {
	doc := lockedPage(t, guestURL)
	r, clock := newTestRouter(t, doc, Options{SkipUpload: true, ConcurrentUpload: true})
	req := fillRequest(t, `{"firstName":"Ana"}`)
	req.ImageToUpload = "aW1hZ2UtYm9keQ=="

	res, ok := r.Handle(context.Background(), req).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.NotContains(t, clock.Sleeps(), 200*time.Millisecond)
}

func TestHandleFillCancelled(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, ok := r.Handle(ctx, fillRequest(t, `{"firstName":"Ana"}`)).(FillResult)
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, context.Canceled.Error(), res.Error)
}

func TestHandleSourceFailure(t *testing.T) {
	src := SourceFunc(func(context.Context) (dom.Document, func(), error) {
		return nil, nil, guest.Precondition(MsgNoGuestPage)
	})
	r := New(src, newTestFiller(t, &wait.RecordingClock{}), Options{Clock: &wait.RecordingClock{}})
	ctx := context.Background()

	assert.Equal(t, FillResult{Error: MsgNoGuestPage}, r.Handle(ctx, fillRequest(t, `{}`)))
	assert.Equal(t, ErrorReply{Error: MsgNoGuestPage}, r.Handle(ctx, Request{Action: ActionCheckEditMode}))
}

type releasingDoc struct {
	*memdoc.Document
	released int
}

func (d *releasingDoc) Release(ctx context.Context) error {
	d.released++
	return errors.New("tab went away")
}

func TestHandleFillReleasesDocument(t *testing.T) {
	doc := &releasingDoc{Document: lockedPage(t, guestURL)}
	r, _ := newTestRouter(t, doc, Options{})

	res, ok := r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana"}`)).(FillResult)
	require.True(t, ok)
	assert.True(t, res.Success, "release errors are not reported")
	assert.Equal(t, 1, doc.released)
}

type memJournal struct {
	records []*history.Record
}

func (j *memJournal) Add(r *history.Record) error {
	j.records = append(j.records, r)
	return nil
}

func TestHandleFillJournals(t *testing.T) {
	j := &memJournal{}
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{Journal: j})
	ctx := context.Background()

	req := fillRequest(t, `{"firstName":"Ana","documentType":"passport","issuingCountry":"FR"}`)
	req.ID = "req-1"
	req.Origin = history.SourceHTTP
	r.Handle(ctx, req)

	other, _ := newTestRouter(t, lockedPage(t, "https://example.com/"), Options{Journal: j})
	other.Handle(ctx, fillRequest(t, `{"firstName":"Ana"}`))
	r.Handle(ctx, Request{Action: ActionPing})

	require.Len(t, j.records, 2, "only fills are journaled")

	got := j.records[0]
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, history.SourceHTTP, got.Source)
	assert.Equal(t, ActionFill, got.Action)
	assert.Equal(t, history.StatusFilled, got.Status)
	assert.Equal(t, 2, got.FilledCount, "first name and the country derived from the passport")
	assert.Equal(t, "passport", got.DocumentType)
	assert.Equal(t, "FR", got.IssuingCountry)

	blocked := j.records[1]
	assert.Equal(t, history.SourceCLI, blocked.Source)
	assert.Equal(t, history.StatusBlocked, blocked.Status)
	assert.Equal(t, MsgWrongHost, blocked.Error)
}

// sharedTab stands in for one live tab used by several requests. Release
// drops every element ref on the page, so it must never run while another
// request is still filling.
type sharedTab struct {
	*memdoc.Document

	mu       sync.Mutex
	inUse    int
	maxInUse int
	released int
}

func (d *sharedTab) open(ctx context.Context) (dom.Document, func(), error) {
	d.mu.Lock()
	d.inUse++
	if d.inUse > d.maxInUse {
		d.maxInUse = d.inUse
	}
	d.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	return d, func() {
		d.mu.Lock()
		d.inUse--
		d.mu.Unlock()
	}, nil
}

func (d *sharedTab) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func TestHandleFillConcurrentRequestsShareTab(t *testing.T) {
	tab := &sharedTab{Document: lockedPage(t, guestURL)}
	clock := &wait.RecordingClock{}
	r := New(SourceFunc(tab.open), newTestFiller(t, clock), Options{
		Hosts: browser.NewHostMatcher(browser.DefaultHostDomains),
		Clock: clock,
	})

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Handle(context.Background(), fillRequest(t, `{"firstName":"Ana"}`))
		}(i)
	}
	wg.Wait()

	for _, reply := range results {
		res, ok := reply.(FillResult)
		require.True(t, ok)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.FilledCount)
	}
	assert.Equal(t, 1, tab.maxInUse, "requests take turns on the tab")
	assert.Equal(t, 3, tab.released)
}

func TestHandleFillWaitsForTab(t *testing.T) {
	r, _ := newTestRouter(t, lockedPage(t, guestURL), Options{})
	free, err := r.own(context.Background())
	require.NoError(t, err)
	defer free()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, ok := r.Handle(ctx, fillRequest(t, `{"firstName":"Ana"}`)).(FillResult)
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Error)
}
