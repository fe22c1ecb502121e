// Package router answers the messages the check-in front ends send: fill the
// guest form, report whether it is in edit mode, and a liveness ping.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/filler"
	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/wait"
)

// Actions.
const (
	ActionFill          = "fillGuestForm"
	ActionPing          = "ping"
	ActionCheckEditMode = "checkEditMode"
)

// User-facing failure messages.
const (
	MsgWrongHost     = "This page is not a Cloudbeds page"
	MsgNoGuestPage   = "Open the guest page in Cloudbeds first"
	MsgFormNotFound  = "Guest form not found"
	MsgNotEditing    = `Click "Edit details" in Cloudbeds first`
	MsgUnknownAction = "unknown action"
	MsgPong          = "guestfill is running"
)

var formSelectors = []string{
	`.guest-info-fields-folio`,
	`.customer-form`,
	`#customer-form`,
	`form[name="customer"]`,
	`.guest-details`,
	`.folio-guest-info`,
}

const releaseTimeout = 2 * time.Second

const guestFieldSelector = `[name="guest_first_name"], [name="firstName"], #guest_first_name, input[id*="first_name"]`

// Request is one inbound message.
type Request struct {
	Action        string          `json:"action"`
	Data          json.RawMessage `json:"data,omitempty"`
	ImageToUpload string          `json:"imageToUpload,omitempty"`

	// Set by the transport.
	ID     string         `json:"-"`
	Origin history.Source `json:"-"`
}

// FillResult is the reply to a fill.
type FillResult struct {
	Success       bool          `json:"success"`
	FilledCount   int           `json:"filledCount"`
	PhotoUploaded bool          `json:"photoUploaded"`
	Error         string        `json:"error,omitempty"`
	Skipped       []filler.Skip `json:"skipped,omitempty"`
}

type PingReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type EditModeReply struct {
	Success    bool `json:"success"`
	IsEditMode bool `json:"isEditMode"`
}

type ErrorReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Source hands out the document a request acts on. The returned func lets
// the document go and is never nil when err is nil.
type Source interface {
	Document(ctx context.Context) (dom.Document, func(), error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (dom.Document, func(), error)

func (f SourceFunc) Document(ctx context.Context) (dom.Document, func(), error) { return f(ctx) }

// Static always serves doc.
func Static(doc dom.Document) Source {
	return SourceFunc(func(context.Context) (dom.Document, func(), error) {
		return doc, func() {}, nil
	})
}

// Journal records request outcomes.
type Journal interface {
	Add(record *history.Record) error
}

// HostChecker accepts URLs on the host's domains.
type HostChecker interface {
	Allowed(url string) bool
}

// Options configures a Router. Hosts nil accepts any page.
type Options struct {
	Hosts            HostChecker
	Journal          Journal
	RequireEditMode  bool
	ConcurrentUpload bool
	SkipUpload       bool
	Timing           filler.Timing
	Clock            wait.Clock
	Logger           *zap.Logger
}

// Router dispatches requests against the current document. Requests that
// touch the page run one at a time: element refs are page-wide and each
// request clears them when it ends.
type Router struct {
	page     chan struct{}
	source   Source
	filler   *filler.Filler
	edit     *filler.EditMode
	uploader *filler.Uploader
	opts     Options
	log      *zap.Logger
}

func New(src Source, f *filler.Filler, opts Options) *Router {
	if opts.Timing == (filler.Timing{}) {
		opts.Timing = filler.DefaultTiming()
	}
	if opts.Clock == nil {
		opts.Clock = wait.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fo := filler.Options{Timing: opts.Timing, Clock: opts.Clock, Logger: opts.Logger}
	return &Router{
		page:     make(chan struct{}, 1),
		source:   src,
		filler:   f,
		edit:     filler.NewEditMode(fo),
		uploader: filler.NewUploader(fo),
		opts:     opts,
		log:      opts.Logger,
	}
}

// Handle answers req. The reply is always JSON-encodable and carries a
// success flag; failures never surface as a Go error.
func (r *Router) Handle(ctx context.Context, req Request) any {
	log := r.log.With(zap.String("action", req.Action))
	switch req.Action {
	case ActionPing:
		return PingReply{Success: true, Message: MsgPong}
	case ActionCheckEditMode:
		editing, err := r.checkEditMode(ctx)
		if err != nil {
			log.Warn("edit mode check failed", zap.Error(err))
			return ErrorReply{Error: guest.UserMessage(err)}
		}
		return EditModeReply{Success: true, IsEditMode: editing}
	case ActionFill:
		start := time.Now()
		rec, err := decodeRecord(req.Data)
		if err != nil {
			log.Warn("bad fill request", zap.Error(err))
			res := FillResult{Error: guest.UserMessage(err)}
			r.journal(req, rec, res, err, start)
			return res
		}
		res, err := r.Fill(ctx, rec, req.ImageToUpload)
		if err != nil {
			log.Warn("fill failed", zap.Error(err))
			res = FillResult{Error: guest.UserMessage(err)}
		}
		r.journal(req, rec, res, err, start)
		return res
	}
	log.Warn("unknown action")
	return ErrorReply{Error: MsgUnknownAction}
}

func decodeRecord(data json.RawMessage) (guest.Record, error) {
	if len(data) == 0 {
		return guest.Record{}, nil
	}
	e, err := guest.ParseExtraction(data)
	if err != nil {
		return guest.Record{}, fmt.Errorf("invalid guest data: %w", err)
	}
	// A rejected two-sided check blocks the fill before the page is touched.
	return e.Record, e.Check()
}

// own waits until no other request is using the page. The returned func
// hands the page back.
func (r *Router) own(ctx context.Context) (func(), error) {
	select {
	case r.page <- struct{}{}:
		return func() { <-r.page }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Router) checkEditMode(ctx context.Context) (bool, error) {
	free, err := r.own(ctx)
	if err != nil {
		return false, err
	}
	defer free()

	doc, done, err := r.source.Document(ctx)
	if err != nil {
		return false, err
	}
	defer done()
	if err := r.checkHost(ctx, doc); err != nil {
		return false, err
	}
	return r.edit.IsEditing(ctx, doc)
}

// Fill runs the whole sequence on the current document: checks, edit mode,
// the form fill, then the optional photo upload. Only blocking errors and
// cancellation are returned; a failed upload is reported as not uploaded.
func (r *Router) Fill(ctx context.Context, rec guest.Record, image string) (FillResult, error) {
	free, err := r.own(ctx)
	if err != nil {
		return FillResult{}, err
	}
	defer free()

	doc, done, err := r.source.Document(ctx)
	if err != nil {
		return FillResult{}, err
	}
	defer done()
	defer r.release(doc)

	if err := r.preconditions(ctx, doc); err != nil {
		return FillResult{}, err
	}

	if _, err := r.edit.Ensure(ctx, doc); err != nil {
		return FillResult{}, fmt.Errorf("failed to enter edit mode: %w", err)
	}
	if r.opts.RequireEditMode {
		editing, err := r.edit.IsEditing(ctx, doc)
		if err != nil {
			return FillResult{}, err
		}
		if !editing {
			return FillResult{}, guest.Precondition(MsgNotEditing)
		}
	}
	if err := r.opts.Clock.Sleep(ctx, r.opts.Timing.PostEditSettle); err != nil {
		return FillResult{}, err
	}

	upload := image != "" && !r.opts.SkipUpload
	var (
		report   filler.Report
		uploaded bool
	)
	if upload && r.opts.ConcurrentUpload {
		var g errgroup.Group
		g.Go(func() error {
			var err error
			report, err = r.filler.Fill(ctx, doc, rec)
			return err
		})
		g.Go(func() error {
			if err := r.opts.Clock.Sleep(ctx, r.opts.Timing.UploadStartDelay); err != nil {
				return err
			}
			var err error
			uploaded, err = r.upload(ctx, doc, image)
			return err
		})
		if err := g.Wait(); err != nil {
			return FillResult{}, err
		}
	} else {
		report, err = r.filler.Fill(ctx, doc, rec)
		if err != nil {
			return FillResult{}, err
		}
		if upload {
			if uploaded, err = r.upload(ctx, doc, image); err != nil {
				return FillResult{}, err
			}
		}
	}

	r.log.Info("fill done",
		zap.Int("filled", report.Count()),
		zap.Bool("photo", uploaded),
	)
	return FillResult{
		Success:       true,
		FilledCount:   report.Count(),
		PhotoUploaded: uploaded,
		Skipped:       report.Skipped,
	}, nil
}

// upload is bounded by UploadTimeout. Running out of time counts as not
// uploaded; only cancellation of ctx itself is an error.
func (r *Router) upload(ctx context.Context, doc dom.Document, image string) (bool, error) {
	uctx, cancel := context.WithTimeout(ctx, r.opts.Timing.UploadTimeout)
	defer cancel()
	ok, err := r.uploader.Upload(uctx, doc, image)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.log.Warn("photo upload timed out", zap.Error(err))
		return false, nil
	}
	return ok, nil
}

func (r *Router) preconditions(ctx context.Context, doc dom.Document) error {
	if err := r.checkHost(ctx, doc); err != nil {
		return err
	}
	if _, _, err := dom.First(ctx, doc, formSelectors); err == nil {
		return nil
	} else if !errors.Is(err, dom.ErrNotFound) {
		return err
	}
	found, err := dom.Exists(ctx, doc, guestFieldSelector)
	if err != nil {
		return err
	}
	if !found {
		return guest.Precondition(MsgFormNotFound)
	}
	return nil
}

func (r *Router) checkHost(ctx context.Context, doc dom.Document) error {
	if r.opts.Hosts == nil {
		return nil
	}
	u, err := doc.URL(ctx)
	if err != nil {
		return err
	}
	if !r.opts.Hosts.Allowed(u) {
		return guest.Precondition(MsgWrongHost)
	}
	return nil
}

// release clears page bookkeeping even when ctx is already done.
func (r *Router) release(doc dom.Document) {
	rel, ok := doc.(dom.Releaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := rel.Release(ctx); err != nil {
		r.log.Debug("release failed", zap.Error(err))
	}
}

func (r *Router) journal(req Request, rec guest.Record, res FillResult, err error, start time.Time) {
	if r.opts.Journal == nil {
		return
	}
	status := history.StatusFilled
	switch {
	case errors.Is(err, guest.ErrPreconditionFailed), errors.Is(err, guest.ErrUpstreamInvalid):
		status = history.StatusBlocked
	case !res.Success:
		status = history.StatusFailed
	}
	origin := req.Origin
	if origin == "" {
		origin = history.SourceCLI
	}
	entry := &history.Record{
		RequestID:      req.ID,
		Source:         origin,
		Action:         req.Action,
		Status:         status,
		FilledCount:    res.FilledCount,
		SkippedCount:   len(res.Skipped),
		PhotoUploaded:  res.PhotoUploaded,
		DocumentType:   rec.DocumentType,
		IssuingCountry: rec.IssuingCountry,
		Error:          res.Error,
		Duration:       time.Since(start),
	}
	if err := r.opts.Journal.Add(entry); err != nil {
		r.log.Warn("failed to journal request", zap.Error(err))
	}
}
