package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/filler"
)

// refAttr tags nodes handed out as dom.Element so later calls can find the
// exact same node again.
const refAttr = "data-guestfill-ref"

// Page is a live browser tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

var (
	_ dom.Document         = (*Page)(nil)
	_ dom.Releaser         = (*Page)(nil)
	_ filler.DropSimulator = (*Page)(nil)
	_ filler.WidgetAPI     = (*Page)(nil)
)

func newPage(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) *Page {
	return &Page{ctx: ctx, cancel: cancel, log: log}
}

// run executes actions on the tab, giving up when either the tab or ctx is
// done.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// call evaluates fn, a JavaScript function expression, applied to args. With
// await set the result promise is awaited.
func (p *Page) call(ctx context.Context, fn string, out any, await bool, args ...any) error {
	expr, err := callExpr(fn, args...)
	if err != nil {
		return err
	}
	var opts []chromedp.EvaluateOption
	if await {
		opts = append(opts, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		})
	}
	return p.run(ctx, chromedp.Evaluate(expr, out, opts...))
}

// callExpr renders (fn)(arg0, arg1, ...) with JSON-encoded arguments.
func callExpr(fn string, args ...any) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read page URL: %w", err)
	}
	return u, nil
}

func (p *Page) Query(ctx context.Context, selector string) (dom.Element, error) {
	var ref string
	if err := p.call(ctx, jsTagFirst, &ref, false, selector, refAttr, newRef()); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if ref == "" {
		return nil, dom.ErrNotFound
	}
	return &element{page: p, ref: ref}, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	var refs []string
	if err := p.call(ctx, jsTagAll, &refs, false, selector, refAttr, newRef()); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(refs))
	for _, ref := range refs {
		out = append(out, &element{page: p, ref: ref})
	}
	return out, nil
}

func newRef() string { return uuid.NewString() }

// Release removes every element tag left on the page.
func (p *Page) Release(ctx context.Context) error {
	return p.call(ctx, jsRelease, nil, false, refAttr)
}

// SimulateFileDrop fires dragenter, dragover and drop carrying img at the
// element matched by selector.
func (p *Page) SimulateFileDrop(ctx context.Context, selector string, img filler.Image) error {
	var ok bool
	if err := p.call(ctx, jsSimulateDrop, &ok, true, selector, img.Name, img.DataURL()); err != nil {
		return fmt.Errorf("failed to simulate drop: %w", err)
	}
	if !ok {
		return dom.ErrNotFound
	}
	return nil
}

// AddFileToDropzone hands img to the Dropzone instance bound to formID.
func (p *Page) AddFileToDropzone(ctx context.Context, formID string, img filler.Image) (bool, error) {
	var ok bool
	if err := p.call(ctx, jsAddToDropzone, &ok, true, formID, img.Name, img.DataURL()); err != nil {
		return false, fmt.Errorf("failed to add file to dropzone: %w", err)
	}
	return ok, nil
}

// HTML returns the current page HTML
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

// Screenshot captures the current page state into dir and returns the file
// name.
func (p *Page) Screenshot(ctx context.Context, dir, prefix string) (string, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s_%d.png", prefix, time.Now().Unix())
	if err := os.WriteFile(filepath.Join(dir, filename), buf, 0644); err != nil {
		return "", err
	}
	return filename, nil
}
