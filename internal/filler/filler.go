// Package filler writes a guest record into the host's guest form. It maps
// record fields onto form controls, drives the edit toggle, and uploads the
// document photo through the page's upload wizard.
//
// Field-level problems never fail a fill: a missing control or an unmatched
// option is logged and skipped. Only context cancellation aborts.
package filler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/resolve"
	"github.com/hostalscan/guestfill/internal/wait"
)

// Timing holds every settle delay and polling bound used against the page.
type Timing struct {
	EditSettle         time.Duration
	PostEditSettle     time.Duration
	CountrySettle      time.Duration
	DocumentSweepDelay time.Duration
	ModalClose         time.Duration
	DropzonePoll       time.Duration
	DropzoneAttempts   int
	DropCheck          time.Duration
	WizardPoll         time.Duration
	WizardAttempts     int
	StepDonePause      time.Duration
	StepSavePause      time.Duration
	StepOKPause        time.Duration
	UploadStartDelay   time.Duration
	UploadTimeout      time.Duration
}

// DefaultTiming matches what the Cloudbeds guest page needs in practice.
func DefaultTiming() Timing {
	return Timing{
		EditSettle:         800 * time.Millisecond,
		PostEditSettle:     300 * time.Millisecond,
		CountrySettle:      500 * time.Millisecond,
		DocumentSweepDelay: 300 * time.Millisecond,
		ModalClose:         500 * time.Millisecond,
		DropzonePoll:       100 * time.Millisecond,
		DropzoneAttempts:   20,
		DropCheck:          500 * time.Millisecond,
		WizardPoll:         250 * time.Millisecond,
		WizardAttempts:     40,
		StepDonePause:      1000 * time.Millisecond,
		StepSavePause:      500 * time.Millisecond,
		StepOKPause:        300 * time.Millisecond,
		UploadStartDelay:   200 * time.Millisecond,
		UploadTimeout:      30 * time.Second,
	}
}

// Options configures the filler, edit-mode activator and uploader. Zero
// values fall back to defaults.
type Options struct {
	Mappings []FieldMapping
	Timing   Timing
	Clock    wait.Clock
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Mappings == nil {
		o.Mappings = DefaultMappings()
	}
	if o.Timing == (Timing{}) {
		o.Timing = DefaultTiming()
	}
	if o.Clock == nil {
		o.Clock = wait.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Skip reasons.
const (
	ReasonNoElement   = "no element"
	ReasonNoOption    = "no matching option"
	ReasonUnresolved  = "unresolved"
	ReasonInvalidDate = "invalid date"
	ReasonWriteFailed = "write failed"
)

// Skip records a field that was not written.
type Skip struct {
	Field  guest.Field `json:"field"`
	Reason string      `json:"reason"`
}

// Report is the outcome of one fill.
type Report struct {
	Record  guest.Record  `json:"record"` // after preparation and residency rules
	Filled  []guest.Field `json:"filled"`
	Skipped []Skip        `json:"skipped,omitempty"`
	Swept   int           `json:"swept,omitempty"` // document fields force-enabled
}

// Count is the number of fields written.
func (r Report) Count() int { return len(r.Filled) }

// Filler maps guest records onto the host form.
type Filler struct {
	mappings       []FieldMapping
	rules          guest.Rules
	countries      *resolve.Countries
	municipalities *resolve.Municipalities
	provinces      ProvinceLookup
	timing         Timing
	clock          wait.Clock
	log            *zap.Logger
}

// New builds a Filler over the reference datasets.
func New(ds *refdata.Datasets, rules guest.Rules, opts Options) *Filler {
	opts = opts.withDefaults()
	countries := rules.Countries
	if countries == nil {
		countries = resolve.NewCountries(ds.Countries)
		rules.Countries = countries
	}
	return &Filler{
		mappings:       opts.Mappings,
		rules:          rules,
		countries:      countries,
		municipalities: resolve.MunicipalitiesFor(ds),
		provinces:      ds,
		timing:         opts.Timing,
		clock:          opts.Clock,
		log:            opts.Logger,
	}
}

// Prepare applies record preparation and the residency rules without
// touching any page.
func (f *Filler) Prepare(rec guest.Record) guest.Record {
	return f.rules.Apply(rec.Prepared())
}

// Fill writes rec into doc field by field, in mapping order.
func (f *Filler) Fill(ctx context.Context, doc dom.Document, rec guest.Record) (Report, error) {
	prepared := f.Prepare(rec)
	report := Report{Record: prepared, Filled: []guest.Field{}}

	for _, m := range f.mappings {
		value := prepared.Get(m.Field)
		if value == "" {
			continue
		}

		log := f.log.With(zap.String("field", string(m.Field)), zap.Stringer("kind", m.Kind))
		reason, err := f.fillField(ctx, doc, m, value, prepared)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			log.Debug("write failed", zap.Error(err))
			reason = ReasonWriteFailed
		}
		if reason != "" {
			log.Debug("field skipped", zap.String("reason", reason))
			report.Skipped = append(report.Skipped, Skip{Field: m.Field, Reason: reason})
			continue
		}

		log.Debug("field filled")
		report.Filled = append(report.Filled, m.Field)

		if m.Field == guest.Country {
			if err := f.clock.Sleep(ctx, f.timing.CountrySettle); err != nil {
				return report, err
			}
		}
	}

	if prepared.DocumentType != "" {
		if err := f.clock.Sleep(ctx, f.timing.DocumentSweepDelay); err != nil {
			return report, err
		}
		n, err := f.sweepDocumentFields(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			f.log.Debug("document sweep failed", zap.Error(err))
		}
		report.Swept = n
	}

	f.log.Info("form filled", zap.Int("filled", report.Count()), zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// fillField returns a skip reason, or "" when the field was written.
func (f *Filler) fillField(ctx context.Context, doc dom.Document, m FieldMapping, value string, rec guest.Record) (string, error) {
	if m.Kind == CompositeBirthdate {
		return f.writeBirthdate(ctx, doc, m, value)
	}

	el, _, err := dom.First(ctx, doc, m.Selectors)
	if errors.Is(err, dom.ErrNotFound) {
		return ReasonNoElement, nil
	}
	if err != nil {
		return "", err
	}

	info, err := el.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", m.Field, err)
	}
	if info.Locked() {
		if err := el.Unlock(ctx); err != nil {
			return "", fmt.Errorf("failed to unlock %s: %w", m.Field, err)
		}
	}

	switch effectiveKind(m.Kind, info) {
	case TypeaheadMunicipality:
		match, ok := f.municipalities.Resolve(value, rec.Province)
		if !ok {
			return ReasonUnresolved, nil
		}
		return "", f.writeTypeahead(ctx, el, match.Value)
	case TypeaheadNationality:
		if info.IsSelect() {
			return f.writeNationalitySelect(ctx, doc, el, info, value)
		}
		name, _, ok := f.countries.MatchNationality(value)
		if !ok {
			return ReasonUnresolved, nil
		}
		return "", f.writeTypeahead(ctx, el, name)
	case Select:
		return f.writeSelect(ctx, doc, el, info, value)
	case Date:
		return "", f.writeDate(ctx, el, info, value)
	}
	return "", el.SetValue(ctx, value)
}

// effectiveKind reconciles the declared kind with the control actually
// found. It is the only place the live element decides the strategy.
func effectiveKind(k Kind, info dom.Info) Kind {
	switch {
	case info.IsSelect() && (k == PlainText || k == Date):
		return Select
	case !info.IsSelect() && k == Select:
		return PlainText
	case k == PlainText && info.Type == "date":
		return Date
	}
	return k
}

func (f *Filler) sweepDocumentFields(ctx context.Context, doc dom.Document) (int, error) {
	n := 0
	for _, sel := range documentFieldSelectors {
		els, err := doc.QueryAll(ctx, sel)
		if err != nil {
			return n, err
		}
		for _, el := range els {
			if err := el.Unlock(ctx); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
