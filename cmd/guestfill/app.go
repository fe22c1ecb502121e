package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/browser"
	"github.com/hostalscan/guestfill/internal/config"
	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/filler"
	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/logging"
	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/router"
	"github.com/hostalscan/guestfill/internal/vision"
	"github.com/hostalscan/guestfill/internal/wait"
)

// app holds everything a command needs. The browser is connected on first
// use so commands that never touch a page do not need Chrome.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	datasets *refdata.Datasets
	rules    guest.Rules
	store    *history.Store

	mu      sync.Mutex
	browser *browser.Browser
}

func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config (run 'guestfill init' first): %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	var ds *refdata.Datasets
	if cfg.Datasets.Dir != "" {
		ds, err = refdata.LoadDir(cfg.Datasets.Dir)
	} else {
		ds, err = refdata.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}

	rules, ok := guest.NewRules(ds, cfg.Home.Country, cfg.Home.DocumentTypes)
	if !ok {
		return nil, fmt.Errorf("home country %s is not in the country list", cfg.Home.Country)
	}

	return &app{cfg: cfg, log: log, datasets: ds, rules: rules}, nil
}

// openHistory opens the journal when enabled and drops entries past the
// retention period.
func (a *app) openHistory() error {
	if !a.cfg.History.Enabled || a.store != nil {
		return nil
	}
	store, err := history.NewStore(a.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	a.store = store

	maxAge := time.Duration(a.cfg.History.RetentionDays) * 24 * time.Hour
	if n, err := store.Prune(maxAge); err != nil {
		a.log.Warn("failed to prune history", zap.Error(err))
	} else if n > 0 {
		a.log.Debug("pruned history", zap.Int64("removed", n))
	}
	return nil
}

func (a *app) close() {
	a.mu.Lock()
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	a.mu.Unlock()
	if a.store != nil {
		a.store.Close()
	}
	a.log.Sync()
}

func (a *app) timing() filler.Timing {
	return a.cfg.FillerTiming()
}

func (a *app) newFiller(clock wait.Clock) *filler.Filler {
	return filler.New(a.datasets, a.rules, filler.Options{
		Timing: a.timing(),
		Clock:  clock,
		Logger: a.log.Named("filler"),
	})
}

// router builds a router over src. A nil clock sleeps for real.
func (a *app) router(src router.Source, clock wait.Clock) *router.Router {
	if clock == nil {
		clock = wait.RealClock{}
	}
	opts := router.Options{
		Hosts:            browser.NewHostMatcher(a.cfg.Host.Domains),
		RequireEditMode:  a.cfg.Host.RequireEditMode,
		ConcurrentUpload: a.cfg.Upload.Concurrent,
		SkipUpload:       !a.cfg.Upload.Enabled,
		Timing:           a.timing(),
		Clock:            clock,
		Logger:           a.log.Named("router"),
	}
	if a.store != nil {
		opts.Journal = a.store
	}
	return router.New(src, a.newFiller(clock), opts)
}

func (a *app) visionClient() *vision.Client {
	return vision.NewClient(vision.Config{
		Endpoint:  a.cfg.Vision.Endpoint,
		Model:     a.cfg.Vision.Model,
		APIKey:    a.cfg.Vision.APIKey,
		MaxTokens: a.cfg.Vision.MaxTokens,
		Timeout:   time.Duration(a.cfg.Vision.TimeoutSec) * time.Second,
	}, a.log.Named("vision"))
}

func (a *app) connect() (*browser.Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser != nil {
		return a.browser, nil
	}
	b, err := browser.New(a.cfg.BrowserConfig(), a.log.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}
	a.browser = b
	return b, nil
}

// page finds the staff's open guest tab, or opens the configured guest URL
// when there is none.
func (a *app) page(ctx context.Context) (*browser.Page, error) {
	b, err := a.connect()
	if err != nil {
		return nil, err
	}
	p, err := b.Attach(ctx)
	if errors.Is(err, browser.ErrNoHostTab) {
		if a.cfg.Host.GuestURL == "" {
			return nil, guest.Precondition(router.MsgNoGuestPage)
		}
		return b.Open(ctx, a.cfg.Host.GuestURL)
	}
	return p, err
}

// Document implements router.Source over the live browser. Pages stay
// attached between requests, so there is nothing to release.
func (a *app) Document(ctx context.Context) (dom.Document, func(), error) {
	p, err := a.page(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {}, nil
}
