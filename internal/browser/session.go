// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ErrNoSuchTab is returned when a tab id does not resolve to an open tab.
var ErrNoSuchTab = fmt.Errorf("no such tab")

// Session owns one browser process and its open tabs. Exactly one tab is
// active at a time; page-level work always targets the active tab. Tab
// mutation is serialized behind a mutex because the operator channel can
// close the session while the loop is mid-step.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	tabs     map[string]*Tab
	order    []string
	activeID string
	closed   bool
}

// Tab is one open browsing target.
type Tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the tab's session-unique identifier.
func (t *Tab) ID() string { return t.id }

// NewSession launches the browser and opens the initial blank tab.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	s := &Session{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabs:        make(map[string]*Tab),
	}

	tab, err := s.newTab(allocCtx)
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to open initial tab: %w", err)
	}
	s.activeID = tab.id
	return s, nil
}

func (s *Session) newTab(parent context.Context) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(parent)

	// Native dialogs (alert, confirm, onbeforeunload) block every later CDP
	// call, so they are accepted as soon as they open.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Debug("Failed to dismiss dialog.", zap.Error(err))
				}
			}()
		}
	})

	// Force target creation so the tab exists before any action runs.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, err
	}

	tab := &Tab{
		id:     uuid.NewString()[:8],
		ctx:    tabCtx,
		cancel: tabCancel,
	}
	s.mu.Lock()
	s.tabs[tab.id] = tab
	s.order = append(s.order, tab.id)
	s.mu.Unlock()

	s.logger.Debug("Opened tab.", zap.String("tab_id", tab.id))
	return tab, nil
}

// ActiveTab returns the currently focused tab.
func (s *Session) ActiveTab() (*Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[s.activeID]
	if !ok {
		return nil, ErrNoSuchTab
	}
	return tab, nil
}

// OpenTab creates a new tab, makes it active, and navigates it when url is
// non-empty. It returns the new tab's id.
func (s *Session) OpenTab(ctx context.Context, url string) (string, error) {
	// New tabs share the first tab's browser, so they parent off it.
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("session has no tabs")
	}
	first := s.tabs[s.order[0]]
	s.mu.Unlock()

	tab, err := s.newTab(first.ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open tab: %w", err)
	}

	s.mu.Lock()
	s.activeID = tab.id
	s.mu.Unlock()

	if url != "" {
		if err := s.Run(ctx, chromedp.Navigate(url)); err != nil {
			return tab.id, fmt.Errorf("failed to navigate new tab: %w", err)
		}
	}
	return tab.id, nil
}

// SwitchTab makes the given tab active.
func (s *Session) SwitchTab(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTab, id)
	}
	s.activeID = id
	return nil
}

// CloseTab closes the given tab. Closing the active tab promotes the most
// recently opened remaining tab. The last tab cannot be closed.
func (s *Session) CloseTab(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, ok := s.tabs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTab, id)
	}
	if len(s.tabs) == 1 {
		return fmt.Errorf("cannot close the last tab")
	}

	tab.cancel()
	delete(s.tabs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = s.order[len(s.order)-1]
	}
	s.logger.Debug("Closed tab.", zap.String("tab_id", id))
	return nil
}

// TabSummaries describes every open tab for the state message. URL and title
// lookups are best effort; a tab that fails to answer is listed with blanks.
func (s *Session) TabSummaries(ctx context.Context) []schemas.TabSummary {
	s.mu.Lock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	active := s.activeID
	tabs := make(map[string]*Tab, len(s.tabs))
	for id, tab := range s.tabs {
		tabs[id] = tab
	}
	s.mu.Unlock()

	out := make([]schemas.TabSummary, 0, len(ids))
	for _, id := range ids {
		summary := schemas.TabSummary{ID: id, Active: id == active}
		runCtx, cancel := combineContext(tabs[id].ctx, ctx)
		if err := chromedp.Run(runCtx,
			chromedp.Location(&summary.URL),
			chromedp.Title(&summary.Title),
		); err != nil {
			s.logger.Debug("Tab summary lookup failed.", zap.String("tab_id", id), zap.Error(err))
		}
		cancel()
		out = append(out, summary)
	}
	return out
}

// Run executes chromedp actions against the active tab, honoring both the
// tab's lifetime and the caller's context.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	tab, err := s.ActiveTab()
	if err != nil {
		return err
	}
	runCtx, cancel := combineContext(tab.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close shuts the whole browser down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tabs := make([]*Tab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		tabs = append(tabs, tab)
	}
	s.mu.Unlock()

	for _, tab := range tabs {
		tab.cancel()
	}
	s.allocCancel()
	s.logger.Debug("Browser session closed.")
}

// combineContext derives a context from primary that is also canceled when
// secondary is done. chromedp requires the primary (tab) context's values.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
