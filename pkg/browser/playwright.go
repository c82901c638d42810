package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/playwright-community/playwright-go"
)

const (
	navigationTimeout = 10 * time.Second
	fetchTimeout      = 60 * time.Second
	scrollDelta       = 600
	tabPollInterval   = time.Second
)

// LaunchOptions configures a browser started by Launch.
type LaunchOptions struct {
	Channel     string
	Headless    bool
	UserDataDir string
	// RemoveEmptyNodes drops text-less elements other than form fields from
	// the accessibility tree.
	RemoveEmptyNodes bool
	Logger           types.Logger
}

// Playwright drives a persistent Chromium context through playwright-go.
// The active page is the most recently opened tab unless SwitchTab picked
// another one.
type Playwright struct {
	pw          *playwright.Playwright
	bctx        playwright.BrowserContext
	logger      types.Logger
	userDataDir string
	removeEmpty bool

	mu        sync.Mutex
	current   playwright.Page
	seenPages int
	observers []Observer
}

// Launch starts playwright and opens a persistent context in
// opts.UserDataDir.
func Launch(opts LaunchOptions) (*Playwright, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if opts.UserDataDir == "" {
		dir, err := os.MkdirTemp("", "stepwright-profile-")
		if err != nil {
			return nil, fmt.Errorf("creating browser profile directory: %w", err)
		}
		opts.UserDataDir = dir
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:        playwright.Bool(opts.Headless),
		AcceptDownloads: playwright.Bool(true),
		NoViewport:      playwright.Bool(true),
		ChromiumSandbox: playwright.Bool(false),
		Args: []string{
			"--disable-popup-blocking",
			"--window-size=1920,1080",
			"--disable-gpu",
			"--disable-background-networking",
			"--disable-site-isolation-trials",
			"--disable-features=IsolateOrigins,site-per-process",
			"--ignore-certificate-errors",
		},
	}
	if opts.Channel != "" && opts.Channel != "chromium" {
		launch.Channel = playwright.String(opts.Channel)
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d := &Playwright{
		pw:          pw,
		bctx:        bctx,
		logger:      logger,
		userDataDir: opts.UserDataDir,
		removeEmpty: opts.RemoveEmptyNodes,
	}
	for _, p := range bctx.Pages() {
		d.watchPage(p)
	}
	bctx.OnPage(d.watchPage)
	bctx.OnResponse(d.emitResponse)
	d.seenPages = len(bctx.Pages())

	logger.Info().Str("channel", opts.Channel).Bool("headless", opts.Headless).Msg("Browser started")
	return d, nil
}

func (d *Playwright) watchPage(p playwright.Page) {
	p.OnDownload(d.emitDownload)
	p.OnDialog(func(dialog playwright.Dialog) {
		_ = dialog.Accept()
	})
}

func (d *Playwright) snapshotObservers() []Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Observer(nil), d.observers...)
}

func (d *Playwright) emitDownload(dl playwright.Download) {
	for _, o := range d.snapshotObservers() {
		o.OnDownload(dl)
	}
}

func (d *Playwright) emitResponse(r playwright.Response) {
	obs := d.snapshotObservers()
	if len(obs) == 0 {
		return
	}
	resp := &Response{
		URL:     r.URL(),
		Status:  r.Status(),
		Headers: r.Headers(),
		Body:    r.Body,
	}
	for _, o := range obs {
		o.OnResponse(resp)
	}
}

func (d *Playwright) Observe(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// page returns the active tab, opening one if the context has none.
func (d *Playwright) page() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil && !d.current.IsClosed() {
		return d.current, nil
	}
	pages := d.bctx.Pages()
	if len(pages) == 0 {
		p, err := d.bctx.NewPage()
		if err != nil {
			return nil, fmt.Errorf("opening page: %w", err)
		}
		d.current = p
		d.seenPages = 1
		return p, nil
	}
	d.current = pages[len(pages)-1]
	return d.current, nil
}

func (d *Playwright) Locate(command string, timeout time.Duration) (Locator, error) {
	calls, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}
	p, err := d.page()
	if err != nil {
		return nil, err
	}
	l, err := buildLocator(p, calls)
	if err != nil {
		return nil, fmt.Errorf("building locator for %q: %w", command, err)
	}
	return &pwLocator{l: l, timeout: timeout}, nil
}

func (d *Playwright) Snapshot(ctx context.Context) (*State, error) {
	p, err := d.page()
	if err != nil {
		return nil, err
	}
	title, err := p.Title()
	if err != nil {
		d.logger.Warn().Err(err).Msg("Reading page title")
	}
	raw, err := p.Evaluate(axtreeScript, d.removeEmpty)
	if err != nil {
		return nil, fmt.Errorf("building accessibility tree: %w", err)
	}
	shot, err := p.Screenshot()
	if err != nil {
		d.logger.Warn().Err(err).Msg("Taking screenshot")
	}
	return &State{
		URL:        p.URL(),
		Title:      title,
		Screenshot: shot,
		Axtree:     renderAxtree(parseAxNodes(raw)),
	}, nil
}

func (d *Playwright) Screenshot(ctx context.Context) ([]byte, error) {
	p, err := d.page()
	if err != nil {
		return nil, err
	}
	return p.Screenshot()
}

func (d *Playwright) indexed(index int, timeout time.Duration) (*pwLocator, error) {
	p, err := d.page()
	if err != nil {
		return nil, err
	}
	return &pwLocator{l: p.Locator(indexSelector(index)).First(), timeout: timeout}, nil
}

func (d *Playwright) ClickIndex(ctx context.Context, index int, timeout time.Duration) error {
	l, err := d.indexed(index, timeout)
	if err != nil {
		return err
	}
	return l.Click()
}

func (d *Playwright) InputIndex(ctx context.Context, index int, text string, timeout time.Duration) error {
	l, err := d.indexed(index, timeout)
	if err != nil {
		return err
	}
	return l.Fill(text)
}

func (d *Playwright) UploadIndex(ctx context.Context, index int, paths []string, timeout time.Duration) error {
	l, err := d.indexed(index, timeout)
	if err != nil {
		return err
	}
	return l.SetFiles(paths)
}

func (d *Playwright) OptionsIndex(ctx context.Context, index int, timeout time.Duration) ([]Option, error) {
	l, err := d.indexed(index, timeout)
	if err != nil {
		return nil, err
	}
	return l.Options()
}

func (d *Playwright) SelectIndex(ctx context.Context, index int, values []string, timeout time.Duration) error {
	l, err := d.indexed(index, timeout)
	if err != nil {
		return err
	}
	return l.SelectOptions(values)
}

func (d *Playwright) ExpectDownload(ctx context.Context, trigger func() error) (Download, error) {
	p, err := d.page()
	if err != nil {
		return nil, err
	}
	dl, err := p.ExpectDownload(trigger)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// GoTo navigates the active tab, or a new one. Navigation timeouts are not
// errors; the page is used in whatever state it reached.
func (d *Playwright) GoTo(ctx context.Context, url string, newTab bool) error {
	if url == "about:blank" {
		return nil
	}
	var p playwright.Page
	var err error
	if newTab {
		p, err = d.bctx.NewPage()
		if err == nil {
			d.mu.Lock()
			d.current = p
			d.seenPages = len(d.bctx.Pages())
			d.mu.Unlock()
		}
	} else {
		p, err = d.page()
	}
	if err != nil {
		return err
	}
	_, err = p.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(navigationTimeout.Milliseconds())),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		d.logger.Debug().Str("url", url).Msg("Navigation timed out, continuing")
		return nil
	}
	return err
}

func (d *Playwright) GoBack(ctx context.Context) error {
	p, err := d.page()
	if err != nil {
		return err
	}
	_, err = p.GoBack()
	return err
}

// WaitForNewTab polls for a tab opened since the last check and makes it
// active. A zero wait checks once.
func (d *Playwright) WaitForNewTab(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		pages := d.bctx.Pages()
		d.mu.Lock()
		opened := len(pages) > d.seenPages
		d.seenPages = len(pages)
		if opened {
			d.current = pages[len(pages)-1]
		}
		d.mu.Unlock()
		if opened {
			return true, pages[len(pages)-1].BringToFront()
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(tabPollInterval):
		}
	}
}

func (d *Playwright) SwitchTab(ctx context.Context, index int) error {
	pages := d.bctx.Pages()
	if index < 0 || index >= len(pages) {
		return fmt.Errorf("invalid tab index: %d (available tabs: %d)", index, len(pages))
	}
	p := pages[index]
	d.mu.Lock()
	d.current = p
	d.mu.Unlock()
	return p.BringToFront()
}

func (d *Playwright) CloseCurrentTab(ctx context.Context) error {
	pages := d.bctx.Pages()
	if len(pages) <= 1 {
		d.logger.Warn().Msg("At least one tab must stay open, not closing the current tab")
		return nil
	}
	p, err := d.page()
	if err != nil {
		return err
	}
	if err := p.Close(); err != nil {
		return err
	}
	d.resetCurrent()
	return nil
}

func (d *Playwright) CloseAllButLastTab(ctx context.Context) error {
	pages := d.bctx.Pages()
	for _, p := range pages[:max(len(pages)-1, 0)] {
		if err := p.Close(); err != nil {
			return err
		}
	}
	d.resetCurrent()
	return nil
}

// CloseTabsUntil closes tabs from the newest down until the newest remaining
// tab has the given index or its URL contains matchingURL.
func (d *Playwright) CloseTabsUntil(ctx context.Context, matchingURL string, index *int) error {
	for {
		pages := d.bctx.Pages()
		if len(pages) <= 1 {
			break
		}
		last := pages[len(pages)-1]
		if index != nil && len(pages)-1 <= *index {
			break
		}
		if matchingURL != "" && strings.Contains(last.URL(), matchingURL) {
			break
		}
		if err := last.Close(); err != nil {
			return err
		}
	}
	d.resetCurrent()
	return nil
}

func (d *Playwright) resetCurrent() {
	pages := d.bctx.Pages()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = nil
	if len(pages) > 0 {
		d.current = pages[len(pages)-1]
	}
	d.seenPages = len(pages)
}

func (d *Playwright) KeyPress(ctx context.Context, key string) error {
	p, err := d.page()
	if err != nil {
		return err
	}
	return p.Keyboard().Press(key)
}

func (d *Playwright) Scroll(ctx context.Context, down bool) error {
	p, err := d.page()
	if err != nil {
		return err
	}
	delta := float64(scrollDelta)
	if !down {
		delta = -delta
	}
	return p.Mouse().Wheel(0, delta)
}

func (d *Playwright) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	p, err := d.page()
	if err != nil {
		return err
	}
	return p.WaitForLoadState(loadOptions(timeout))
}

// loadOptions waits for the load event only; pages that keep polling never
// reach network idle.
func loadOptions(timeout time.Duration) playwright.PageWaitForLoadStateOptions {
	return playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: millis(timeout),
	}
}

func (d *Playwright) CurrentURL() string {
	p, err := d.page()
	if err != nil {
		return ""
	}
	return p.URL()
}

// Fetch downloads url with the context's cookies.
func (d *Playwright) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.bctx.Request().Get(url, playwright.APIRequestContextGetOptions{
		Timeout: playwright.Float(float64(fetchTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Dispose()
	if !resp.Ok() {
		return nil, fmt.Errorf("GET %s: %d", url, resp.Status())
	}
	return resp.Body()
}

// Reset prepares a reused browser for the next task: extra tabs are closed
// and observers from the previous task are dropped.
func (d *Playwright) Reset(ctx context.Context) error {
	if err := d.CloseAllButLastTab(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.observers = nil
	d.mu.Unlock()
	return nil
}

func (d *Playwright) Close() error {
	var errs []error
	if err := d.bctx.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		errs = append(errs, fmt.Errorf("failed to close context: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	if err := os.RemoveAll(d.userDataDir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ Driver = (*Playwright)(nil)
