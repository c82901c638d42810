// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arnavsurve/stepwright/pkg/browser"
)

// FakeDownload serves Data from SaveAs.
type FakeDownload struct {
	TempPath  string
	Suggested string
	Data      []byte
	PathErr   error
	// Delay postpones Path, simulating a download still in progress.
	Delay time.Duration
	// FailSaves is the number of SaveAs calls that fail before one succeeds.
	FailSaves int
}

func (d *FakeDownload) Path() (string, error) {
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}
	return d.TempPath, d.PathErr
}

func (d *FakeDownload) SuggestedFilename() string { return d.Suggested }

func (d *FakeDownload) SaveAs(path string) error {
	if d.FailSaves > 0 {
		d.FailSaves--
		return fmt.Errorf("download canceled")
	}
	return os.WriteFile(path, d.Data, 0644)
}

// FakeLocator records every operation performed on it.
type FakeLocator struct {
	mu sync.Mutex

	// VisibleAfter is the number of IsVisible calls that report false before
	// the element shows up. A negative value keeps it hidden forever.
	VisibleAfter int
	OptionList   []browser.Option
	OpErr        error

	WaitCalls     int
	VisibleCalls  int
	Clicks        int
	DoubleClicks  int
	Filled        string
	Typed         string
	Pressed       []string
	Selected      []string
	CheckSequence []string
	Files         []string
}

func (l *FakeLocator) WaitVisible(time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.WaitCalls++
	return nil
}

func (l *FakeLocator) IsVisible() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.VisibleCalls++
	if l.VisibleAfter < 0 {
		return false, nil
	}
	return l.VisibleCalls > l.VisibleAfter, nil
}

func (l *FakeLocator) record(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.OpErr != nil {
		return l.OpErr
	}
	fn()
	return nil
}

func (l *FakeLocator) Click() error        { return l.record(func() { l.Clicks++ }) }
func (l *FakeLocator) DoubleClick() error  { return l.record(func() { l.DoubleClicks++ }) }
func (l *FakeLocator) Fill(s string) error { return l.record(func() { l.Filled = s }) }
func (l *FakeLocator) Type(s string) error { return l.record(func() { l.Typed = s }) }
func (l *FakeLocator) Press(k string) error {
	return l.record(func() { l.Pressed = append(l.Pressed, k) })
}
func (l *FakeLocator) Options() ([]browser.Option, error) { return l.OptionList, nil }
func (l *FakeLocator) SelectOptions(v []string) error {
	return l.record(func() { l.Selected = append([]string(nil), v...) })
}
func (l *FakeLocator) Check() error {
	return l.record(func() { l.CheckSequence = append(l.CheckSequence, "check") })
}
func (l *FakeLocator) Uncheck() error {
	return l.record(func() { l.CheckSequence = append(l.CheckSequence, "uncheck") })
}
func (l *FakeLocator) SetFiles(p []string) error {
	return l.record(func() { l.Files = append([]string(nil), p...) })
}

// FakeDriver is a scriptable browser.Driver.
type FakeDriver struct {
	mu sync.Mutex

	Locators  map[string]*FakeLocator
	State     browser.State
	Download  *FakeDownload
	FetchData map[string][]byte
	// NewTabs is the number of WaitForNewTab calls that report a new tab.
	NewTabs   int

	Calls       []string
	IndexClicks []int
	IndexInputs map[int]string
	Snapshots   int
	observers   []browser.Observer

	// IndexOptions are the select options reported for an indexed element.
	IndexOptions    map[int][]browser.Option
	IndexSelections map[int][]string
	// Timeouts records the timeout of every Locate and index action.
	Timeouts []time.Duration
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Locators:        map[string]*FakeLocator{},
		FetchData:       map[string][]byte{},
		IndexInputs:     map[int]string{},
		IndexOptions:    map[int][]browser.Option{},
		IndexSelections: map[int][]string{},
		State:           browser.State{URL: "https://example.test/", Title: "Example", Axtree: "[1]<button>Go</button>"},
	}
}

func (d *FakeDriver) call(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded driver calls.
func (d *FakeDriver) CallLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Calls...)
}

func (d *FakeDriver) Locate(command string, timeout time.Duration) (browser.Locator, error) {
	d.call("locate %s", command)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	l, ok := d.Locators[command]
	if !ok {
		l = &FakeLocator{VisibleAfter: -1}
		d.Locators[command] = l
	}
	return l, nil
}

func (d *FakeDriver) Snapshot(context.Context) (*browser.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Snapshots++
	s := d.State
	return &s, nil
}

func (d *FakeDriver) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (d *FakeDriver) ClickIndex(_ context.Context, index int, timeout time.Duration) error {
	d.call("click_index %d", index)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	d.IndexClicks = append(d.IndexClicks, index)
	return nil
}

func (d *FakeDriver) InputIndex(_ context.Context, index int, text string, timeout time.Duration) error {
	d.call("input_index %d", index)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	d.IndexInputs[index] = text
	return nil
}

func (d *FakeDriver) UploadIndex(_ context.Context, index int, _ []string, timeout time.Duration) error {
	d.call("upload_index %d", index)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	return nil
}

func (d *FakeDriver) OptionsIndex(_ context.Context, index int, timeout time.Duration) ([]browser.Option, error) {
	d.call("options_index %d", index)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	opts, ok := d.IndexOptions[index]
	if !ok {
		return nil, fmt.Errorf("element %d is not a select", index)
	}
	return opts, nil
}

func (d *FakeDriver) SelectIndex(_ context.Context, index int, values []string, timeout time.Duration) error {
	d.call("select_index %d %s", index, strings.Join(values, ","))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Timeouts = append(d.Timeouts, timeout)
	d.IndexSelections[index] = append([]string(nil), values...)
	return nil
}

func (d *FakeDriver) ExpectDownload(_ context.Context, trigger func() error) (browser.Download, error) {
	if err := trigger(); err != nil {
		return nil, err
	}
	if d.Download == nil {
		return nil, fmt.Errorf("no download started")
	}
	return d.Download, nil
}

func (d *FakeDriver) GoTo(_ context.Context, url string, newTab bool) error {
	d.call("goto %s new_tab=%t", url, newTab)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.State.URL = url
	return nil
}

func (d *FakeDriver) GoBack(context.Context) error {
	d.call("go_back")
	return nil
}

func (d *FakeDriver) WaitForNewTab(_ context.Context, wait time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewTabs > 0 {
		d.NewTabs--
		d.Calls = append(d.Calls, "switched_new_tab")
		return true, nil
	}
	return false, nil
}

func (d *FakeDriver) SwitchTab(_ context.Context, index int) error {
	d.call("switch_tab %d", index)
	return nil
}

func (d *FakeDriver) CloseCurrentTab(context.Context) error {
	d.call("close_current_tab")
	return nil
}

func (d *FakeDriver) CloseAllButLastTab(context.Context) error {
	d.call("close_all_but_last_tab")
	return nil
}

func (d *FakeDriver) CloseTabsUntil(_ context.Context, matchingURL string, index *int) error {
	if index != nil {
		d.call("close_tabs_until index=%d", *index)
		return nil
	}
	d.call("close_tabs_until url=%s", matchingURL)
	return nil
}

func (d *FakeDriver) KeyPress(_ context.Context, key string) error {
	d.call("key_press %s", key)
	return nil
}

func (d *FakeDriver) Scroll(_ context.Context, down bool) error {
	d.call("scroll down=%t", down)
	return nil
}

func (d *FakeDriver) WaitForLoad(context.Context, time.Duration) error { return nil }

func (d *FakeDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State.URL
}

func (d *FakeDriver) Fetch(_ context.Context, url string) ([]byte, error) {
	d.call("fetch %s", url)
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.FetchData[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: 404", url)
	}
	return data, nil
}

func (d *FakeDriver) Observe(o browser.Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Emit delivers a response to every observer.
func (d *FakeDriver) Emit(r *browser.Response) {
	d.mu.Lock()
	obs := append([]browser.Observer(nil), d.observers...)
	d.mu.Unlock()
	for _, o := range obs {
		o.OnResponse(r)
	}
}

func (d *FakeDriver) Close() error { return nil }

var _ browser.Driver = (*FakeDriver)(nil)
