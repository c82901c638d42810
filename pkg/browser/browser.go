// Package browser defines the driver contract the engine executes against and
// its playwright-go implementation.
package browser

import (
	"context"
	"time"
)

// State is a point-in-time view of the active page.
type State struct {
	URL        string
	Title      string
	Screenshot []byte
	Axtree     string
}

// Option is one entry of a <select> element.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Download is a file the browser is saving.
type Download interface {
	// Path blocks until the download completes and returns its temp path.
	Path() (string, error)
	SuggestedFilename() string
	SaveAs(path string) error
}

// Response is a captured network response. Body is read lazily.
type Response struct {
	URL     string
	Status  int
	Headers map[string]string
	Body    func() ([]byte, error)
}

// Observer receives background browser events from every page.
type Observer interface {
	OnDownload(d Download)
	OnResponse(r *Response)
}

// Locator is an element handle resolved from a command string.
type Locator interface {
	WaitVisible(timeout time.Duration) error
	IsVisible() (bool, error)
	Click() error
	DoubleClick() error
	Fill(text string) error
	Type(text string) error
	Press(key string) error
	Options() ([]Option, error)
	SelectOptions(values []string) error
	Check() error
	Uncheck() error
	SetFiles(paths []string) error
}

// Fetcher downloads a URL with the browser's cookies.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Driver is everything the engine needs from a browser.
type Driver interface {
	Fetcher

	// Locate resolves command on the active page. Actions on the returned
	// locator give up after timeout.
	Locate(command string, timeout time.Duration) (Locator, error)
	Snapshot(ctx context.Context) (*State, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// Index based actions target elements by the number assigned in the
	// accessibility tree returned from Snapshot.
	ClickIndex(ctx context.Context, index int, timeout time.Duration) error
	InputIndex(ctx context.Context, index int, text string, timeout time.Duration) error
	UploadIndex(ctx context.Context, index int, paths []string, timeout time.Duration) error
	OptionsIndex(ctx context.Context, index int, timeout time.Duration) ([]Option, error)
	SelectIndex(ctx context.Context, index int, values []string, timeout time.Duration) error

	// ExpectDownload runs trigger and waits for the download it starts.
	ExpectDownload(ctx context.Context, trigger func() error) (Download, error)

	GoTo(ctx context.Context, url string, newTab bool) error
	GoBack(ctx context.Context) error
	WaitForNewTab(ctx context.Context, wait time.Duration) (bool, error)
	SwitchTab(ctx context.Context, index int) error
	CloseCurrentTab(ctx context.Context) error
	CloseAllButLastTab(ctx context.Context) error
	CloseTabsUntil(ctx context.Context, matchingURL string, index *int) error
	KeyPress(ctx context.Context, key string) error
	Scroll(ctx context.Context, down bool) error
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	CurrentURL() string

	Observe(o Observer)
	Close() error
}
