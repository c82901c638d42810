// Package downloads reconciles files the browser saves on its own with the
// ones an action explicitly waits for, and records network responses.
package downloads

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/google/uuid"
)

var dispositionFilenameRe = regexp.MustCompile(`filename\*?=(?:UTF-8'')?"?([^";]+)"?`)

type rawCapture struct {
	finalized bool
	download  browser.Download
}

// Pending is a PDF response seen on the wire that still has to be fetched.
type Pending struct {
	URL      string
	Filename string
}

// Ledger is shared between background observers and the interpreter. All
// state is guarded by mu.
type Ledger struct {
	mu        sync.Mutex
	raw       map[string]*rawCapture
	order     []string
	inFlight  int
	quiesced  chan struct{}
	pending   []Pending
	finalized []string
	captures  []*browser.Response

	logger  types.Logger
	metrics *metrics.Collector

	QuiesceTimeout time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

func NewLedger(logger types.Logger, m *metrics.Collector) *Ledger {
	q := make(chan struct{})
	close(q)
	return &Ledger{
		raw:            map[string]*rawCapture{},
		quiesced:       q,
		logger:         logger,
		metrics:        m,
		QuiesceTimeout: 30 * time.Second,
		PollInterval:   time.Second,
		PollTimeout:    30 * time.Second,
	}
}

func (l *Ledger) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight == 0 {
		l.quiesced = make(chan struct{})
	}
	l.inFlight++
}

func (l *Ledger) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	if l.inFlight == 0 {
		close(l.quiesced)
	}
}

// OnDownload records a download the page started. The temp path is resolved
// in the background; the ledger is not quiesced until it is.
func (l *Ledger) OnDownload(d browser.Download) {
	l.begin()
	go func() {
		defer l.end()
		path, err := d.Path()
		if err != nil {
			l.logger.Error().Err(err).Str("suggested_filename", d.SuggestedFilename()).Msg("Resolving download path")
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.raw[path]; !ok {
			l.raw[path] = &rawCapture{download: d}
			l.order = append(l.order, path)
		}
	}()
}

// OnResponse captures every response and queues PDF-like ones for fetching.
func (l *Ledger) OnResponse(r *browser.Response) {
	l.begin()
	defer l.end()

	filename, ok := pdfFilename(r.Headers)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.captures = append(l.captures, r)
	if ok {
		l.pending = append(l.pending, Pending{URL: r.URL, Filename: filename})
		l.logger.Info().Str("url", r.URL).Str("filename", filename).Msg("Queued PDF response for download")
	}
}

// pdfFilename reports whether the headers describe a PDF and the filename to
// store it under.
func pdfFilename(headers map[string]string) (string, bool) {
	contentType := strings.ToLower(header(headers, "content-type"))
	disposition := header(headers, "content-disposition")

	var name string
	if m := dispositionFilenameRe.FindStringSubmatch(disposition); m != nil {
		name = cleanName(m[1])
	}
	isPDF := strings.Contains(contentType, "application/pdf") ||
		(strings.Contains(strings.ToLower(disposition), "attachment") && strings.HasSuffix(strings.ToLower(name), ".pdf"))
	if !isPDF {
		return "", false
	}
	if name == "" {
		name = uuid.NewString() + ".pdf"
	}
	return name, true
}

func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// WaitQuiesced blocks until no download is being resolved or timeout passes.
func (l *Ledger) WaitQuiesced(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	q := l.quiesced
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q:
		return nil
	case <-timer.C:
		return fmt.Errorf("downloads still in flight after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) markFinalized(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.raw[path]; ok {
		c.finalized = true
		c.download = nil
		return
	}
	l.raw[path] = &rawCapture{finalized: true}
	l.order = append(l.order, path)
}

func (l *Ledger) addDownload(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized = append(l.finalized, path)
}

// Downloads returns the saved file paths in the order they were finalized.
func (l *Ledger) Downloads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.finalized...)
}

// PendingURLs returns the PDF responses queued so far.
func (l *Ledger) PendingURLs() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Pending(nil), l.pending...)
}

// Captures returns the responses recorded since the last ClearCaptures.
func (l *Ledger) Captures() []*browser.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*browser.Response(nil), l.captures...)
}

// ClearCaptures drops recorded responses. It is called before every
// interaction so network_call steps only see what that interaction caused.
func (l *Ledger) ClearCaptures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.captures = nil
}

func (l *Ledger) unfinalized() map[string]browser.Download {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]browser.Download{}
	for _, path := range l.order {
		c := l.raw[path]
		if !c.finalized && c.download != nil {
			out[path] = c.download
		}
	}
	return out
}
