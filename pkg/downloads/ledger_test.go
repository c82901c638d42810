package downloads_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arnavsurve/stepwright/internal/testutil"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/downloads"
	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger() *downloads.Ledger {
	l := downloads.NewLedger(log.Nop(), nil)
	l.QuiesceTimeout = time.Second
	l.PollInterval = 10 * time.Millisecond
	l.PollTimeout = 200 * time.Millisecond
	return l
}

func TestLedger_OnResponseQueuesPDFs(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "pdf content type with filename",
			headers:  map[string]string{"content-type": "application/pdf", "content-disposition": `attachment; filename="q3.pdf"`},
			expected: "q3.pdf",
		},
		{
			name:     "encoded filename",
			headers:  map[string]string{"Content-Disposition": `attachment; filename*=UTF-8''statement.pdf`},
			expected: "statement.pdf",
		},
		{
			name:    "html page",
			headers: map[string]string{"content-type": "text/html"},
		},
		{
			name:    "csv attachment",
			headers: map[string]string{"content-disposition": `attachment; filename="data.csv"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger()
			l.OnResponse(&browser.Response{URL: "https://example.test/f", Status: 200, Headers: tt.headers})

			assert.Len(t, l.Captures(), 1, "every response is captured")
			pending := l.PendingURLs()
			if tt.expected == "" {
				assert.Empty(t, pending)
				return
			}
			require.Len(t, pending, 1)
			assert.Equal(t, tt.expected, pending[0].Filename)
			assert.Equal(t, "https://example.test/f", pending[0].URL)
		})
	}
}

func TestLedger_PDFWithoutFilenameGetsGeneratedName(t *testing.T) {
	l := newLedger()
	l.OnResponse(&browser.Response{URL: "https://example.test/doc", Headers: map[string]string{"content-type": "application/pdf"}})

	pending := l.PendingURLs()
	require.Len(t, pending, 1)
	assert.True(t, strings.HasSuffix(pending[0].Filename, ".pdf"))
	assert.Greater(t, len(pending[0].Filename), len(".pdf"))
}

func TestLedger_ClearCaptures(t *testing.T) {
	l := newLedger()
	l.OnResponse(&browser.Response{URL: "https://example.test/api"})
	l.ClearCaptures()
	assert.Empty(t, l.Captures())
}

func TestLedger_WaitQuiesced(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.WaitQuiesced(context.Background(), 10*time.Millisecond), "an idle ledger is quiesced")

	l.OnDownload(&testutil.FakeDownload{TempPath: "/tmp/slow", Delay: 150 * time.Millisecond})
	err := l.WaitQuiesced(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still in flight")

	require.NoError(t, l.WaitQuiesced(context.Background(), 2*time.Second))
}

func TestExpectDownload_DiscardsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	l := newLedger()
	driver := testutil.NewFakeDriver()
	driver.Download = &testutil.FakeDownload{TempPath: "/tmp/empty", Suggested: "report.pdf"}

	triggered := false
	path, err := l.ExpectDownload(context.Background(), driver, func() error {
		triggered = true
		return nil
	}, dir, "report-1")
	require.NoError(t, err)

	assert.True(t, triggered)
	assert.Empty(t, path)
	assert.Empty(t, l.Downloads())
	_, statErr := os.Stat(filepath.Join(dir, "report-1.pdf"))
	assert.True(t, os.IsNotExist(statErr), "the empty file is removed")
}

func TestExpectDownload_SuggestedExtensionAndCSVCleanup(t *testing.T) {
	dir := t.TempDir()
	l := newLedger()
	driver := testutil.NewFakeDriver()
	driver.Download = &testutil.FakeDownload{
		TempPath:  "/tmp/export",
		Suggested: "export.csv",
		Data:      []byte("<html><script>var x = 1;</script>ticker,price\nAAPL,1\n"),
	}

	path, err := l.ExpectDownload(context.Background(), driver, func() error { return nil }, dir, "prices")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prices.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ticker,price\nAAPL,1\n", string(data))
	assert.Equal(t, []string{path}, l.Downloads())

	// An explicit extension is kept.
	driver.Download = &testutil.FakeDownload{TempPath: "/tmp/other", Suggested: "x.bin", Data: []byte("x")}
	path, err = l.ExpectDownload(context.Background(), driver, func() error { return nil }, dir, "named.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "named.txt"), path)
}

func TestCleanCSV_LeavesOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	content := "<script>x</script>body"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, downloads.CleanCSV(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestLedger_TraversalInDispositionIsStripped(t *testing.T) {
	l := newLedger()
	l.OnResponse(&browser.Response{URL: "https://example.test/f", Headers: map[string]string{
		"content-disposition": `attachment; filename="../../etc/cron.d/x.pdf"`,
	}})

	pending := l.PendingURLs()
	require.Len(t, pending, 1)
	assert.Equal(t, "x.pdf", pending[0].Filename)
}

func TestSaveBytes_StaysInsideDir(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected string
	}{
		{name: "plain", filename: "q3.pdf", expected: "q3.pdf"},
		{name: "parent segments", filename: "../../q3.pdf", expected: "q3.pdf"},
		{name: "absolute", filename: "/etc/q3.pdf", expected: "q3.pdf"},
		{name: "backslashes", filename: `..\..\q3.pdf`, expected: "q3.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "downloads")
			l := newLedger()

			path, err := l.SaveBytes(dir, tt.filename, []byte("%PDF"), "pdf_url")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.expected), path)
		})
	}

	t.Run("unusable name gets a generated one", func(t *testing.T) {
		dir := t.TempDir()
		path, err := newLedger().SaveBytes(dir, "..", []byte("%PDF"), "pdf_url")
		require.NoError(t, err)
		assert.Equal(t, dir, filepath.Dir(path))
		assert.NotEqual(t, "..", filepath.Base(path))
	})
}

func TestExpectDownload_SuggestedNameCannotEscape(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	l := newLedger()
	driver := testutil.NewFakeDriver()
	driver.Download = &testutil.FakeDownload{TempPath: "/tmp/x", Suggested: "../../../evil.csv", Data: []byte("a,b\n")}

	path, err := l.ExpectDownload(context.Background(), driver, func() error { return nil }, dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "evil.csv"), path)
}
