package downloads

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/google/uuid"
)

var scriptClose = []byte("</script>")

// CleanCSV strips an HTML preamble some portals prepend to CSV exports by
// keeping only what follows the last </script>. Other files are untouched.
func CleanCSV(path string) error {
	if filepath.Ext(path) != ".csv" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading csv %q: %w", path, err)
	}
	i := bytes.LastIndex(data, scriptClose)
	if i < 0 {
		return nil
	}
	if err := os.WriteFile(path, data[i+len(scriptClose):], 0644); err != nil {
		return fmt.Errorf("writing cleaned csv %q: %w", path, err)
	}
	return nil
}

// cleanName reduces a file name taken from a page, a response header or an
// automation to its last path element. It returns "" for names that cannot
// be used.
func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

// localPath joins name onto dir and refuses anything that would land outside
// it. fallback replaces names cleanName rejects.
func localPath(dir, name, fallback string) (string, error) {
	base := cleanName(name)
	if base == "" {
		base = fallback
	}
	target := filepath.Join(dir, base)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("download name %q resolves outside %q", name, dir)
	}
	return target, nil
}

// keepIfValid discards path when it is missing or empty and records it as a
// download otherwise. It reports whether the file was kept.
func (l *Ledger) keepIfValid(path, source string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(path)
		l.logger.Info().Str("path", path).Str("source", source).Msg("Discarded invalid download (missing or empty)")
		l.metrics.RecordDownload(source, "discarded")
		return false
	}
	l.addDownload(path)
	l.metrics.RecordDownload(source, "saved")
	l.logger.Info().Str("path", path).Str("source", source).Msg("Saved download")
	return true
}

// ExpectDownload runs trigger, waits for the download it starts and saves it
// as dir/filename. The suggested name is used when filename is empty, and its
// extension when filename has none.
// It returns the saved path, or "" when the file was discarded.
func (l *Ledger) ExpectDownload(ctx context.Context, driver browser.Driver, trigger func() error, dir, filename string) (string, error) {
	d, err := driver.ExpectDownload(ctx, trigger)
	if err != nil {
		return "", fmt.Errorf("waiting for download: %w", err)
	}
	temp, pathErr := d.Path()
	if pathErr != nil {
		l.logger.Warn().Err(pathErr).Msg("Resolving expected download path")
	}

	suggested := cleanName(d.SuggestedFilename())
	switch {
	case filename == "":
		filename = suggested
	case filepath.Ext(filename) == "":
		filename += filepath.Ext(suggested)
	}
	target, err := localPath(dir, filename, uuid.NewString()+filepath.Ext(suggested))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating downloads directory %q: %w", dir, err)
	}
	if err := d.SaveAs(target); err != nil {
		return "", fmt.Errorf("saving download to %q: %w", target, err)
	}
	// A download is finalized only once saved; Reconcile retries the others.
	if pathErr == nil {
		l.markFinalized(temp)
	}
	if err := CleanCSV(target); err != nil {
		l.logger.Warn().Err(err).Str("path", target).Msg("Cleaning csv download")
	}
	if !l.keepIfValid(target, "expect") {
		return "", nil
	}
	return target, nil
}

// SaveBytes writes data as dir/filename and keeps it when non-empty. Only the
// last element of filename is used.
func (l *Ledger) SaveBytes(dir, filename string, data []byte, source string) (string, error) {
	target, err := localPath(dir, filename, uuid.NewString()+filepath.Ext(cleanName(filename)))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating downloads directory %q: %w", dir, err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("writing download %q: %w", target, err)
	}
	if !l.keepIfValid(target, source) {
		return "", nil
	}
	return target, nil
}
