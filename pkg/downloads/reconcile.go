package downloads

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 4

// Reconcile runs once at task end. It waits for background downloads to
// settle, saves the ones no action claimed, waits for expected files and then
// fetches every queued PDF URL through fetcher.
func (l *Ledger) Reconcile(ctx context.Context, fetcher browser.Fetcher, expected int, dir string) error {
	if err := l.WaitQuiesced(ctx, l.QuiesceTimeout); err != nil {
		if ctx.Err() != nil {
			return err
		}
		l.logger.Warn().Err(err).Msg("Continuing reconciliation with downloads in flight")
	}

	for temp, d := range l.unfinalized() {
		target, err := localPath(dir, d.SuggestedFilename(), uuid.NewString())
		if err != nil {
			l.logger.Error().Err(err).Str("temp_path", temp).Msg("Naming background download")
			l.metrics.RecordDownload("background", "failed")
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating downloads directory %q: %w", dir, err)
		}
		if err := d.SaveAs(target); err != nil {
			l.logger.Error().Err(err).Str("temp_path", temp).Msg("Saving background download")
			l.metrics.RecordDownload("background", "failed")
			continue
		}
		l.markFinalized(temp)
		if err := CleanCSV(target); err != nil {
			l.logger.Warn().Err(err).Str("path", target).Msg("Cleaning csv download")
		}
		l.keepIfValid(target, "background")
	}

	if err := l.waitForCount(ctx, expected); err != nil {
		return err
	}

	pending := l.PendingURLs()
	if len(pending) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, p := range pending {
		g.Go(func() error {
			data, err := fetcher.Fetch(gctx, p.URL)
			if err != nil {
				l.logger.Error().Err(err).Str("url", p.URL).Msg("Fetching queued PDF")
				l.metrics.RecordDownload("pending", "failed")
				return nil
			}
			if _, err := l.SaveBytes(dir, p.Filename, data, "pending"); err != nil {
				l.logger.Error().Err(err).Str("url", p.URL).Msg("Saving queued PDF")
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *Ledger) waitForCount(ctx context.Context, expected int) error {
	if expected <= 0 {
		return nil
	}
	deadline := time.Now().Add(l.PollTimeout)
	for {
		n := len(l.Downloads())
		if n >= expected {
			return nil
		}
		if time.Now().After(deadline) {
			l.logger.Warn().Int("expected", expected).Int("found", n).Msg("Expected downloads not reached")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
}
