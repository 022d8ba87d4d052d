// Package monitor implements the change-detection cycle: fetch each
// active source, extract and fingerprint a content summary, classify
// real changes with the LLM, and persist results.
package monitor

import (
	"context"
	"time"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/finwatch/finwatch/pkg/model"
	"github.com/finwatch/finwatch/pkg/repository"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Fetcher is the page-fetch capability consumed by the cycle.
type Fetcher interface {
	FetchHTML(ctx context.Context, url string) ([]byte, error)
}

// ChangeEvent is the per-source outcome of a cycle where a change
// record was created, in source-iteration order.
type ChangeEvent struct {
	SourceName string
	Timestamp  time.Time
	URL        string
	Summary    string
}

// UseCase drives monitoring cycles.
type UseCase struct {
	repo       repository.Repository
	classifier *Classifier
	fetcher    Fetcher
	archive    adapter.Archive
	now        func() time.Time
}

type Option func(*UseCase)

// WithArchive enables raw-page snapshot archiving for detected changes.
func WithArchive(archive adapter.Archive) Option {
	return func(u *UseCase) {
		u.archive = archive
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

// New creates a monitoring UseCase. A nil llm is valid: changes are
// still detected and persisted, classified as Configuration Error.
func New(repo repository.Repository, llm adapter.LLM, fetcher Fetcher, opts ...Option) *UseCase {
	u := &UseCase{
		repo:       repo,
		classifier: NewClassifier(llm),
		fetcher:    fetcher,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// RunCycle checks every active source once, in listing order. Per-source
// failures are logged and skipped; the cycle itself only fails when the
// active-source listing cannot be read.
func (u *UseCase) RunCycle(ctx context.Context) ([]ChangeEvent, error) {
	sources, err := u.repo.GetActiveSources(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list active sources")
	}

	logger := logging.From(ctx)
	logger.Info("starting monitoring cycle", "sources", len(sources))

	var events []ChangeEvent
	for _, src := range sources {
		event, err := u.checkSource(ctx, src)
		if err != nil {
			logger.Warn("source check failed", "source", src.Name, "error", err)
			continue
		}
		if event != nil {
			events = append(events, *event)
		}
	}

	logger.Info("monitoring cycle finished", "changes", len(events))
	return events, nil
}

func (u *UseCase) checkSource(ctx context.Context, src *model.MonitoredSource) (*ChangeEvent, error) {
	logger := logging.From(ctx).With("source", src.Name)

	body, err := u.fetcher.FetchHTML(ctx, src.URL)
	if err != nil {
		// Recoverable: no state mutation, next source continues.
		logger.Info("skipping source, fetch failed", "error", err)
		return nil, nil
	}

	summary, err := ExtractSummary(body)
	if err != nil {
		logger.Info("skipping source, extraction failed", "error", err)
		return nil, nil
	}

	fingerprint := Fingerprint(summary)
	if fingerprint == src.LastFingerprint {
		logger.Debug("no change detected", "fingerprint", fingerprint)
		return nil, nil
	}

	prevSummary := src.LastSummary
	if src.LastFingerprint == "" {
		// First-ever check: classification runs against the sentinel and
		// produces a baseline change record.
		prevSummary = model.SentinelNoPriorSummary
	}

	logger.Info("change detected",
		"previous_fingerprint", src.LastFingerprint,
		"new_fingerprint", fingerprint)

	analysis := u.classifier.Classify(ctx, prevSummary, summary, src.Name)

	var event *ChangeEvent
	if analysis != nil {
		change := &model.DetectedChange{
			ID:              model.NewChangeID(),
			SourceID:        src.ID,
			PrevFingerprint: src.LastFingerprint,
			NewFingerprint:  fingerprint,
			Summary:         analysis.MainSummary,
			Analysis:        analysis,
			TextSnippet:     summary,
			URL:             src.URL,
			DetectedAt:      u.now(),
		}
		// Failing here leaves the stored fingerprint untouched so the
		// change is re-detected next cycle instead of lost.
		if err := u.repo.AddDetectedChange(ctx, change); err != nil {
			return nil, goerr.Wrap(err, "failed to persist detected change")
		}

		if u.archive != nil {
			if err := u.archive.SaveSnapshot(ctx, string(change.ID), body); err != nil {
				logger.Warn("failed to archive page snapshot", "error", err)
			}
		}

		event = &ChangeEvent{
			SourceName: src.Name,
			Timestamp:  change.DetectedAt,
			URL:        src.URL,
			Summary:    analysis.MainSummary,
		}
	}

	// State update happens whenever fingerprints differ, regardless of
	// classifier output, so identical content is not re-classified.
	if err := u.repo.UpdateSourceState(ctx, src.ID, fingerprint, summary, u.now()); err != nil {
		logger.Error("failed to update source state", "error", err)
	}

	return event, nil
}
