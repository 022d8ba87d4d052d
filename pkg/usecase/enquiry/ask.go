package enquiry

import (
	"context"
	"fmt"
	"time"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/finwatch/finwatch/pkg/model"
	"github.com/finwatch/finwatch/pkg/repository"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase answers user questions: cache first, synthesis on a miss.
type UseCase struct {
	repo  repository.Repository
	synth *Synthesizer
	now   func() time.Time
}

type Option func(*UseCase)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

// New creates an enquiry UseCase. A nil llm is valid: questions are
// still logged and answered with the error placeholder.
func New(repo repository.Repository, llm adapter.LLM, fetcher Fetcher, opts ...Option) *UseCase {
	u := &UseCase{
		repo:  repo,
		synth: NewSynthesizer(llm, fetcher),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Ask resolves one question and returns its persisted enquiry record.
// Every call produces exactly one new row, cache hits included. The
// only fatal failure is being unable to write the initial pending row;
// everything after that degrades rather than aborts.
func (u *UseCase) Ask(ctx context.Context, question string) (*model.Enquiry, error) {
	logger := logging.From(ctx)

	e := &model.Enquiry{
		ID:             model.NewEnquiryID(),
		QuestionText:   question,
		Keywords:       ExtractKeywords(question),
		SourceOfAnswer: model.AnswerSourcePending,
		AskedAt:        u.now(),
	}
	if err := u.repo.PutEnquiry(ctx, e); err != nil {
		return nil, goerr.Wrap(err, "failed to record enquiry", goerr.V("question", question))
	}

	if hit := u.lookupCache(ctx, e.Keywords); hit != nil {
		logger.Info("answering from verified cache", "template_id", hit.ID)
		if err := u.repo.IncrementUsageCount(ctx, hit.ID); err != nil {
			logger.Warn("failed to increment usage count", "template_id", hit.ID, "error", err)
		}
		e.GeneratedAnswer = hit.GeneratedAnswer
		e.IdentifiedURLs = hit.IdentifiedURLs
		e.SourceOfAnswer = model.AnswerSourceCacheHit(hit.ID)
	} else {
		u.resolveLive(ctx, e, question)
	}

	// The resolved update is best-effort: the user already has the
	// answer, a stale pending row only costs a re-synthesis later.
	if err := u.repo.PutEnquiry(ctx, e); err != nil {
		logger.Warn("failed to update resolved enquiry", "id", e.ID, "error", err)
	}

	return e, nil
}

// lookupCache returns the best verified prior enquiry for the keyword
// set, or nil on a miss. A failed read counts as a miss: recomputing an
// answer is always safe, serving nothing is not.
func (u *UseCase) lookupCache(ctx context.Context, keywords []string) *model.Enquiry {
	if len(keywords) == 0 {
		return nil
	}
	candidates, err := u.repo.SearchVerifiedEnquiries(ctx, keywords)
	if err != nil {
		logging.From(ctx).Warn("cache lookup failed, falling back to synthesis", "error", err)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

func (u *UseCase) resolveLive(ctx context.Context, e *model.Enquiry, question string) {
	disc := u.synth.Discover(ctx, question)
	e.IdentifiedURLs = disc.URLs

	texts := u.synth.FetchSources(ctx, disc.URLs)
	e.GeneratedAnswer = u.synth.Synthesize(ctx, question, disc.Answer, texts)
	e.FetchedContentSummary = fetchDigest(disc.URLs, texts)

	switch {
	case disc.Failed:
		e.SourceOfAnswer = model.AnswerSourceError
	case len(texts) > 0:
		e.SourceOfAnswer = model.AnswerSourceLiveContent
	default:
		e.SourceOfAnswer = model.AnswerSourceLiveGeneral
	}
}

func fetchDigest(urls []string, texts []string) string {
	if len(urls) == 0 {
		return "no candidate urls identified"
	}
	attempted := len(urls)
	if attempted > maxFetchURLs {
		attempted = maxFetchURLs
	}
	total := 0
	for _, t := range texts {
		total += len([]rune(t))
	}
	return fmt.Sprintf("fetched %d of %d candidate urls (%d chars of content)", len(texts), attempted, total)
}
