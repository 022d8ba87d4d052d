package monitor_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/finwatch/finwatch/pkg/model"
	"github.com/finwatch/finwatch/pkg/repository"
	"github.com/finwatch/finwatch/pkg/usecase/monitor"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

// memRepo is an in-memory repository.Repository for cycle tests.
type memRepo struct {
	sources   map[model.SourceID]*model.MonitoredSource
	changes   []*model.DetectedChange
	enquiries map[model.EnquiryID]*model.Enquiry

	failAddChange  error
	failGetSources error
}

func newMemRepo() *memRepo {
	return &memRepo{
		sources:   map[model.SourceID]*model.MonitoredSource{},
		enquiries: map[model.EnquiryID]*model.Enquiry{},
	}
}

func (r *memRepo) PutSource(ctx context.Context, src *model.MonitoredSource) error {
	cp := *src
	r.sources[src.ID] = &cp
	return nil
}

func (r *memRepo) ListSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	var out []*model.MonitoredSource
	for _, src := range r.sources {
		cp := *src
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) GetActiveSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	if r.failGetSources != nil {
		return nil, r.failGetSources
	}
	all, _ := r.ListSources(ctx)
	var out []*model.MonitoredSource
	for _, src := range all {
		if src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateSourceState(ctx context.Context, id model.SourceID, fingerprint, summary string, checkedAt time.Time) error {
	src, ok := r.sources[id]
	if !ok {
		return repository.ErrNotFound
	}
	src.LastFingerprint = fingerprint
	src.LastSummary = summary
	src.LastCheckedAt = &checkedAt
	return nil
}

func (r *memRepo) AddDetectedChange(ctx context.Context, change *model.DetectedChange) error {
	if r.failAddChange != nil {
		return r.failAddChange
	}
	cp := *change
	r.changes = append(r.changes, &cp)
	return nil
}

func (r *memRepo) ListChanges(ctx context.Context, limit int) ([]*model.DetectedChange, error) {
	out := make([]*model.DetectedChange, len(r.changes))
	copy(out, r.changes)
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) PutEnquiry(ctx context.Context, e *model.Enquiry) error {
	cp := *e
	r.enquiries[e.ID] = &cp
	return nil
}

func (r *memRepo) GetEnquiry(ctx context.Context, id model.EnquiryID) (*model.Enquiry, error) {
	e, ok := r.enquiries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) ListEnquiries(ctx context.Context, limit int) ([]*model.Enquiry, error) {
	var out []*model.Enquiry
	for _, e := range r.enquiries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AskedAt.After(out[j].AskedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SearchVerifiedEnquiries(ctx context.Context, keywords []string) ([]*model.Enquiry, error) {
	want := map[string]bool{}
	for _, k := range keywords {
		want[k] = true
	}
	var out []*model.Enquiry
	for _, e := range r.enquiries {
		if !e.Verified {
			continue
		}
		for _, k := range e.Keywords {
			if want[k] {
				cp := *e
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].AskedAt.After(out[j].AskedAt)
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out, nil
}

func (r *memRepo) IncrementUsageCount(ctx context.Context, id model.EnquiryID) error {
	e, ok := r.enquiries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.UsageCount++
	return nil
}

func (r *memRepo) SetEnquiryVerified(ctx context.Context, id model.EnquiryID, verified bool) error {
	e, ok := r.enquiries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Verified = verified
	return nil
}

func (r *memRepo) Close() error { return nil }

// mockFetcher serves canned pages by URL.
type mockFetcher struct {
	pages map[string][]byte
	errs  map[string]error
}

func (f *mockFetcher) FetchHTML(ctx context.Context, url string) ([]byte, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, goerr.New("no such page", goerr.V("url", url))
	}
	return body, nil
}

func (f *mockFetcher) FetchReadable(ctx context.Context, url string) (string, error) {
	body, err := f.FetchHTML(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func addSource(t *testing.T, repo *memRepo, name, url string) model.SourceID {
	t.Helper()
	src := &model.MonitoredSource{
		ID:     model.NewSourceID(),
		Name:   name,
		URL:    url,
		Active: true,
	}
	gt.NoError(t, repo.PutSource(context.Background(), src))
	return src.ID
}

func TestRunCycleFirstCheckCreatesBaseline(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	id := addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	llm := &mockLLM{jsonResponse: validClassifyJSON}

	uc := monitor.New(repo, llm, fetcher)
	events := gt.R1(uc.RunCycle(ctx)).NoError(t)

	gt.A(t, events).Length(1)
	gt.V(t, events[0].SourceName).Equal("HMRC_Tax_Updates")

	// The first check produces a baseline change record against no prior
	// state, so a brand-new source is still reported.
	gt.A(t, repo.changes).Length(1)
	change := repo.changes[0]
	gt.V(t, change.PrevFingerprint).Equal("")
	gt.V(t, change.TextSnippet).Equal("Title: HMRC Update - Snippet: No changes today....")
	gt.S(t, llm.jsonPrompts[0]).Contains(model.SentinelNoPriorSummary)

	src := repo.sources[id]
	gt.V(t, src.LastFingerprint).Equal(change.NewFingerprint)
	gt.V(t, src.LastSummary).Equal(change.TextSnippet)
	gt.V(t, src.LastCheckedAt).NotNil()
}

func TestRunCycleUnchangedContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	id := addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	llm := &mockLLM{jsonResponse: validClassifyJSON}
	uc := monitor.New(repo, llm, fetcher)

	gt.R1(uc.RunCycle(ctx)).NoError(t)
	checkedAt := *repo.sources[id].LastCheckedAt

	events := gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.A(t, events).Length(0)
	gt.A(t, repo.changes).Length(1)

	// No LLM call, no state rewrite on the second pass.
	gt.A(t, llm.jsonPrompts).Length(1)
	gt.V(t, *repo.sources[id].LastCheckedAt).Equal(checkedAt)
}

func TestRunCycleDetectsContentChange(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	id := addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	llm := &mockLLM{jsonResponse: validClassifyJSON}
	uc := monitor.New(repo, llm, fetcher)
	gt.R1(uc.RunCycle(ctx)).NoError(t)

	fetcher.pages["https://hmrc.example/updates"] = []byte("<h1>HMRC Update</h1><p>Income tax bands adjusted.</p>")
	events := gt.R1(uc.RunCycle(ctx)).NoError(t)

	gt.A(t, events).Length(1)
	gt.V(t, events[0].Summary).Equal("Potential changes to income tax bands identified.")

	gt.A(t, repo.changes).Length(2)
	change := repo.changes[1]
	gt.V(t, change.PrevFingerprint).Equal(repo.changes[0].NewFingerprint)
	gt.V(t, change.NewFingerprint).NotEqual(change.PrevFingerprint)
	gt.V(t, repo.sources[id].LastFingerprint).Equal(change.NewFingerprint)
	gt.V(t, repo.sources[id].LastSummary).Equal("Title: HMRC Update - Snippet: Income tax bands adjusted....")
}

func TestRunCycleFetchFailureSkipsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	brokenID := addSource(t, repo, "FCA_Regulations", "https://fca.example/handbook")
	addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{
		pages: map[string][]byte{
			"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
		},
		errs: map[string]error{
			"https://fca.example/handbook": goerr.New("connection refused"),
		},
	}
	uc := monitor.New(repo, &mockLLM{jsonResponse: validClassifyJSON}, fetcher)

	events := gt.R1(uc.RunCycle(ctx)).NoError(t)

	// The failing source is skipped, the healthy one still processed.
	gt.A(t, events).Length(1)
	gt.V(t, events[0].SourceName).Equal("HMRC_Tax_Updates")
	gt.V(t, repo.sources[brokenID].LastFingerprint).Equal("")
	gt.V(t, repo.sources[brokenID].LastCheckedAt).Nil()
}

func TestRunCycleEventsFollowSourceOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	addSource(t, repo, "UK_Treasury_News", "https://treasury.example/news")
	addSource(t, repo, "FCA_Regulations", "https://fca.example/handbook")
	addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://treasury.example/news": []byte("<h1>Treasury</h1><p>Budget date announced.</p>"),
		"https://fca.example/handbook":  []byte("<h1>FCA Handbook</h1><p>New guidance published.</p>"),
		"https://hmrc.example/updates":  []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	uc := monitor.New(repo, &mockLLM{jsonResponse: validClassifyJSON}, fetcher)

	events := gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.A(t, events).Length(3)
	gt.V(t, events[0].SourceName).Equal("FCA_Regulations")
	gt.V(t, events[1].SourceName).Equal("HMRC_Tax_Updates")
	gt.V(t, events[2].SourceName).Equal("UK_Treasury_News")
}

func TestRunCyclePersistFailureKeepsStateForRetry(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	id := addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")
	repo.failAddChange = goerr.New("disk full")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	uc := monitor.New(repo, &mockLLM{jsonResponse: validClassifyJSON}, fetcher)

	events := gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.A(t, events).Length(0)
	gt.A(t, repo.changes).Length(0)

	// The fingerprint stays empty so the change is re-detected once the
	// store recovers.
	gt.V(t, repo.sources[id].LastFingerprint).Equal("")

	repo.failAddChange = nil
	events = gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.A(t, events).Length(1)
	gt.A(t, repo.changes).Length(1)
}

func TestRunCycleWithoutLLMRecordsConfigurationError(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	id := addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	uc := monitor.New(repo, nil, fetcher)

	events := gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.A(t, events).Length(1)
	gt.A(t, repo.changes).Length(1)
	gt.V(t, repo.changes[0].Analysis.ChangeType).Equal(model.ChangeTypeConfigurationError)
	gt.V(t, repo.sources[id].LastFingerprint).NotEqual("")
}

func TestRunCycleSourceListingFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failGetSources = goerr.New("database locked")

	uc := monitor.New(repo, &mockLLM{}, &mockFetcher{})
	_, err := uc.RunCycle(context.Background())
	gt.Error(t, err)
}

func TestRunCycleArchivesSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	addSource(t, repo, "HMRC_Tax_Updates", "https://hmrc.example/updates")

	fetcher := &mockFetcher{pages: map[string][]byte{
		"https://hmrc.example/updates": []byte("<h1>HMRC Update</h1><p>No changes today.</p>"),
	}}
	archive := &mockArchive{snapshots: map[string][]byte{}}
	uc := monitor.New(repo, &mockLLM{jsonResponse: validClassifyJSON}, fetcher, monitor.WithArchive(archive))

	gt.R1(uc.RunCycle(ctx)).NoError(t)
	gt.V(t, len(archive.snapshots)).Equal(1)
	for _, body := range archive.snapshots {
		gt.S(t, string(body)).Contains("HMRC Update")
	}
}

type mockArchive struct {
	snapshots map[string][]byte
}

func (a *mockArchive) SaveSnapshot(ctx context.Context, key string, body []byte) error {
	a.snapshots[key] = body
	return nil
}
