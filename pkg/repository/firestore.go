package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/finwatch/finwatch/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionSources   = "sources"
	collectionChanges   = "detected_changes"
	collectionEnquiries = "enquiries"
)

// Firestore implements Repository on Cloud Firestore for deployments
// that already run on Google Cloud. Keyword-overlap search uses
// array-contains-any, which caps the query keyword set at 10.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the given project/database.
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

type sourceDoc struct {
	Name            string     `firestore:"name"`
	URL             string     `firestore:"url"`
	Active          bool       `firestore:"active"`
	LastFingerprint string     `firestore:"last_fingerprint"`
	LastSummary     string     `firestore:"last_summary"`
	LastCheckedAt   *time.Time `firestore:"last_checked_at"`
}

type changeDoc struct {
	SourceID        string                `firestore:"source_id"`
	PrevFingerprint string                `firestore:"prev_fingerprint"`
	NewFingerprint  string                `firestore:"new_fingerprint"`
	Summary         string                `firestore:"summary"`
	Analysis        *model.ChangeAnalysis `firestore:"analysis"`
	TextSnippet     string                `firestore:"text_snippet"`
	URL             string                `firestore:"url"`
	DetectedAt      time.Time             `firestore:"detected_at"`
}

type enquiryDoc struct {
	QuestionText          string    `firestore:"question_text"`
	Keywords              []string  `firestore:"keywords"`
	GeneratedAnswer       string    `firestore:"generated_answer"`
	IdentifiedURLs        []string  `firestore:"identified_urls"`
	FetchedContentSummary string    `firestore:"fetched_content_summary"`
	SourceOfAnswer        string    `firestore:"source_of_answer"`
	Verified              bool      `firestore:"verified"`
	UsageCount            int       `firestore:"usage_count"`
	AskedAt               time.Time `firestore:"asked_at"`
}

func (r *Firestore) PutSource(ctx context.Context, src *model.MonitoredSource) error {
	doc := &sourceDoc{
		Name:            src.Name,
		URL:             src.URL,
		Active:          src.Active,
		LastFingerprint: src.LastFingerprint,
		LastSummary:     src.LastSummary,
		LastCheckedAt:   src.LastCheckedAt,
	}
	if _, err := r.client.Collection(collectionSources).Doc(string(src.ID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put source", goerr.V("source_id", src.ID))
	}
	return nil
}

func (r *Firestore) ListSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	query := r.client.Collection(collectionSources).OrderBy("name", firestore.Asc)
	return r.collectSources(ctx, query.Documents(ctx))
}

func (r *Firestore) GetActiveSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	query := r.client.Collection(collectionSources).
		Where("active", "==", true).
		OrderBy("name", firestore.Asc)
	return r.collectSources(ctx, query.Documents(ctx))
}

func (r *Firestore) collectSources(ctx context.Context, iter *firestore.DocumentIterator) ([]*model.MonitoredSource, error) {
	defer iter.Stop()

	var sources []*model.MonitoredSource
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate sources")
		}
		var doc sourceDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode source document", goerr.V("doc_id", snap.Ref.ID))
		}
		sources = append(sources, &model.MonitoredSource{
			ID:              model.SourceID(snap.Ref.ID),
			Name:            doc.Name,
			URL:             doc.URL,
			Active:          doc.Active,
			LastFingerprint: doc.LastFingerprint,
			LastSummary:     doc.LastSummary,
			LastCheckedAt:   doc.LastCheckedAt,
		})
	}
	return sources, nil
}

func (r *Firestore) UpdateSourceState(ctx context.Context, id model.SourceID, fingerprint, summary string, checkedAt time.Time) error {
	_, err := r.client.Collection(collectionSources).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "last_fingerprint", Value: fingerprint},
		{Path: "last_summary", Value: summary},
		{Path: "last_checked_at", Value: checkedAt},
	})
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(ErrNotFound, "source not found", goerr.V("source_id", id))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to update source state", goerr.V("source_id", id))
	}
	return nil
}

func (r *Firestore) AddDetectedChange(ctx context.Context, change *model.DetectedChange) error {
	doc := &changeDoc{
		SourceID:        string(change.SourceID),
		PrevFingerprint: change.PrevFingerprint,
		NewFingerprint:  change.NewFingerprint,
		Summary:         change.Summary,
		Analysis:        change.Analysis,
		TextSnippet:     change.TextSnippet,
		URL:             change.URL,
		DetectedAt:      change.DetectedAt,
	}
	if _, err := r.client.Collection(collectionChanges).Doc(string(change.ID)).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add detected change", goerr.V("change_id", change.ID))
	}
	return nil
}

func (r *Firestore) ListChanges(ctx context.Context, limit int) ([]*model.DetectedChange, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := r.client.Collection(collectionChanges).
		OrderBy("detected_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var changes []*model.DetectedChange
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate detected changes")
		}
		var doc changeDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode change document", goerr.V("doc_id", snap.Ref.ID))
		}
		changes = append(changes, &model.DetectedChange{
			ID:              model.ChangeID(snap.Ref.ID),
			SourceID:        model.SourceID(doc.SourceID),
			PrevFingerprint: doc.PrevFingerprint,
			NewFingerprint:  doc.NewFingerprint,
			Summary:         doc.Summary,
			Analysis:        doc.Analysis,
			TextSnippet:     doc.TextSnippet,
			URL:             doc.URL,
			DetectedAt:      doc.DetectedAt,
		})
	}
	return changes, nil
}

func (r *Firestore) PutEnquiry(ctx context.Context, e *model.Enquiry) error {
	ref := r.client.Collection(collectionEnquiries).Doc(string(e.ID))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := &enquiryDoc{
			QuestionText:          e.QuestionText,
			Keywords:              e.Keywords,
			GeneratedAnswer:       e.GeneratedAnswer,
			IdentifiedURLs:        e.IdentifiedURLs,
			FetchedContentSummary: e.FetchedContentSummary,
			SourceOfAnswer:        e.SourceOfAnswer,
			Verified:              e.Verified,
			UsageCount:            e.UsageCount,
			AskedAt:               e.AskedAt,
		}

		// Review state and the usage counter belong to SetEnquiryVerified
		// and IncrementUsageCount; updating an existing enquiry must not
		// overwrite them, matching the relational upsert.
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing enquiryDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			doc.Verified = existing.Verified
			doc.UsageCount = existing.UsageCount
		}

		return tx.Set(ref, doc)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put enquiry", goerr.V("enquiry_id", e.ID))
	}
	return nil
}

func (r *Firestore) GetEnquiry(ctx context.Context, id model.EnquiryID) (*model.Enquiry, error) {
	snap, err := r.client.Collection(collectionEnquiries).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get enquiry", goerr.V("enquiry_id", id))
	}
	return decodeEnquiry(snap)
}

func (r *Firestore) ListEnquiries(ctx context.Context, limit int) ([]*model.Enquiry, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := r.client.Collection(collectionEnquiries).
		OrderBy("asked_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	return collectEnquiryDocs(iter)
}

func (r *Firestore) SearchVerifiedEnquiries(ctx context.Context, keywords []string) ([]*model.Enquiry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	// array-contains-any accepts at most 10 values.
	if len(keywords) > 10 {
		keywords = keywords[:10]
	}

	iter := r.client.Collection(collectionEnquiries).
		Where("verified", "==", true).
		Where("keywords", "array-contains-any", keywords).
		OrderBy("usage_count", firestore.Desc).
		OrderBy("asked_at", firestore.Desc).
		Limit(searchResultLimit).
		Documents(ctx)
	return collectEnquiryDocs(iter)
}

func (r *Firestore) IncrementUsageCount(ctx context.Context, id model.EnquiryID) error {
	_, err := r.client.Collection(collectionEnquiries).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "usage_count", Value: firestore.Increment(1)},
	})
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to increment usage count", goerr.V("enquiry_id", id))
	}
	return nil
}

func (r *Firestore) SetEnquiryVerified(ctx context.Context, id model.EnquiryID, verified bool) error {
	_, err := r.client.Collection(collectionEnquiries).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "verified", Value: verified},
	})
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to set enquiry verified", goerr.V("enquiry_id", id))
	}
	return nil
}

func decodeEnquiry(snap *firestore.DocumentSnapshot) (*model.Enquiry, error) {
	var doc enquiryDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode enquiry document", goerr.V("doc_id", snap.Ref.ID))
	}
	return &model.Enquiry{
		ID:                    model.EnquiryID(snap.Ref.ID),
		QuestionText:          doc.QuestionText,
		Keywords:              doc.Keywords,
		GeneratedAnswer:       doc.GeneratedAnswer,
		IdentifiedURLs:        doc.IdentifiedURLs,
		FetchedContentSummary: doc.FetchedContentSummary,
		SourceOfAnswer:        doc.SourceOfAnswer,
		Verified:              doc.Verified,
		UsageCount:            doc.UsageCount,
		AskedAt:               doc.AskedAt,
	}, nil
}

func collectEnquiryDocs(iter *firestore.DocumentIterator) ([]*model.Enquiry, error) {
	defer iter.Stop()

	var enquiries []*model.Enquiry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate enquiries")
		}
		e, err := decodeEnquiry(snap)
		if err != nil {
			return nil, err
		}
		enquiries = append(enquiries, e)
	}
	return enquiries, nil
}
