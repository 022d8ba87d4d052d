// Package repository persists monitored sources, the detected-change
// log, and enquiries. SQLite is the primary backend; Firestore is
// available for deployments that already run on Google Cloud.
package repository

import (
	"context"
	"time"

	"github.com/finwatch/finwatch/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var ErrNotFound = goerr.New("record not found")

// Repository is the storage contract consumed by the monitoring and
// enquiry cycles.
type Repository interface {
	// PutSource inserts or updates a monitored source by ID.
	PutSource(ctx context.Context, src *model.MonitoredSource) error

	// ListSources returns all sources ordered by name.
	ListSources(ctx context.Context) ([]*model.MonitoredSource, error)

	// GetActiveSources returns active sources ordered by name. The
	// ordering fixes the iteration order of a monitoring cycle.
	GetActiveSources(ctx context.Context) ([]*model.MonitoredSource, error)

	// UpdateSourceState stores the latest fingerprint, summary and
	// check time for a source.
	UpdateSourceState(ctx context.Context, id model.SourceID, fingerprint, summary string, checkedAt time.Time) error

	// AddDetectedChange appends one entry to the change log.
	AddDetectedChange(ctx context.Context, change *model.DetectedChange) error

	// ListChanges returns the most recent changes, newest first.
	ListChanges(ctx context.Context, limit int) ([]*model.DetectedChange, error)

	// PutEnquiry inserts or updates an enquiry by ID.
	PutEnquiry(ctx context.Context, e *model.Enquiry) error

	// GetEnquiry retrieves an enquiry by ID.
	GetEnquiry(ctx context.Context, id model.EnquiryID) (*model.Enquiry, error)

	// ListEnquiries returns the most recent enquiries, newest first.
	ListEnquiries(ctx context.Context, limit int) ([]*model.Enquiry, error)

	// SearchVerifiedEnquiries returns verified enquiries whose keyword
	// set overlaps the given keywords, ranked by usage count descending
	// then most recently asked, capped at 5.
	SearchVerifiedEnquiries(ctx context.Context, keywords []string) ([]*model.Enquiry, error)

	// IncrementUsageCount applies an atomic relative +1 to the usage
	// count of an enquiry. Never read-modify-write.
	IncrementUsageCount(ctx context.Context, id model.EnquiryID) error

	// SetEnquiryVerified marks an enquiry as reviewed (or revokes it).
	SetEnquiryVerified(ctx context.Context, id model.EnquiryID, verified bool) error

	Close() error
}

// searchResultLimit caps SearchVerifiedEnquiries results.
const searchResultLimit = 5
