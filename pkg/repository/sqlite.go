package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finwatch/finwatch/pkg/model"
	"github.com/m-mizutani/goerr/v2"

	_ "modernc.org/sqlite"
)

// schema is applied on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL UNIQUE,
    url              TEXT NOT NULL,
    active           INTEGER NOT NULL DEFAULT 1,
    last_fingerprint TEXT NOT NULL DEFAULT '',
    last_summary     TEXT NOT NULL DEFAULT '',
    last_checked_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(active, name);

CREATE TABLE IF NOT EXISTS detected_changes (
    id                TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES sources(id),
    prev_fingerprint  TEXT NOT NULL DEFAULT '',
    new_fingerprint   TEXT NOT NULL,
    summary           TEXT NOT NULL DEFAULT '',
    analysis_json     TEXT NOT NULL DEFAULT '{}',
    text_snippet      TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    detected_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_source ON detected_changes(source_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_changes_time ON detected_changes(detected_at DESC);

CREATE TABLE IF NOT EXISTS enquiries (
    id                      TEXT PRIMARY KEY,
    question_text           TEXT NOT NULL,
    keywords_json           TEXT NOT NULL DEFAULT '[]',
    generated_answer        TEXT NOT NULL DEFAULT '',
    identified_urls_json    TEXT NOT NULL DEFAULT '[]',
    fetched_content_summary TEXT NOT NULL DEFAULT '',
    source_of_answer        TEXT NOT NULL DEFAULT '',
    verified                INTEGER NOT NULL DEFAULT 0,
    usage_count             INTEGER NOT NULL DEFAULT 0,
    asked_at                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_enquiries_time ON enquiries(asked_at DESC);

CREATE TABLE IF NOT EXISTS enquiry_keywords (
    enquiry_id TEXT NOT NULL REFERENCES enquiries(id) ON DELETE CASCADE,
    keyword    TEXT NOT NULL,
    PRIMARY KEY (enquiry_id, keyword)
);
CREATE INDEX IF NOT EXISTS idx_enquiry_keywords_kw ON enquiry_keywords(keyword);
`

// SQLite implements Repository on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at path,
// applying WAL and busy-timeout pragmas plus the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, goerr.Wrap(err, "failed to apply pragma", goerr.V("pragma", p))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to apply schema")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping sqlite database")
	}

	return &SQLite{db: db}, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func (r *SQLite) PutSource(ctx context.Context, src *model.MonitoredSource) error {
	var checkedAt sql.NullInt64
	if src.LastCheckedAt != nil {
		checkedAt = sql.NullInt64{Int64: src.LastCheckedAt.UnixMilli(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, url, active, last_fingerprint, last_summary, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			active = excluded.active`,
		string(src.ID), src.Name, src.URL, boolToInt(src.Active),
		src.LastFingerprint, src.LastSummary, checkedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put source", goerr.V("source_id", src.ID))
	}
	return nil
}

func (r *SQLite) ListSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	return r.querySources(ctx, `
		SELECT id, name, url, active, last_fingerprint, last_summary, last_checked_at
		FROM sources ORDER BY name`)
}

func (r *SQLite) GetActiveSources(ctx context.Context) ([]*model.MonitoredSource, error) {
	return r.querySources(ctx, `
		SELECT id, name, url, active, last_fingerprint, last_summary, last_checked_at
		FROM sources WHERE active = 1 ORDER BY name`)
}

func (r *SQLite) querySources(ctx context.Context, query string) ([]*model.MonitoredSource, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query sources")
	}
	defer rows.Close()

	var sources []*model.MonitoredSource
	for rows.Next() {
		var (
			src       model.MonitoredSource
			active    int
			checkedAt sql.NullInt64
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &active,
			&src.LastFingerprint, &src.LastSummary, &checkedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan source row")
		}
		src.Active = active != 0
		if checkedAt.Valid {
			t := time.UnixMilli(checkedAt.Int64)
			src.LastCheckedAt = &t
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

func (r *SQLite) UpdateSourceState(ctx context.Context, id model.SourceID, fingerprint, summary string, checkedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET last_fingerprint = ?, last_summary = ?, last_checked_at = ?
		WHERE id = ?`,
		fingerprint, summary, checkedAt.UnixMilli(), string(id))
	if err != nil {
		return goerr.Wrap(err, "failed to update source state", goerr.V("source_id", id))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return goerr.Wrap(ErrNotFound, "source not found", goerr.V("source_id", id))
	}
	return nil
}

func (r *SQLite) AddDetectedChange(ctx context.Context, change *model.DetectedChange) error {
	analysis, err := json.Marshal(change.Analysis)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal change analysis")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO detected_changes
			(id, source_id, prev_fingerprint, new_fingerprint, summary, analysis_json, text_snippet, url, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(change.ID), string(change.SourceID), change.PrevFingerprint,
		change.NewFingerprint, change.Summary, string(analysis),
		change.TextSnippet, change.URL, change.DetectedAt.UnixMilli())
	if err != nil {
		return goerr.Wrap(err, "failed to insert detected change", goerr.V("source_id", change.SourceID))
	}
	return nil
}

func (r *SQLite) ListChanges(ctx context.Context, limit int) ([]*model.DetectedChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, prev_fingerprint, new_fingerprint, summary, analysis_json, text_snippet, url, detected_at
		FROM detected_changes ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query detected changes")
	}
	defer rows.Close()

	var changes []*model.DetectedChange
	for rows.Next() {
		var (
			c          model.DetectedChange
			analysis   string
			detectedAt int64
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.PrevFingerprint, &c.NewFingerprint,
			&c.Summary, &analysis, &c.TextSnippet, &c.URL, &detectedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan change row")
		}
		if analysis != "" && analysis != "null" {
			c.Analysis = &model.ChangeAnalysis{}
			if err := json.Unmarshal([]byte(analysis), c.Analysis); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal change analysis", goerr.V("change_id", c.ID))
			}
		}
		c.DetectedAt = time.UnixMilli(detectedAt)
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

func (r *SQLite) PutEnquiry(ctx context.Context, e *model.Enquiry) error {
	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal keywords")
	}
	urls, err := json.Marshal(e.IdentifiedURLs)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal identified urls")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enquiries
			(id, question_text, keywords_json, generated_answer, identified_urls_json,
			 fetched_content_summary, source_of_answer, verified, usage_count, asked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question_text = excluded.question_text,
			keywords_json = excluded.keywords_json,
			generated_answer = excluded.generated_answer,
			identified_urls_json = excluded.identified_urls_json,
			fetched_content_summary = excluded.fetched_content_summary,
			source_of_answer = excluded.source_of_answer`,
		string(e.ID), e.QuestionText, string(keywords), e.GeneratedAnswer, string(urls),
		e.FetchedContentSummary, e.SourceOfAnswer, boolToInt(e.Verified),
		e.UsageCount, e.AskedAt.UnixMilli())
	if err != nil {
		return goerr.Wrap(err, "failed to put enquiry", goerr.V("enquiry_id", e.ID))
	}

	// Keyword join table mirrors keywords_json for overlap search.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM enquiry_keywords WHERE enquiry_id = ?`, string(e.ID)); err != nil {
		return goerr.Wrap(err, "failed to clear enquiry keywords")
	}
	for _, kw := range e.Keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO enquiry_keywords (enquiry_id, keyword) VALUES (?, ?)`,
			string(e.ID), kw); err != nil {
			return goerr.Wrap(err, "failed to insert enquiry keyword", goerr.V("keyword", kw))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit enquiry")
	}
	return nil
}

func (r *SQLite) GetEnquiry(ctx context.Context, id model.EnquiryID) (*model.Enquiry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, question_text, keywords_json, generated_answer, identified_urls_json,
		       fetched_content_summary, source_of_answer, verified, usage_count, asked_at
		FROM enquiries WHERE id = ?`, string(id))

	e, err := scanEnquiry(row)
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	return e, err
}

func (r *SQLite) ListEnquiries(ctx context.Context, limit int) ([]*model.Enquiry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, question_text, keywords_json, generated_answer, identified_urls_json,
		       fetched_content_summary, source_of_answer, verified, usage_count, asked_at
		FROM enquiries ORDER BY asked_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query enquiries")
	}
	defer rows.Close()
	return collectEnquiries(rows)
}

func (r *SQLite) SearchVerifiedEnquiries(ctx context.Context, keywords []string) ([]*model.Enquiry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(keywords))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(keywords))
	for _, kw := range keywords {
		args = append(args, kw)
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.question_text, e.keywords_json, e.generated_answer, e.identified_urls_json,
		       e.fetched_content_summary, e.source_of_answer, e.verified, e.usage_count, e.asked_at
		FROM enquiries e
		WHERE e.verified = 1 AND e.id IN (
			SELECT DISTINCT enquiry_id FROM enquiry_keywords WHERE keyword IN (%s)
		)
		ORDER BY e.usage_count DESC, e.asked_at DESC
		LIMIT %d`, placeholders, searchResultLimit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search verified enquiries")
	}
	defer rows.Close()
	return collectEnquiries(rows)
}

func (r *SQLite) IncrementUsageCount(ctx context.Context, id model.EnquiryID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enquiries SET usage_count = usage_count + 1 WHERE id = ?`, string(id))
	if err != nil {
		return goerr.Wrap(err, "failed to increment usage count", goerr.V("enquiry_id", id))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	return nil
}

func (r *SQLite) SetEnquiryVerified(ctx context.Context, id model.EnquiryID, verified bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enquiries SET verified = ? WHERE id = ?`, boolToInt(verified), string(id))
	if err != nil {
		return goerr.Wrap(err, "failed to set enquiry verified", goerr.V("enquiry_id", id))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return goerr.Wrap(ErrNotFound, "enquiry not found", goerr.V("enquiry_id", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnquiry(row rowScanner) (*model.Enquiry, error) {
	var (
		e        model.Enquiry
		keywords string
		urls     string
		verified int
		askedAt  int64
	)
	if err := row.Scan(&e.ID, &e.QuestionText, &keywords, &e.GeneratedAnswer, &urls,
		&e.FetchedContentSummary, &e.SourceOfAnswer, &verified, &e.UsageCount, &askedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to scan enquiry row")
	}
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal keywords", goerr.V("enquiry_id", e.ID))
	}
	if err := json.Unmarshal([]byte(urls), &e.IdentifiedURLs); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal identified urls", goerr.V("enquiry_id", e.ID))
	}
	e.Verified = verified != 0
	e.AskedAt = time.UnixMilli(askedAt)
	return &e, nil
}

func collectEnquiries(rows *sql.Rows) ([]*model.Enquiry, error) {
	var enquiries []*model.Enquiry
	for rows.Next() {
		e, err := scanEnquiry(rows)
		if err != nil {
			return nil, err
		}
		enquiries = append(enquiries, e)
	}
	return enquiries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
