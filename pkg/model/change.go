package model

import (
	"time"

	"github.com/google/uuid"
)

type ChangeID string

// NewChangeID generates a new unique ChangeID
func NewChangeID() ChangeID {
	return ChangeID(uuid.New().String())
}

// ChangeType values produced by the classifier. The error variants form
// a typed error channel: they report a failed or impossible analysis
// rather than a domain classification.
const (
	ChangeTypeConfigurationError = "Configuration Error"
	ChangeTypeResponseError      = "AI Response Error"
	ChangeTypeProcessingError    = "AI Processing Error"
)

// Significance levels used by the classifier and its error records.
const (
	SignificanceHigh    = "High"
	SignificanceMedium  = "Medium"
	SignificanceLow     = "Low"
	SignificanceUnknown = "Unknown"
)

// ChangeAnalysis is the structured result of classifying a before/after
// summary pair. All fields beyond ChangeType and MainSummary are
// optional model output with empty defaults.
type ChangeAnalysis struct {
	ChangeType            string   `json:"change_type"`
	SignificanceLevel     string   `json:"significance_level"`
	MainSummary           string   `json:"main_summary"`
	KeyDetails            []string `json:"key_details,omitempty"`
	AffectedParties       []string `json:"affected_parties,omitempty"`
	ActionableInsights    string   `json:"actionable_insights,omitempty"`
	ReferencedRegulation  string   `json:"referenced_regulation,omitempty"`
	SourceTrustworthiness string   `json:"source_trustworthiness,omitempty"`

	// RawResponse keeps the unparseable model output for diagnostics,
	// truncated. Only set on AI Response Error records.
	RawResponse string `json:"raw_response,omitempty"`
}

// IsError reports whether the analysis is an error-signaling record
// rather than a domain classification.
func (a *ChangeAnalysis) IsError() bool {
	switch a.ChangeType {
	case ChangeTypeConfigurationError, ChangeTypeResponseError, ChangeTypeProcessingError:
		return true
	default:
		return false
	}
}

// DetectedChange is one append-only change log entry. Created exactly
// once per cycle when a source's fingerprint differs from its stored
// state and the classifier produced a record.
type DetectedChange struct {
	ID              ChangeID
	SourceID        SourceID
	PrevFingerprint string
	NewFingerprint  string
	Summary         string
	Analysis        *ChangeAnalysis
	TextSnippet     string
	URL             string
	DetectedAt      time.Time
}
