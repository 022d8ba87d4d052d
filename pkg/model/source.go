package model

import (
	"time"

	"github.com/google/uuid"
)

type SourceID string

// NewSourceID generates a new unique SourceID
func NewSourceID() SourceID {
	return SourceID(uuid.New().String())
}

// SentinelNoPriorSummary is passed to the classifier as the previous
// summary on the first-ever check of a source. It must never equal a
// real extracted summary.
const SentinelNoPriorSummary = "N/A (first check)"

// MonitoredSource is one official page watched by the monitoring cycle.
// Sources are never deleted, only deactivated.
type MonitoredSource struct {
	ID     SourceID
	Name   string
	URL    string
	Active bool

	// LastFingerprint is empty until the first successful check.
	LastFingerprint string
	LastSummary     string
	LastCheckedAt   *time.Time
}
