package model

import (
	"time"

	"github.com/google/uuid"
)

type EnquiryID string

// NewEnquiryID generates a new unique EnquiryID
func NewEnquiryID() EnquiryID {
	return EnquiryID(uuid.New().String())
}

// SourceOfAnswer tags recording how an enquiry was resolved.
const (
	AnswerSourcePending     = "pending_ai_processing"
	AnswerSourceLiveContent = "live_synthesis_with_url_content"
	AnswerSourceLiveGeneral = "live_synthesis_general_knowledge"
	AnswerSourceError       = "error"
)

// AnswerSourceCacheHit tags an enquiry resolved by copying the answer of
// a verified stored enquiry.
func AnswerSourceCacheHit(id EnquiryID) string {
	return "cache_hit_enquiry_" + string(id)
}

// Enquiry is one user question plus its resolution metadata. Every
// question asked produces exactly one row, including cache hits (which
// are distinct from the verified template they copied).
//
// UsageCount increments only when a verified enquiry serves as a cache
// hit; unverified enquiries never serve as cache hits. Verified is set
// only by the external review action (enquiries verify).
type Enquiry struct {
	ID           EnquiryID
	QuestionText string
	Keywords     []string

	GeneratedAnswer       string
	IdentifiedURLs        []string
	FetchedContentSummary string
	SourceOfAnswer        string

	Verified   bool
	UsageCount int
	AskedAt    time.Time
}
