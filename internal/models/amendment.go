package models

import (
	"strings"
	"time"
)

// Priority is the implementation priority of an amendment.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// ParsePriority maps free text to a priority, ignoring case and surrounding space.
// Unknown values default to medium.
func ParsePriority(s string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityImmediate, PriorityHigh, PriorityMedium, PriorityLow:
		return p
	}
	return PriorityMedium
}

// AmendmentStatus is the approval status of an amendment.
type AmendmentStatus string

const (
	AmendmentDraft       AmendmentStatus = "draft"
	AmendmentApproved    AmendmentStatus = "approved"
	AmendmentImplemented AmendmentStatus = "implemented"
)

// AmendmentRecord is a drafted policy change for a gap.
type AmendmentRecord struct {
	ID                   string          `json:"amendmentId"`
	GapID                string          `json:"gapId"`
	Attempt              int             `json:"draftAttempt"`
	Title                string          `json:"title"`
	AmendmentType        string          `json:"amendmentType,omitempty"`
	TargetPolicy         string          `json:"targetPolicy,omitempty"`
	AmendmentText        string          `json:"amendmentText"`
	Rationale            string          `json:"rationale,omitempty"`
	ImplementationNotes  string          `json:"implementationNotes,omitempty"`
	ComplianceMonitoring string          `json:"complianceMonitoring,omitempty"`
	EffectiveDate        string          `json:"effectiveDateRecommendation,omitempty"`
	Priority             Priority        `json:"priority"`
	Status               AmendmentStatus `json:"status"`
	ExecutionID          string          `json:"executionId,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	ApprovedBy           string          `json:"approvedBy,omitempty"`
	ApprovedAt           *time.Time      `json:"approvedAt,omitempty"`
	ApprovalNotes        string          `json:"approvalNotes,omitempty"`
}

// DraftedAmendment is an amendment proposed by the drafting service.
type DraftedAmendment struct {
	GapID                string `json:"gap_id"`
	AmendmentType        string `json:"amendment_type"`
	TargetPolicy         string `json:"target_policy"`
	Title                string `json:"amendment_title"`
	Text                 string `json:"amendment_text"`
	Rationale            string `json:"rationale"`
	ImplementationNotes  string `json:"implementation_notes"`
	ComplianceMonitoring string `json:"compliance_monitoring"`
	EffectiveDate        string `json:"effective_date_recommendation"`
	Priority             string `json:"priority"`
}

// AmendmentFilter narrows amendment listings.
type AmendmentFilter struct {
	Status      AmendmentStatus
	GapID       string
	ExecutionID string
	Limit       int
}
