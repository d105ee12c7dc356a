package models

import (
	"regexp"
	"strings"
	"time"
)

// Severity ranks how urgent a gap is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps free text to a severity, ignoring case and surrounding space.
// Unknown values default to medium.
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return v
	}
	return SeverityMedium
}

// GapStatus is the review status of a gap.
type GapStatus string

const (
	GapIdentified   GapStatus = "identified"
	GapAcknowledged GapStatus = "acknowledged"
	GapResolved     GapStatus = "resolved"
)

// Next returns the only status that may follow s, or "" when s is final.
func (s GapStatus) Next() GapStatus {
	switch s {
	case GapIdentified:
		return GapAcknowledged
	case GapAcknowledged:
		return GapResolved
	}
	return ""
}

// GapRecord is a compliance gap produced by gap analysis.
type GapRecord struct {
	ID                  string     `json:"gapId"`
	RegulationID        string     `json:"regulationId"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Severity            Severity   `json:"severity"`
	Status              GapStatus  `json:"status"`
	GapType             string     `json:"gapType,omitempty"`
	RiskLevel           string     `json:"riskLevel,omitempty"`
	RegulatoryReference string     `json:"regulatoryReference,omitempty"`
	PolicyReference     string     `json:"policyReference,omitempty"`
	ImpactDescription   string     `json:"impactDescription,omitempty"`
	RecommendedAction   string     `json:"recommendedAction,omitempty"`
	SourceDocumentIDs   []string   `json:"sourceDocumentIds,omitempty"`
	ExecutionID         string     `json:"executionId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	AcknowledgedBy      string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedBy          string     `json:"resolvedBy,omitempty"`
	ResolvedAt          *time.Time `json:"resolvedAt,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

// GapCandidate is a gap proposed by the reasoning service before it is persisted.
type GapCandidate struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	RegulatoryReference string   `json:"regulatory_reference"`
	PolicyReference     string   `json:"policy_reference"`
	GapType             string   `json:"gap_type"`
	Severity            string   `json:"severity"`
	RiskLevel           string   `json:"risk_level"`
	ImpactDescription   string   `json:"impact_description"`
	RecommendedAction   string   `json:"recommended_action"`
	RegulationID        string   `json:"-"`
	SourceDocumentIDs   []string `json:"-"`
}

// GapFilter narrows gap listings. Zero fields match everything.
type GapFilter struct {
	Status       GapStatus
	Severity     Severity
	RegulationID string
	ExecutionID  string
	Limit        int
}

var (
	masNoticePattern  = regexp.MustCompile(`MAS Notice (\w+)`)
	regulationPattern = regexp.MustCompile(`Regulation (\w+)`)
)

// UnknownRegulation is the regulation id of a reference that names nothing.
const UnknownRegulation = "UNKNOWN"

// RegulationID derives a stable regulation id from a free-text regulatory reference:
// "MAS Notice 626" becomes MAS-NOTICE-626, "Regulation 17" becomes REG-17, anything else
// becomes its first three words upper-cased and joined with dashes.
func RegulationID(reference string) string {
	if m := masNoticePattern.FindStringSubmatch(reference); m != nil {
		return "MAS-NOTICE-" + m[1]
	}
	if m := regulationPattern.FindStringSubmatch(reference); m != nil {
		return "REG-" + m[1]
	}
	words := strings.Fields(reference)
	if len(words) == 0 {
		return UnknownRegulation
	}
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.ToUpper(strings.Join(words, "-"))
}
