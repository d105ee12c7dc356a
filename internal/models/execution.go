package models

import (
	"encoding/json"
	"time"
)

// WorkflowKind names a workflow definition.
type WorkflowKind string

const (
	WorkflowGapAnalysis       WorkflowKind = "gap_analysis"
	WorkflowAmendmentDrafting WorkflowKind = "amendment_drafting"
)

// ExecutionStatus is the lifecycle status of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionSucceeded ExecutionStatus = "Succeeded"
	ExecutionFailed    ExecutionStatus = "Failed"
)

// Terminal reports whether no further steps may run.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

// ExecutionError is attached to an execution that ended in Failed.
type ExecutionError struct {
	Kind      string    `json:"errorKind"`
	Message   string    `json:"message"`
	State     string    `json:"state"`
	EnteredAt time.Time `json:"enteredTimeOfFailingState"`
}

// StepEntry is one line of the append-only step log.
type StepEntry struct {
	Seq       int       `json:"seq"`
	State     string    `json:"state"`
	Event     string    `json:"event"`
	Attempt   int       `json:"attempt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID          string          `json:"executionId"`
	RequestID   string          `json:"requestId"`
	Kind        WorkflowKind    `json:"kind"`
	State       string          `json:"currentState"`
	Status      ExecutionStatus `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	Steps       []StepEntry     `json:"steps,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// GapAnalysisInput starts a gap-analysis execution.
type GapAnalysisInput struct {
	QueryText       string     `json:"queryText"`
	SearchType      SearchType `json:"searchType,omitempty"`
	Size            int        `json:"size,omitempty"`
	RegulationID    string     `json:"regulationId,omitempty"`
	AnalysisContext string     `json:"analysisContext,omitempty"`
}

// AmendmentDraftingInput starts an amendment-drafting execution.
type AmendmentDraftingInput struct {
	GapIDs              []string `json:"gapIds"`
	OrganizationContext string   `json:"organizationContext,omitempty"`
}

// ExecutionStarted is returned when an execution is accepted.
type ExecutionStarted struct {
	ExecutionID string    `json:"executionId"`
	RequestID   string    `json:"requestId"`
	Timestamp   time.Time `json:"timestamp"`
}

// GapAnalysisOutput is the output of a succeeded gap-analysis execution.
type GapAnalysisOutput struct {
	QueryText          string     `json:"queryText"`
	SearchType         SearchType `json:"searchType"`
	DocumentsRetrieved int        `json:"documentsRetrieved"`
	GapIDs             []string   `json:"gapIds"`
	GapsIdentified     int        `json:"gapsIdentified"`
	GapsCreated        int        `json:"gapsCreated"`
}

// AmendmentDraftingOutput is the output of a succeeded amendment-drafting execution.
type AmendmentDraftingOutput struct {
	GapIDs            []string `json:"gapIds"`
	AmendmentIDs      []string `json:"amendmentIds"`
	AmendmentsDrafted int      `json:"amendmentsDrafted"`
	AmendmentsCreated int      `json:"amendmentsCreated"`
}
