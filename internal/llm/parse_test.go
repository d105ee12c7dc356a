package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
)

func TestParseGaps(t *testing.T) {
	answer := "Here is the analysis:\n```json\n" + `[
  {"gap_id":"GAP-001","title":"Missing retention period","description":"No 7-year retention",
   "regulatory_reference":"Regulation 17, Section 2","policy_reference":"Data Policy v2",
   "gap_type":"missing_requirement","severity":"high","risk_level":"high",
   "impact_description":"Fines","recommended_action":"Add retention clause"},
  {"gap_id":"GAP-002","title":"","description":""},
  {"gap_id":"GAP-003","title":" ","description":"Board oversight of outsourcing is not documented"}
]` + "\n```"

	gaps, err := ParseGaps(answer)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, "Missing retention period", gaps[0].Title)
	assert.Empty(t, gaps[1].Title)
	assert.Equal(t, "Board oversight of outsourcing is not documented", gaps[1].Description)
	assert.Equal(t, "Regulation 17, Section 2", gaps[0].RegulatoryReference)
	assert.Equal(t, "missing_requirement", gaps[0].GapType)
	assert.Equal(t, "high", gaps[0].Severity)
}

func TestParseGaps_Empty(t *testing.T) {
	gaps, err := ParseGaps("[]")
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestParseGaps_Unparsable(t *testing.T) {
	for _, answer := range []string{"I could not find any gaps.", "[not json]", "] backwards ["} {
		_, err := ParseGaps(answer)
		require.Error(t, err, answer)
		assert.Equal(t, fault.KindUnclassified, fault.Classify(err), answer)
	}
}

func TestParseAmendments(t *testing.T) {
	answer := `[{"amendment_id":"AMD-1","gap_id":"gap-1","amendment_type":"policy_update",
	"target_policy":"Data Policy","amendment_title":"Retention","amendment_text":"Keep records 7 years.",
	"priority":"high","effective_date_recommendation":"90 days from approval"},
	{"gap_id":"gap-1","amendment_text":"  "}]`

	drafts, err := ParseAmendments(answer)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "gap-1", drafts[0].GapID)
	assert.Equal(t, "Retention", drafts[0].Title)
	assert.Equal(t, "Keep records 7 years.", drafts[0].Text)
	assert.Equal(t, "90 days from approval", drafts[0].EffectiveDate)
}
