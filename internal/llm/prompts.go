package llm

import (
	"fmt"
	"strings"

	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/pkg/utils"
)

const (
	gapExcerptLen       = 2000
	amendmentExcerptLen = 1500
	amendmentPolicies   = 3
)

const gapSystemPrompt = `You are a compliance expert. You compare regulatory documents with a firm's internal policies and report where the policies fall short.`

const gapInstructions = `
ANALYSIS INSTRUCTIONS:
1. Compare each regulatory requirement with the internal policies
2. Report requirements that no internal policy addresses
3. Report inconsistencies between the regulations and current policies
4. Report missing controls or procedures
5. Rate the severity and risk level of each gap

OUTPUT FORMAT:
Answer with a JSON array of gap objects. Each object has:
- gap_id: an identifier for the gap
- title: a short descriptive title
- description: a detailed description of the gap
- regulatory_reference: the regulatory requirement concerned, e.g. "Regulation 17, Section 2"
- policy_reference: the internal policy concerned, if any
- gap_type: one of "missing_requirement", "inconsistency", "insufficient_control", "outdated_policy"
- severity: one of "critical", "high", "medium", "low"
- risk_level: one of "high", "medium", "low"
- impact_description: the likely impact if the gap is not addressed
- recommended_action: a high-level recommendation

Return ONLY the JSON array. Return [] when you find no gaps.
`

const amendmentSystemPrompt = `You are a policy expert. You draft concrete amendments to internal policies that close identified compliance gaps.`

const amendmentInstructions = `
DRAFTING INSTRUCTIONS:
1. Draft at least one specific, actionable amendment for each gap
2. Use clear, professional policy language
3. State the requirements, procedures and controls explicitly
4. Reference the regulatory requirement being met
5. Keep the amendment practical to implement
6. Include compliance monitoring and reporting where appropriate

OUTPUT FORMAT:
Answer with a JSON array. Each object has:
- amendment_id: an identifier for the amendment
- gap_id: the Gap ID this amendment addresses, copied exactly
- amendment_type: one of "policy_update", "new_policy_section", "procedure_addition", "control_enhancement"
- target_policy: the policy to amend
- amendment_title: a short title
- amendment_text: the complete text of the amendment
- rationale: why the amendment closes the gap
- implementation_notes: practical notes for implementation
- compliance_monitoring: how compliance will be monitored
- effective_date_recommendation: recommended timeframe, e.g. "90 days from approval"
- priority: one of "immediate", "high", "medium", "low"

Return ONLY the JSON array.
`

func writeDocuments(b *strings.Builder, label string, docs []*models.VectorRecord, limit, excerpt int) {
	if len(docs) > limit {
		docs = docs[:limit]
	}
	if len(docs) == 0 {
		b.WriteString("\n(none)\n")
	}
	for i, d := range docs {
		fmt.Fprintf(b, "\n--- %s %d ---\n", label, i+1)
		fmt.Fprintf(b, "Title: %s\n", orUnknown(d.Title))
		fmt.Fprintf(b, "Type: %s\n", orUnknown(string(d.Type)))
		if d.RegulationID != "" {
			fmt.Fprintf(b, "Regulation: %s\n", d.RegulationID)
		}
		fmt.Fprintf(b, "Content: %s\n", utils.Truncate(d.Text, excerpt))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func gapPrompt(regulations, policies []*models.VectorRecord, analysisContext string, limit int) string {
	var b strings.Builder
	b.WriteString("TASK: Compare the regulatory requirements below with the internal policies and identify specific gaps, inconsistencies or missing requirements.\n")
	b.WriteString("\nREGULATORY DOCUMENTS:\n")
	writeDocuments(&b, "REGULATORY DOCUMENT", regulations, limit, gapExcerptLen)
	b.WriteString("\nINTERNAL POLICIES:\n")
	writeDocuments(&b, "INTERNAL POLICY", policies, limit, gapExcerptLen)
	if analysisContext != "" {
		fmt.Fprintf(&b, "\nADDITIONAL CONTEXT:\n%s\n", analysisContext)
	}
	b.WriteString(gapInstructions)
	return b.String()
}

func amendmentPrompt(gaps []*models.GapRecord, policies []*models.VectorRecord, organizationContext string) string {
	var b strings.Builder
	b.WriteString("TASK: Draft amendments to existing policies, or new policy sections, that address each compliance gap below.\n")
	b.WriteString("\nCOMPLIANCE GAPS TO ADDRESS:\n")
	for i, g := range gaps {
		fmt.Fprintf(&b, "\n--- GAP %d ---\n", i+1)
		fmt.Fprintf(&b, "Gap ID: %s\n", g.ID)
		fmt.Fprintf(&b, "Title: %s\n", g.Title)
		fmt.Fprintf(&b, "Description: %s\n", g.Description)
		fmt.Fprintf(&b, "Regulatory Reference: %s\n", g.RegulatoryReference)
		fmt.Fprintf(&b, "Policy Reference: %s\n", g.PolicyReference)
		fmt.Fprintf(&b, "Severity: %s\n", g.Severity)
		fmt.Fprintf(&b, "Recommended Action: %s\n", g.RecommendedAction)
	}
	b.WriteString("\nEXISTING POLICIES FOR REFERENCE:\n")
	writeDocuments(&b, "EXISTING POLICY", policies, amendmentPolicies, amendmentExcerptLen)
	if organizationContext != "" {
		fmt.Fprintf(&b, "\nORGANIZATION CONTEXT:\n%s\n", organizationContext)
	}
	b.WriteString(amendmentInstructions)
	return b.String()
}
