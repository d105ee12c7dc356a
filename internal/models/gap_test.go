package models

import "testing"

func TestRegulationID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"MAS Notice 626 paragraph 6.2", "MAS-NOTICE-626"},
		{"See Regulation 17 on capital buffers", "REG-17"},
		{"Basel III liquidity coverage ratio", "BASEL-III-LIQUIDITY"},
		{"GDPR", "GDPR"},
		{"   ", UnknownRegulation},
		{"", UnknownRegulation},
	}
	for _, tt := range tests {
		if got := RegulationID(tt.ref); got != tt.want {
			t.Errorf("RegulationID(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestGapStatus_Next(t *testing.T) {
	if GapIdentified.Next() != GapAcknowledged || GapAcknowledged.Next() != GapResolved || GapResolved.Next() != "" {
		t.Error("gap status must advance identified -> acknowledged -> resolved")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"critical", SeverityCritical},
		{"Critical", SeverityCritical},
		{"HIGH", SeverityHigh},
		{" low", SeverityLow},
		{"Medium\n", SeverityMedium},
		{"catastrophic", SeverityMedium},
		{"", SeverityMedium},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"immediate", PriorityImmediate},
		{"IMMEDIATE", PriorityImmediate},
		{" High ", PriorityHigh},
		{"low", PriorityLow},
		{"urgent", PriorityMedium},
	}
	for _, tt := range tests {
		if got := ParsePriority(tt.in); got != tt.want {
			t.Errorf("ParsePriority(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
