package contract_test

import (
	"strings"
	"testing"

	"dealdesk/internal/contract"
)

const baseContract = `1. Scope
The seller delivers 40 pallets of sorted PET flakes.

2. Payment
The buyer pays within 30 days of delivery.`

const targetContract = `1. Scope
The seller delivers 40 pallets of washed PET flakes.

2. Payment
The buyer pays within 15 days of delivery.

3. Warranty
Material is guaranteed free of PVC contamination.`

func TestClauseDiffIdenticalTextsAreUnchanged(t *testing.T) {
	texts := []string{
		"",
		baseContract,
		targetContract,
		"Preamble without headings\nspanning two lines",
		"1. Only a heading",
	}
	for _, text := range texts {
		diff := contract.ComputeClauseDiff(text, text)
		for _, seg := range diff {
			if seg.Type != contract.SegmentUnchanged {
				t.Fatalf("expected unchanged, got %s for %q", seg.Type, seg.Target)
			}
		}
		sum := contract.SummarizeClauseDiff(diff)
		if sum.Added != 0 || sum.Removed != 0 || sum.Modified != 0 {
			t.Fatalf("unexpected summary %+v", sum)
		}
		if sum.Unchanged != len(contract.SplitClauses(text)) {
			t.Fatalf("expected one unchanged segment per unit, got %d", sum.Unchanged)
		}
	}
}

func TestClauseDiffReworkedContract(t *testing.T) {
	diff := contract.ComputeClauseDiff(baseContract, targetContract)
	got := contract.SummarizeClauseDiff(diff)
	want := contract.Summary{Added: 2, Removed: 0, Modified: 2, Unchanged: 2}
	if got != want {
		t.Fatalf("summary = %+v, want %+v", got, want)
	}
	if diff[0].Kind != contract.UnitHeading || diff[1].Kind != contract.UnitBody {
		t.Fatalf("unexpected unit kinds %s %s", diff[0].Kind, diff[1].Kind)
	}
	if diff[4].Type != contract.SegmentAdded || diff[4].Target != "3. Warranty" {
		t.Fatalf("expected added warranty heading, got %+v", diff[4])
	}
}

func TestClauseDiffRemovedUnits(t *testing.T) {
	diff := contract.ComputeClauseDiff(targetContract, baseContract)
	sum := contract.SummarizeClauseDiff(diff)
	if sum.Removed != 2 || sum.Added != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	last := diff[len(diff)-1]
	if last.Base == "" || last.Target != "" {
		t.Fatalf("removed segment should carry base text only: %+v", last)
	}
}

func TestSplitClausesNormalizesLineEndings(t *testing.T) {
	unix := contract.SplitClauses(baseContract)
	dos := contract.SplitClauses(strings.ReplaceAll(baseContract, "\n", "\r\n"))
	if len(unix) != 4 || len(dos) != 4 {
		t.Fatalf("expected 4 units, got %d and %d", len(unix), len(dos))
	}
	for i := range unix {
		if unix[i] != dos[i] {
			t.Fatalf("unit %d differs: %q vs %q", i, unix[i].Text, dos[i].Text)
		}
	}
}

func TestIsHeading(t *testing.T) {
	cases := map[string]bool{
		"1. Scope":             true,
		"2.3 Late payment":     true,
		"4) Termination":       true,
		"Article IV":           true,
		"SECTION 2 Governing":  true,
		"## Definitions":       true,
		"30 days after notice": false,
		"The buyer pays.":      false,
		"":                     false,
	}
	for line, want := range cases {
		if got := contract.IsHeading(line); got != want {
			t.Errorf("IsHeading(%q) = %v, want %v", line, got, want)
		}
	}
}
