package contract_test

import (
	"testing"

	"dealdesk/internal/contract"
)

func TestBuildDiffFingerprintIsStable(t *testing.T) {
	diff := contract.ComputeClauseDiff(baseContract, targetContract)
	a := contract.BuildDiffFingerprint(diff)
	b := contract.BuildDiffFingerprint(contract.ComputeClauseDiff(baseContract, targetContract))
	if a != b {
		t.Fatalf("fingerprint not stable:\n%s\n%s", a, b)
	}
	want := "unchanged:1. Scope|modified:The seller delivers 40 pallets of washed PET flakes."
	if len(a) < len(want) || a[:len(want)] != want {
		t.Fatalf("unexpected fingerprint prefix %q", a)
	}
}

func TestBuildDiffFingerprintUsesBaseForRemoved(t *testing.T) {
	diff := []contract.Segment{
		{Type: contract.SegmentRemoved, Base: "old"},
		{Type: contract.SegmentAdded, Target: "new"},
	}
	if got := contract.BuildDiffFingerprint(diff); got != "removed:old|added:new" {
		t.Fatalf("got %q", got)
	}
	if got := contract.BuildDiffFingerprint(nil); got != "" {
		t.Fatalf("empty diff should give empty fingerprint, got %q", got)
	}
}

func TestNegotiationContractFingerprint(t *testing.T) {
	fp := contract.ComputeNegotiationContractFingerprint(baseContract, "initial draft")
	if fp != contract.ComputeNegotiationContractFingerprint(baseContract, "initial draft") {
		t.Fatalf("fingerprint not deterministic")
	}
	if fp == contract.ComputeNegotiationContractFingerprint(targetContract, "initial draft") {
		t.Fatalf("body change must change fingerprint")
	}
	if fp == contract.ComputeNegotiationContractFingerprint(baseContract, "second draft") {
		t.Fatalf("summary change must change fingerprint")
	}
	if contract.ComputeNegotiationContractFingerprint("ab", "c") == contract.ComputeNegotiationContractFingerprint("a", "bc") {
		t.Fatalf("boundary between body and summary must matter")
	}
}
