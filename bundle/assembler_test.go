package bundle

import (
	"math/big"
	"testing"
	"time"
)

func TestAssembleOrdersByKindPriority(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sim := SimOutputs{
		Templates: []TxTemplate{
			{Kind: KindSettle, To: "0x3"},
			{Kind: KindBuy, To: "0x1"},
			{Kind: KindSell, To: "0x2"},
		},
	}
	plan := Assemble(now, 60, true, sim)
	if len(plan.TxTemplates) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(plan.TxTemplates))
	}
	order := []TemplateKind{plan.TxTemplates[0].Kind, plan.TxTemplates[1].Kind, plan.TxTemplates[2].Kind}
	want := []TemplateKind{KindBuy, KindSell, KindSettle}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	for _, tmpl := range plan.TxTemplates {
		if !tmpl.Atomic {
			t.Fatalf("expected templates to inherit plan.atomic=true")
		}
	}
}

func TestAssembleTiesBreakByKindName(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sim := SimOutputs{
		Templates: []TxTemplate{
			{Kind: "zeta"},
			{Kind: "alpha"},
		},
	}
	plan := Assemble(now, 60, true, sim)
	if plan.TxTemplates[0].Kind != "alpha" || plan.TxTemplates[1].Kind != "zeta" {
		t.Fatalf("expected alphabetical tie-break, got %+v", plan.TxTemplates)
	}
}

func TestAssembleDeadlineComputed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := Assemble(now, 30, true, SimOutputs{})
	want := now.UnixMilli() + 30000
	if plan.Deadline != want {
		t.Fatalf("expected deadline %d, got %d", want, plan.Deadline)
	}
}

func TestAssembleClampsBumpStepToBumpCap(t *testing.T) {
	sim := SimOutputs{
		GasPolicy: GasPolicy{BumpStep: big.NewInt(100), BumpCap: big.NewInt(10)},
		Replacement: ReplacementPolicy{BumpStep: big.NewInt(50), BumpCap: big.NewInt(5)},
	}
	plan := Assemble(time.Now(), 60, true, sim)
	if plan.GasPolicy.BumpStep.Cmp(plan.GasPolicy.BumpCap) > 0 {
		t.Fatalf("expected gas bumpStep clamped to bumpCap, got %s > %s", plan.GasPolicy.BumpStep, plan.GasPolicy.BumpCap)
	}
	if plan.ReplacementPolicy.BumpStep.Cmp(plan.ReplacementPolicy.BumpCap) > 0 {
		t.Fatalf("expected replacement bumpStep clamped to bumpCap")
	}
}
