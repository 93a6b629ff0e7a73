package antimev

import (
	"testing"

	"kestrel/bundle"
)

func TestMitigatePreservesTransactionSemantics(t *testing.T) {
	plan := bundle.Plan{
		TxTemplates: []bundle.TxTemplate{
			{Kind: bundle.KindBuy, To: "0xabc", Data: []byte{1, 2, 3}},
		},
		Deadline: 1_000_000,
		Atomic:   true,
	}
	out := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000, JitterMaxMs: 100})

	if len(out.TxTemplates) != 1 {
		t.Fatalf("expected 1 template (no decoys by default), got %d", len(out.TxTemplates))
	}
	if out.TxTemplates[0].To != "0xabc" || string(out.TxTemplates[0].Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("expected to/data preserved, got %+v", out.TxTemplates[0])
	}
	if out.TxTemplates[0].Metadata["antimev_salt"] == nil {
		t.Fatalf("expected salt metadata attached")
	}
}

func TestMitigateZeroJitterMaxYieldsNotBeforeEqualsNow(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_000_000}
	out := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000, JitterMaxMs: 0})
	if out.NotBefore == nil || *out.NotBefore != 500_000 {
		t.Fatalf("expected notBefore == now, got %+v", out.NotBefore)
	}
}

func TestMitigateNotBeforeNeverExceedsDeadline(t *testing.T) {
	plan := bundle.Plan{Deadline: 500_010}
	out := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000, JitterMaxMs: 100000})
	if out.NotBefore == nil || *out.NotBefore >= plan.Deadline {
		t.Fatalf("expected notBefore < deadline, got %+v deadline=%d", out.NotBefore, plan.Deadline)
	}
}

func TestMitigateSaltStableWithinEpoch(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_000_000, TxTemplates: []bundle.TxTemplate{{Kind: bundle.KindBuy}}}
	out1 := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000})
	out2 := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_500, EpochMs: 1000})
	if out1.TxTemplates[0].Metadata["antimev_salt"] != out2.TxTemplates[0].Metadata["antimev_salt"] {
		t.Fatalf("expected stable salt within the same epoch bucket")
	}
}

func TestMitigateDecoysDisabledByDefault(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_000_000, TxTemplates: []bundle.TxTemplate{{Kind: bundle.KindBuy}, {Kind: bundle.KindSell}}}
	out := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000})
	if len(out.TxTemplates) != 2 {
		t.Fatalf("expected no decoys appended by default, got %d templates", len(out.TxTemplates))
	}
}

func TestMitigateDecoysBoundedAtTwo(t *testing.T) {
	plan := bundle.Plan{
		Deadline: 1_000_000,
		TxTemplates: []bundle.TxTemplate{
			{Kind: bundle.KindBuy}, {Kind: bundle.KindSell}, {Kind: bundle.KindSettle}, {Kind: bundle.KindBuy},
		},
	}
	out := Mitigate(plan, Options{IntentID: "i1", CorrID: "c1", NowMs: 500_000, EpochMs: 1000, DecoyPct: 1.0})
	decoys := 0
	for _, tmpl := range out.TxTemplates {
		if tmpl.Kind == bundle.KindDecoy {
			decoys++
		}
	}
	if decoys != 2 {
		t.Fatalf("expected decoys capped at 2, got %d", decoys)
	}
}
