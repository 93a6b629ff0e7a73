// Package bundle implements the Bundle Assembler (C6): turning a validated
// intent plus simulation outputs into an ordered, deadline-bound execution
// plan.
package bundle

import "math/big"

// TemplateKind orders a BundlePlan's transaction templates (spec.md §4.6).
type TemplateKind string

const (
	KindBuy    TemplateKind = "buy"
	KindSell   TemplateKind = "sell"
	KindSettle TemplateKind = "settle"
	KindDecoy  TemplateKind = "decoy"
)

// priority returns the ordering rank for a kind; unrecognized kinds sort
// after the three named priorities, by name.
func (k TemplateKind) priority() int {
	switch k {
	case KindBuy:
		return 0
	case KindSell:
		return 1
	case KindSettle:
		return 2
	default:
		return 3
	}
}

// TxTemplate is one transaction template within a plan.
type TxTemplate struct {
	Kind     TemplateKind
	To       string
	Data     []byte
	Value    *big.Int // optional
	Atomic   bool
	Metadata map[string]any // optional, e.g. antimev salt; never alters To/Data/Value
}

// GasPolicy bounds the plan's fee escalation.
type GasPolicy struct {
	BaseFeeMax  *big.Int
	PriorityFee *big.Int
	BumpStep    *big.Int
	BumpCap     *big.Int
}

// ReplacementPolicy bounds nonce-replacement retries.
type ReplacementPolicy struct {
	Nonce    uint64
	MaxBumps int
	BumpStep *big.Int
	BumpCap  *big.Int
}

// Plan is the derived, ephemeral BundlePlan (spec.md §3). Never persisted
// beyond the audit log.
type Plan struct {
	TxTemplates       []TxTemplate
	GasPolicy         GasPolicy
	ReplacementPolicy ReplacementPolicy
	Deadline          int64 // absolute wall-clock ms
	Atomic            bool
	NotBefore         *int64 // optional, set by the anti-MEV mitigator
}

// SimOutputs is the minimal simulator result the assembler consumes; the
// simulator itself is an external collaborator (spec.md §1's explicit
// exclusion of "the local transaction simulator").
type SimOutputs struct {
	Templates   []TxTemplate
	GasPolicy   GasPolicy
	Replacement ReplacementPolicy
}
