// Package antimev implements the Anti-MEV Mitigator (C7): deterministic
// salt and bounded timing jitter applied to an already-assembled bundle
// plan, never altering transaction semantics.
package antimev

import (
	"fmt"
	"hash/fnv"
	"math"

	"kestrel/bundle"
)

// Options configures one mitigate() call (spec.md §4.7).
type Options struct {
	IntentID    string
	CorrID      string
	NowMs       int64
	EpochMs     int64 // must be ≥ 1000
	JitterMaxMs int64
	DecoyPct    float64 // 0 disables decoys (default)
}

// Mitigate applies salt + jitter to plan and returns the mitigated copy.
// The ordered (to, data, value) triples of the input templates are
// preserved exactly; only metadata is added, plus optional appended decoys.
func Mitigate(plan bundle.Plan, opts Options) bundle.Plan {
	epochMs := opts.EpochMs
	if epochMs < 1000 {
		epochMs = 1000
	}
	epochBucket := opts.NowMs / epochMs

	salt := computeSalt(opts.IntentID, opts.CorrID, epochBucket)

	out := plan
	out.TxTemplates = make([]bundle.TxTemplate, len(plan.TxTemplates))
	for i, tmpl := range plan.TxTemplates {
		meta := make(map[string]any, len(tmpl.Metadata)+1)
		for k, v := range tmpl.Metadata {
			meta[k] = v
		}
		meta["antimev_salt"] = salt
		tmpl.Metadata = meta
		out.TxTemplates[i] = tmpl
	}

	jitterMs := jitterFromSalt(salt, opts.JitterMaxMs)
	notBefore := opts.NowMs + maxInt64(0, jitterMs)
	if notBefore > plan.Deadline-1 {
		notBefore = plan.Deadline - 1
	}
	out.NotBefore = &notBefore

	if opts.DecoyPct > 0 {
		decoyCount := int(math.Floor(float64(len(plan.TxTemplates)) * opts.DecoyPct))
		if decoyCount > 2 {
			decoyCount = 2
		}
		for i := 0; i < decoyCount; i++ {
			out.TxTemplates = append(out.TxTemplates, bundle.TxTemplate{
				Kind:     bundle.KindDecoy,
				Atomic:   plan.Atomic,
				Metadata: map[string]any{"antimev_salt": salt},
			})
		}
	}

	return out
}

// computeSalt derives a stable 128-bit tag for the (intent, epoch) pair
// using a fixed non-cryptographic hash (FNV-1a, per spec.md §4.7) over four
// components concatenated as documented: H(intentId), H(corrId),
// H(epochBucket), and H(intentId:corrId:epochBucket).
func computeSalt(intentID, corrID string, epochBucket int64) [16]byte {
	h1 := fnv32a(intentID)
	h2 := fnv32a(corrID)
	h3 := fnv32a(fmt.Sprintf("%d", epochBucket))
	h4 := fnv32a(fmt.Sprintf("%s:%s:%d", intentID, corrID, epochBucket))

	var salt [16]byte
	putUint32(salt[0:4], h1)
	putUint32(salt[4:8], h2)
	putUint32(salt[8:12], h3)
	putUint32(salt[12:16], h4)
	return salt
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// jitterFromSalt maps the salt's low 16 bits to a signed jitter in
// [-jitterMaxMs, +jitterMaxMs] per spec.md §4.7's formula.
func jitterFromSalt(salt [16]byte, jitterMaxMs int64) int64 {
	low16 := uint16(salt[14])<<8 | uint16(salt[15])
	normalized := (float64(low16)/float64(0xFFFF))*2 - 1
	return int64(math.Round(normalized * float64(jitterMaxMs)))
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
