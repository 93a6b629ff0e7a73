package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Constraints are optional client-supplied execution bounds (spec.md §6).
type Constraints struct {
	MinNetWei      *string `json:"min_net_wei,omitempty"`
	MaxStalenessMs *int64  `json:"max_staleness_ms,omitempty"`
	RevertShield   bool    `json:"revert_shield,omitempty"`
}

// Meta is optional client-supplied strategy metadata.
type Meta struct {
	StrategyKind string `json:"strategy_kind,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Payload is the submission boundary request body (spec.md §6).
type Payload struct {
	IntentID        string       `json:"intent_id"`
	TargetChain     string       `json:"target_chain"`
	TargetBlock     *int64       `json:"target_block,omitempty"`
	DeadlineMs      int64        `json:"deadline_ms"`
	MaxCalldataByte *int         `json:"max_calldata_bytes,omitempty"`
	Constraints     *Constraints `json:"constraints,omitempty"`
	Txs             []string     `json:"txs,omitempty"`
	Meta            *Meta        `json:"meta,omitempty"`
	Nonce           string       `json:"nonce,omitempty"` // optional client replay-guard token
	Account         string       `json:"account,omitempty"`
	NotionalWei     string       `json:"notional_wei,omitempty"`
	FeeGwei         *float64     `json:"fee_gwei,omitempty"`
}

// Canonicalize produces the stable byte encoding used to compute
// request_hash (C11): compact JSON with lexicographically sorted object
// keys at every level, so two structurally-equal payloads always hash the
// same regardless of field order.
func Canonicalize(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("pipeline: decode payload: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sortStrings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, elem := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
