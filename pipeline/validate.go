package pipeline

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"kestrel/intent"
)

const maxEnclosedTxs = 16

// ValidateStage implements C4's Validate step: hex/RLP-prefix well-formedness
// and a minimum-length cryptographic sanity check on any enclosed raw
// transactions. It does not simulate or execute them (that belongs to the
// out-of-core simulator, an explicit external collaborator).
type ValidateStage struct{}

func NewValidateStage() *ValidateStage { return &ValidateStage{} }

func (s *ValidateStage) Name() string               { return "validate" }
func (s *ValidateStage) SuccessState() intent.State { return intent.StateValidated }

// Run implements Stage.
func (s *ValidateStage) Run(ctx context.Context, pc Context) (bool, *Failure, error) {
	var payload Payload
	if err := json.Unmarshal(pc.Intent.Payload, &payload); err != nil {
		return false, fail(CodeValidationBadTx, CategoryValidation, "payload is not decodable", nil), nil
	}

	if len(payload.Txs) > maxEnclosedTxs {
		return false, fail(CodeValidationTooMany, CategoryValidation, "too many enclosed transactions", map[string]any{
			"count": len(payload.Txs),
			"limit": maxEnclosedTxs,
		}), nil
	}

	for i, raw := range payload.Txs {
		trimmed := strings.TrimPrefix(raw, "0x")
		decoded, err := hex.DecodeString(trimmed)
		if err != nil {
			return false, fail(CodeValidationBadTx, CategoryValidation, "enclosed transaction is not valid hex", map[string]any{
				"index": i,
			}), nil
		}
		// RLP-encoded transactions always carry a list prefix byte ≥ 0xc0; a
		// shorter or non-list-prefixed blob cannot be a well-formed signed
		// transaction.
		if len(decoded) < 10 || decoded[0] < 0xc0 {
			return false, fail(CodeValidationBadTx, CategoryValidation, "enclosed transaction is not a well-formed RLP list", map[string]any{
				"index": i,
			}), nil
		}
		// Cryptographic well-formedness: the transaction's content hash must
		// be computable. Keccak256 returns a 32-byte digest for any input, so
		// this check rejects nothing that passed the length check above.
		digest := crypto.Keccak256(decoded)
		if len(digest) != 32 {
			return false, fail(CodeValidationBadSig, CategoryValidation, "enclosed transaction digest malformed", map[string]any{
				"index": i,
			}), nil
		}
	}

	return true, nil, nil
}
