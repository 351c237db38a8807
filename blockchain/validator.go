package blockchain

import (
	"fmt"

	"golang.org/x/xerrors"

	"voteledger/models"
)

// ErrInvalidChain is matched by every InvalidChainError.
var ErrInvalidChain = xerrors.New("invalid chain")

// InvalidChainError reports the first block of a chain that breaks a
// structural or hash-linkage rule.
type InvalidChainError struct {
	Index  int
	Reason string
}

func (e InvalidChainError) Error() string {
	return fmt.Sprintf("invalid chain at block %d: %s", e.Index, e.Reason)
}

// Is implements the errors.Is interface.
func (e InvalidChainError) Is(target error) bool {
	return target == ErrInvalidChain
}

// ValidateBlock checks the block against its predecessor and returns the reason
// of the failure, or an empty string.
func ValidateBlock(block, previous models.Block) string {
	if block.Index != previous.Index+1 {
		return fmt.Sprintf("index %d does not follow %d", block.Index, previous.Index)
	}

	if block.PrevHash != previous.Hash {
		return "previous hash link broken"
	}

	if Hash(block) != block.Hash {
		return "hash mismatch"
	}

	if !HasWork(block.Hash) {
		return "proof of work not satisfied"
	}

	return ""
}

// IsValidBlock returns true if the block correctly follows the previous one.
func IsValidBlock(block, previous models.Block) bool {
	return ValidateBlock(block, previous) == ""
}

// ValidateChain walks the chain from the genesis block and returns an
// InvalidChainError for the first failure. Every block must belong to the
// expected election.
func ValidateChain(chain models.Chain, electionID string) error {
	if len(chain) == 0 {
		return InvalidChainError{Index: 0, Reason: "empty chain"}
	}

	if !chain[0].IsGenesis() {
		return InvalidChainError{Index: 0, Reason: "malformed genesis block"}
	}

	if chain[0] != CreateGenesis(electionID) {
		return InvalidChainError{Index: 0, Reason: "genesis block does not match the election"}
	}

	for i := 1; i < len(chain); i++ {
		if chain[i].VoteData.ElectionID != electionID {
			return InvalidChainError{Index: i, Reason: "foreign election"}
		}

		reason := ValidateBlock(chain[i], chain[i-1])
		if reason != "" {
			return InvalidChainError{Index: i, Reason: reason}
		}
	}

	return nil
}

// IsValidChain returns true if the chain is valid for the election.
func IsValidChain(chain models.Chain, electionID string) bool {
	return ValidateChain(chain, electionID) == nil
}
