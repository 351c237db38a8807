package models

const (
	// GenesisPrevHash is the previous-hash sentinel of the first block.
	GenesisPrevHash = "0"

	// GenesisMarker fills the candidate and voter fields of the genesis vote
	// data. No pseudonymized voter can collide with it since fingerprints are
	// hex digests.
	GenesisMarker = "genesis"
)

// VoteData is the payload recorded by a block. The voter is only known by its
// pseudonym.
type VoteData struct {
	ElectionID       string `json:"election_id"`
	CandidateID      string `json:"candidate_id"`
	VoterFingerprint string `json:"voter_fingerprint"`
}

type Block struct {
	Index     uint64   `json:"index"`
	Timestamp int64    `json:"timestamp"` // unix nanoseconds
	VoteData  VoteData `json:"vote_data"`
	PrevHash  string   `json:"prev_hash"`
	Hash      string   `json:"hash"`
	Nonce     uint64   `json:"nonce"`
}

// IsGenesis returns true if the block carries the genesis sentinels. It does
// not check the hash.
func (b Block) IsGenesis() bool {
	return b.Index == 0 &&
		b.Timestamp == 0 &&
		b.PrevHash == GenesisPrevHash &&
		b.VoteData.CandidateID == GenesisMarker &&
		b.VoteData.VoterFingerprint == GenesisMarker
}

// Chain is an ordered list of blocks starting at the genesis block.
type Chain []Block

// Last returns the most recent block. It panics on an empty chain.
func (c Chain) Last() Block {
	return c[len(c)-1]
}

// Votes returns the number of vote blocks, genesis excluded.
func (c Chain) Votes() int {
	if len(c) == 0 {
		return 0
	}
	return len(c) - 1
}

// Clone returns a copy that shares no memory with the original.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	cp := make(Chain, len(c))
	copy(cp, c)
	return cp
}

// Append returns a new chain with the block added at the end. The receiver is
// left untouched.
func (c Chain) Append(block Block) Chain {
	next := make(Chain, len(c), len(c)+1)
	copy(next, c)
	return append(next, block)
}
