// Package blockchain implements the block codec, the chain validator and the
// consensus resolver of the replicated vote ledger.
//
// The proof-of-work predicate is a single leading hex zero. It only makes
// forging a block slightly more expensive than editing a field; it is not a
// security boundary against someone with direct access to the store.
package blockchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"voteledger/models"
)

// WorkPrefix is the prefix every block hash must start with.
const WorkPrefix = "0"

// Pseudonymizer turns a real voter identifier into the fingerprint stored in
// the blocks.
type Pseudonymizer interface {
	Pseudonymize(voterID string) string
}

// Fingerprint identifies the content of a chain. Two chains with the same
// fingerprint have the same blocks.
type Fingerprint string

// Hash returns the hex encoded SHA-256 digest of the canonical encoding of the
// block fields. The hash field itself is ignored.
func Hash(b models.Block) string {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.BigEndian, b.Index)
	binary.Write(buffer, binary.BigEndian, b.Timestamp)
	writeString(buffer, b.VoteData.ElectionID)
	writeString(buffer, b.VoteData.CandidateID)
	writeString(buffer, b.VoteData.VoterFingerprint)
	writeString(buffer, b.PrevHash)
	binary.Write(buffer, binary.BigEndian, b.Nonce)

	hash := sha256.Sum256(buffer.Bytes())
	return hex.EncodeToString(hash[:])
}

// writeString writes a length-prefixed string so that field boundaries cannot
// be shifted between two adjacent fields.
func writeString(buffer *bytes.Buffer, s string) {
	binary.Write(buffer, binary.BigEndian, uint32(len(s)))
	buffer.WriteString(s)
}

// HasWork returns true if the hash satisfies the proof-of-work predicate.
func HasWork(hash string) bool {
	return strings.HasPrefix(hash, WorkPrefix)
}

// Mine searches the smallest nonce, starting from zero, for which the block
// hash satisfies the proof-of-work predicate. It returns the completed block.
func Mine(b models.Block) models.Block {
	var nonce uint64
	for {
		b.Nonce = nonce
		b.Hash = Hash(b)

		if HasWork(b.Hash) {
			return b
		}

		nonce++
	}
}

// CreateGenesis returns the genesis block of the election. Every field is a
// sentinel so the block is identical for every replica of the election.
func CreateGenesis(electionID string) models.Block {
	return Mine(models.Block{
		Index:     0,
		Timestamp: 0,
		VoteData: models.VoteData{
			ElectionID:       electionID,
			CandidateID:      models.GenesisMarker,
			VoterFingerprint: models.GenesisMarker,
		},
		PrevHash: models.GenesisPrevHash,
	})
}

// GenesisChain returns a chain made only of the genesis block of the election.
func GenesisChain(electionID string) models.Chain {
	return models.Chain{CreateGenesis(electionID)}
}

// CreateNext builds and mines the block following the previous one. The voter
// identifier is pseudonymized and never stored as is.
func CreateNext(previous models.Block, electionID, candidateID, voterID string,
	p Pseudonymizer, now time.Time) models.Block {

	return Mine(models.Block{
		Index:     previous.Index + 1,
		Timestamp: now.UnixNano(),
		VoteData: models.VoteData{
			ElectionID:       electionID,
			CandidateID:      candidateID,
			VoterFingerprint: p.Pseudonymize(voterID),
		},
		PrevHash: previous.Hash,
	})
}

// FingerprintOf digests the concatenation of the block hashes in order.
func FingerprintOf(chain models.Chain) Fingerprint {
	parts := make([][]byte, len(chain))
	for i, block := range chain {
		parts[i] = []byte(block.Hash)
	}

	return Fingerprint(hexutil.Encode(crypto.Keccak256(parts...)))
}
