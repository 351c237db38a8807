// Package anonymizer turns real voter identifiers into salted one-way
// pseudonyms. The pseudonym is the only voter-identifying material that ever
// reaches a block.
package anonymizer

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"
)

type Anonymizer struct {
	key []byte
}

// New returns an anonymizer keyed by the salt. The salt is itself digested so
// that it can have any length.
func New(salt string) (*Anonymizer, error) {
	if salt == "" {
		return nil, xerrors.New("salt must not be empty")
	}

	key := blake2b.Sum256([]byte(salt))

	return &Anonymizer{key: key[:]}, nil
}

// Pseudonymize returns the hex encoded keyed BLAKE2b-256 digest of the voter
// identifier.
func (a *Anonymizer) Pseudonymize(voterID string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		// the key is always 32 bytes long
		panic(err)
	}

	h.Write([]byte(voterID))

	return hex.EncodeToString(h.Sum(nil))
}
