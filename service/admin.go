package service

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/xerrors"
)

type AdminCredentials struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadOrGenerateAdminKey reads the admin key from the credentials file, or
// generates and saves a new one when the file does not exist.
func LoadOrGenerateAdminKey(path string) (*ecdsa.PrivateKey, error) {
	// Try to load existing admin credentials
	data, err := os.ReadFile(path)
	if err == nil {
		var creds AdminCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, xerrors.Errorf("failed to parse admin credentials: %v", err)
		}

		// Remove "0x" prefix if present
		privateKeyHex := strings.TrimPrefix(creds.PrivateKey, "0x")
		privateKey, err := crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return nil, xerrors.Errorf("failed to restore admin private key: %v", err)
		}

		return privateKey, nil
	}

	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("failed to read admin credentials: %v", err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Errorf("failed to generate admin key: %v", err)
	}

	creds := AdminCredentials{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}

	data, err = json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal admin credentials: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, xerrors.Errorf("failed to create credentials directory: %v", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, xerrors.Errorf("failed to save admin credentials: %v", err)
	}

	return privateKey, nil
}

// repairDigest is the digest an admin signs to authorize the repair of a
// replica.
func repairDigest(electionID, replicaID string) []byte {
	return crypto.Keccak256([]byte("repair:" + electionID + ":" + replicaID))
}

// SignRepair returns the hex encoded signature authorizing the repair.
func SignRepair(key *ecdsa.PrivateKey, electionID, replicaID string) (string, error) {
	sig, err := crypto.Sign(repairDigest(electionID, replicaID), key)
	if err != nil {
		return "", xerrors.Errorf("failed to sign: %v", err)
	}

	return hexutil.Encode(sig), nil
}

// AdminAuthorizer accepts the requests signed by the admin key.
type AdminAuthorizer struct {
	address common.Address
}

func NewAdminAuthorizer(pub ecdsa.PublicKey) *AdminAuthorizer {
	return &AdminAuthorizer{
		address: crypto.PubkeyToAddress(pub),
	}
}

// Address returns the hex address of the admin.
func (a *AdminAuthorizer) Address() string {
	return a.address.Hex()
}

// AuthorizeRepair returns ErrUnauthorized unless the signature over the repair
// digest was produced by the admin key.
func (a *AdminAuthorizer) AuthorizeRepair(electionID, replicaID, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return xerrors.Errorf("malformed signature: %w", ErrUnauthorized)
	}

	pub, err := crypto.SigToPub(repairDigest(electionID, replicaID), sig)
	if err != nil {
		return xerrors.Errorf("unrecoverable signature: %w", ErrUnauthorized)
	}

	if crypto.PubkeyToAddress(*pub) != a.address {
		return xerrors.Errorf("signer is not the admin: %w", ErrUnauthorized)
	}

	return nil
}
