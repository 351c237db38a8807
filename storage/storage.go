// Package storage defines the replica store consumed by the ledger services
// and provides in-memory, bbolt and JSON file implementations.
//
// Every implementation must make WriteAllReplicas atomic: either every replica
// of the election receives the chain, or none does.
package storage

import (
	"context"
	"sort"

	"golang.org/x/xerrors"

	"voteledger/models"
)

var (
	// ErrReplicaNotFound is returned when a replica does not exist for the
	// election.
	ErrReplicaNotFound = xerrors.New("replica not found")

	// ErrReplicaExists is returned when creating a replica that already
	// exists.
	ErrReplicaExists = xerrors.New("replica already exists")
)

// Replica is the copy of the chain owned by one voter record.
type Replica struct {
	ID    string       `json:"id"`
	Chain models.Chain `json:"chain"`
}

// ReplicaStore is the persistence collaborator of the ledger.
type ReplicaStore interface {
	// ListElections returns the elections that have at least one replica.
	ListElections(ctx context.Context) ([]string, error)

	// ListReplicas returns every replica of the election ordered by
	// identifier.
	ListReplicas(ctx context.Context, electionID string) ([]Replica, error)

	// ReadReplica returns the chain of one replica.
	ReadReplica(ctx context.Context, replicaID, electionID string) (models.Chain, error)

	// CreateReplica registers a new replica with its initial chain.
	CreateReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error

	// WriteAllReplicas atomically replaces the chain of every replica of the
	// election.
	WriteAllReplicas(ctx context.Context, electionID string, chain models.Chain) error

	// WriteReplica replaces the chain of a single replica.
	WriteReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error

	// Close releases the resources of the store.
	Close() error
}

// Chains extracts the chains of the replicas in order.
func Chains(replicas []Replica) []models.Chain {
	chains := make([]models.Chain, len(replicas))
	for i, r := range replicas {
		chains[i] = r.Chain
	}
	return chains
}

func sortReplicas(replicas []Replica) {
	sort.Slice(replicas, func(i, j int) bool {
		return replicas[i].ID < replicas[j].ID
	})
}
