package storage

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"voteledger/models"
)

// MemStore keeps the replicas in memory. Chains are copied on the way in and
// out so callers never share memory with the store.
//
// - implements storage.ReplicaStore
type MemStore struct {
	mu        sync.RWMutex
	elections map[string]map[string]models.Chain
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		elections: make(map[string]map[string]models.Chain),
	}
}

// ListElections implements storage.ReplicaStore.
func (s *MemStore) ListElections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.elections))
	for id, replicas := range s.elections {
		if len(replicas) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// ListReplicas implements storage.ReplicaStore.
func (s *MemStore) ListReplicas(ctx context.Context, electionID string) ([]Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	replicas := make([]Replica, 0, len(s.elections[electionID]))
	for id, chain := range s.elections[electionID] {
		replicas = append(replicas, Replica{ID: id, Chain: chain.Clone()})
	}
	sortReplicas(replicas)

	return replicas, nil
}

// ReadReplica implements storage.ReplicaStore.
func (s *MemStore) ReadReplica(ctx context.Context, replicaID, electionID string) (models.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, found := s.elections[electionID][replicaID]
	if !found {
		return nil, xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaNotFound)
	}

	return chain.Clone(), nil
}

// CreateReplica implements storage.ReplicaStore.
func (s *MemStore) CreateReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replicas, found := s.elections[electionID]
	if !found {
		replicas = make(map[string]models.Chain)
		s.elections[electionID] = replicas
	}

	_, found = replicas[replicaID]
	if found {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaExists)
	}

	replicas[replicaID] = chain.Clone()

	return nil
}

// WriteAllReplicas implements storage.ReplicaStore. The write lock makes the
// update atomic with respect to the readers.
func (s *MemStore) WriteAllReplicas(ctx context.Context, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.elections[electionID] {
		s.elections[electionID][id] = chain.Clone()
	}

	return nil
}

// WriteReplica implements storage.ReplicaStore.
func (s *MemStore) WriteReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.elections[electionID][replicaID]
	if !found {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaNotFound)
	}

	s.elections[electionID][replicaID] = chain.Clone()

	return nil
}

// Close implements storage.ReplicaStore. It does nothing.
func (s *MemStore) Close() error {
	return nil
}
