package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"voteledger/models"
)

var rootBucket = []byte("replicas")

// BoltStore is a replica store backed by bbolt. Each election is a nested
// bucket of the root bucket, keyed by replica identifier. A multi-replica
// write is a single bbolt transaction.
//
// - implements storage.ReplicaStore
type BoltStore struct {
	bolt *bbolt.DB
}

// NewBoltStore opens, or creates, the database file at the given path. The
// parent directory is created if it does not exist.
func NewBoltStore(path string) (*BoltStore, error) {
	err := os.MkdirAll(filepath.Dir(path), 0700)
	if err != nil {
		return nil, xerrors.Errorf("failed to create directory: %v", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("failed to create root bucket: %v", err)
	}

	return &BoltStore{bolt: db}, nil
}

// ListElections implements storage.ReplicaStore.
func (s *BoltStore) ListElections(ctx context.Context) ([]string, error) {
	var ids []string

	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			// nested buckets have a nil value
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to list elections: %v", err)
	}

	return ids, nil
}

// ListReplicas implements storage.ReplicaStore.
func (s *BoltStore) ListReplicas(ctx context.Context, electionID string) ([]Replica, error) {
	var replicas []Replica

	err := s.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(electionID))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var chain models.Chain
			err := json.Unmarshal(v, &chain)
			if err != nil {
				return xerrors.Errorf("failed to decode replica %q: %v", k, err)
			}

			replicas = append(replicas, Replica{ID: string(k), Chain: chain})
			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to list replicas: %w", err)
	}

	// bbolt iterates in key order already
	return replicas, nil
}

// ReadReplica implements storage.ReplicaStore.
func (s *BoltStore) ReadReplica(ctx context.Context, replicaID, electionID string) (models.Chain, error) {
	var chain models.Chain

	err := s.bolt.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(electionID))
		if bucket == nil {
			return ErrReplicaNotFound
		}

		data := bucket.Get([]byte(replicaID))
		if data == nil {
			return ErrReplicaNotFound
		}

		return json.Unmarshal(data, &chain)
	})
	if err != nil {
		return nil, xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, err)
	}

	return chain, nil
}

// CreateReplica implements storage.ReplicaStore.
func (s *BoltStore) CreateReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return xerrors.Errorf("failed to encode chain: %v", err)
	}

	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(electionID))
		if err != nil {
			return xerrors.Errorf("failed to create bucket: %v", err)
		}

		if bucket.Get([]byte(replicaID)) != nil {
			return ErrReplicaExists
		}

		return bucket.Put([]byte(replicaID), data)
	})
	if err != nil {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, err)
	}

	return nil
}

// WriteAllReplicas implements storage.ReplicaStore. Any failure rolls back the
// whole transaction.
func (s *BoltStore) WriteAllReplicas(ctx context.Context, electionID string, chain models.Chain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return xerrors.Errorf("failed to encode chain: %v", err)
	}

	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(electionID))
		if bucket == nil {
			return nil
		}

		// keys are collected first since the bucket must not be modified
		// while it is iterated
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			err = bucket.Put(key, data)
			if err != nil {
				return xerrors.Errorf("failed to write replica %q: %v", key, err)
			}
		}

		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to write replicas of %q: %w", electionID, err)
	}

	return nil
}

// WriteReplica implements storage.ReplicaStore.
func (s *BoltStore) WriteReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return xerrors.Errorf("failed to encode chain: %v", err)
	}

	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(electionID))
		if bucket == nil || bucket.Get([]byte(replicaID)) == nil {
			return ErrReplicaNotFound
		}

		return bucket.Put([]byte(replicaID), data)
	})
	if err != nil {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, err)
	}

	return nil
}

// Close implements storage.ReplicaStore.
func (s *BoltStore) Close() error {
	return s.bolt.Close()
}
