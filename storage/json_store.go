package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/xerrors"

	"voteledger/models"
)

// electionFile is the content of the file of one election.
type electionFile struct {
	ElectionID string                  `json:"election_id"`
	Replicas   map[string]models.Chain `json:"replicas"`
}

const lockFile = ".lock"

// JSONStore keeps one JSON file per election under the base directory. Files
// are read on every call so that edits made directly on disk are visible to
// the auditor. The directory is locked for the lifetime of the store so that
// only one process mutates it.
//
// - implements storage.ReplicaStore
type JSONStore struct {
	basePath string
	lock     *flock.Flock
	mu       sync.RWMutex
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, xerrors.Errorf("failed to create directory: %v", err)
	}

	lock := flock.New(filepath.Join(basePath, lockFile))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, xerrors.Errorf("failed to lock directory: %v", err)
	}
	if !locked {
		return nil, xerrors.Errorf("directory %s is used by another process", basePath)
	}

	return &JSONStore{basePath: basePath, lock: lock}, nil
}

// ListElections implements storage.ReplicaStore.
func (s *JSONStore) ListElections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(s.basePath, "election_*.json"))
	if err != nil {
		return nil, xerrors.Errorf("failed to list files: %v", err)
	}

	ids := make([]string, 0, len(files))
	for _, path := range files {
		content, err := readElectionFile(path)
		if err != nil {
			return nil, err
		}
		if len(content.Replicas) > 0 {
			ids = append(ids, content.ElectionID)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// ListReplicas implements storage.ReplicaStore.
func (s *JSONStore) ListReplicas(ctx context.Context, electionID string) ([]Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, err := s.load(electionID)
	if err != nil {
		return nil, err
	}

	replicas := make([]Replica, 0, len(content.Replicas))
	for id, chain := range content.Replicas {
		replicas = append(replicas, Replica{ID: id, Chain: chain})
	}
	sortReplicas(replicas)

	return replicas, nil
}

// ReadReplica implements storage.ReplicaStore.
func (s *JSONStore) ReadReplica(ctx context.Context, replicaID, electionID string) (models.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, err := s.load(electionID)
	if err != nil {
		return nil, err
	}

	chain, found := content.Replicas[replicaID]
	if !found {
		return nil, xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaNotFound)
	}

	return chain, nil
}

// CreateReplica implements storage.ReplicaStore.
func (s *JSONStore) CreateReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.load(electionID)
	if err != nil {
		return err
	}

	if _, found := content.Replicas[replicaID]; found {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaExists)
	}

	content.Replicas[replicaID] = chain

	return s.save(content)
}

// WriteAllReplicas implements storage.ReplicaStore. The whole election file is
// replaced at once.
func (s *JSONStore) WriteAllReplicas(ctx context.Context, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.load(electionID)
	if err != nil {
		return err
	}

	if len(content.Replicas) == 0 {
		return nil
	}

	for id := range content.Replicas {
		content.Replicas[id] = chain
	}

	return s.save(content)
}

// WriteReplica implements storage.ReplicaStore.
func (s *JSONStore) WriteReplica(ctx context.Context, replicaID, electionID string, chain models.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.load(electionID)
	if err != nil {
		return err
	}

	if _, found := content.Replicas[replicaID]; !found {
		return xerrors.Errorf("replica %q of %q: %w", replicaID, electionID, ErrReplicaNotFound)
	}

	content.Replicas[replicaID] = chain

	return s.save(content)
}

// Close implements storage.ReplicaStore. It releases the directory lock.
func (s *JSONStore) Close() error {
	err := s.lock.Unlock()
	if err != nil {
		return xerrors.Errorf("failed to unlock directory: %v", err)
	}

	return nil
}

func (s *JSONStore) path(electionID string) string {
	name := fmt.Sprintf("election_%s.json", hex.EncodeToString([]byte(electionID)))
	return filepath.Join(s.basePath, name)
}

func (s *JSONStore) load(electionID string) (*electionFile, error) {
	content, err := readElectionFile(s.path(electionID))
	if xerrors.Is(err, os.ErrNotExist) {
		return &electionFile{
			ElectionID: electionID,
			Replicas:   make(map[string]models.Chain),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return content, nil
}

func readElectionFile(path string) (*electionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	var content electionFile
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, xerrors.Errorf("failed to unmarshal %s: %v", path, err)
	}
	if content.Replicas == nil {
		content.Replicas = make(map[string]models.Chain)
	}

	return &content, nil
}

func (s *JSONStore) save(content *electionFile) error {
	path := s.path(content.ElectionID)

	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal replicas: %v", err)
	}

	// Write to temporary file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return xerrors.Errorf("failed to write replicas file: %v", err)
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // Clean up temp file if rename fails
		return xerrors.Errorf("failed to save replicas file: %v", err)
	}

	return nil
}
