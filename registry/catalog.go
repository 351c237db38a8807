// Package registry provides the election catalog consulted before a vote is
// recorded. The ledger only needs to know which elections and candidates
// exist.
package registry

import (
	"sort"
	"sync"

	"golang.org/x/xerrors"
)

// Catalog defines the methods required to validate a vote request and to
// report the results of an election.
type Catalog interface {
	ElectionExists(electionID string) bool
	CandidateExists(electionID, candidateID string) bool
	Candidates(electionID string) []string
}

// Election is the catalog entry of one election.
type Election struct {
	ID         string   `json:"id" yaml:"id"`
	Candidates []string `json:"candidates" yaml:"candidates"`
}

// StaticCatalog is an in-memory catalog.
//
// - implements registry.Catalog
type StaticCatalog struct {
	mu        sync.RWMutex
	elections map[string]map[string]bool
}

// NewStaticCatalog creates a catalog populated with the elections.
func NewStaticCatalog(elections ...Election) (*StaticCatalog, error) {
	catalog := &StaticCatalog{
		elections: make(map[string]map[string]bool),
	}

	for _, e := range elections {
		err := catalog.AddElection(e)
		if err != nil {
			return nil, err
		}
	}

	return catalog, nil
}

// AddElection adds or replaces an election.
func (c *StaticCatalog) AddElection(e Election) error {
	if err := validateElection(e); err != nil {
		return xerrors.Errorf("invalid election %q: %v", e.ID, err)
	}

	candidates := make(map[string]bool, len(e.Candidates))
	for _, id := range e.Candidates {
		candidates[id] = true
	}

	c.mu.Lock()
	c.elections[e.ID] = candidates
	c.mu.Unlock()

	return nil
}

func validateElection(e Election) error {
	if e.ID == "" {
		return xerrors.New("id is required")
	}
	if len(e.Candidates) == 0 {
		return xerrors.New("at least one candidate is required")
	}

	seen := make(map[string]bool)
	for _, id := range e.Candidates {
		if id == "" {
			return xerrors.New("candidate id is required")
		}
		if seen[id] {
			return xerrors.Errorf("duplicate candidate %q", id)
		}
		seen[id] = true
	}
	return nil
}

// ElectionExists implements registry.Catalog.
func (c *StaticCatalog) ElectionExists(electionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, found := c.elections[electionID]
	return found
}

// CandidateExists implements registry.Catalog.
func (c *StaticCatalog) CandidateExists(electionID, candidateID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.elections[electionID][candidateID]
}

// Candidates implements registry.Catalog. The candidates are sorted.
func (c *StaticCatalog) Candidates(electionID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.elections[electionID]))
	for id := range c.elections[electionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
