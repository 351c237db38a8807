package service

import (
	"context"

	"golang.org/x/xerrors"
)

type Statistics struct {
	ElectionID      string         `json:"election_id"`
	TotalBlocks     int            `json:"total_blocks"`
	TotalVotes      int            `json:"total_votes"`
	Replicas        int            `json:"replicas"`
	MatchPercentage float64        `json:"match_percentage"`
	Health          Health         `json:"classification"`
	Tally           map[string]int `json:"tally"`
}

// Statistics summarizes the consensus chain and the integrity of the
// election from a single snapshot of the replicas.
func (s *LedgerService) Statistics(ctx context.Context, electionID string) (Statistics, error) {
	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return Statistics{}, xerrors.Errorf("failed to list replicas: %v", err)
	}

	report, chain, err := s.audit(electionID, replicas)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		ElectionID:      electionID,
		TotalBlocks:     len(chain),
		TotalVotes:      chain.Votes(),
		Replicas:        report.Replicas,
		MatchPercentage: report.MatchPercentage,
		Health:          report.Health,
		Tally:           make(map[string]int),
	}

	// candidates without any vote are still reported
	if s.catalog != nil {
		for _, candidate := range s.catalog.Candidates(electionID) {
			stats.Tally[candidate] = 0
		}
	}

	for i := 1; i < len(chain); i++ {
		stats.Tally[chain[i].VoteData.CandidateID]++
	}

	return stats, nil
}
