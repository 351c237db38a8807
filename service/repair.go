package service

import (
	"context"

	"golang.org/x/xerrors"

	"voteledger/blockchain"
	"voteledger/storage"
)

// RepairResult is the audit trail of a repair.
type RepairResult struct {
	ReplicaID      string                 `json:"replica_id"`
	ElectionID     string                 `json:"election_id"`
	OldLength      int                    `json:"old_length"`
	NewLength      int                    `json:"new_length"`
	OldFingerprint blockchain.Fingerprint `json:"old_fingerprint"`
	NewFingerprint blockchain.Fingerprint `json:"new_fingerprint"`
	// Changed is false when the replica already matched the consensus.
	Changed bool `json:"changed"`
}

// Repair replaces the chain of the replica by the consensus chain. The
// consensus must be valid. A replica that already matches is not written.
func (s *LedgerService) Repair(ctx context.Context, replicaID, electionID string) (RepairResult, error) {
	unlock := s.lock(electionID)
	defer unlock()

	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return RepairResult{}, xerrors.Errorf("failed to list replicas: %v", err)
	}

	var target *storage.Replica
	for i := range replicas {
		if replicas[i].ID == replicaID {
			target = &replicas[i]
			break
		}
	}

	if target == nil {
		promRepairs.WithLabelValues("not_found").Inc()
		return RepairResult{}, xerrors.Errorf("replica %q of %q: %w",
			replicaID, electionID, storage.ErrReplicaNotFound)
	}

	chain, err := s.validConsensus(electionID, replicas)
	if err != nil {
		promRepairs.WithLabelValues("invalid_consensus").Inc()
		return RepairResult{}, err
	}

	result := RepairResult{
		ReplicaID:      replicaID,
		ElectionID:     electionID,
		OldLength:      len(target.Chain),
		NewLength:      len(chain),
		OldFingerprint: blockchain.FingerprintOf(target.Chain),
		NewFingerprint: blockchain.FingerprintOf(chain),
	}

	if result.OldFingerprint == result.NewFingerprint {
		promRepairs.WithLabelValues("noop").Inc()
		return result, nil
	}

	err = s.store.WriteReplica(ctx, replicaID, electionID, chain)
	if err != nil {
		promRepairs.WithLabelValues("write_failure").Inc()
		return RepairResult{}, xerrors.Errorf("%v: %w", err, ErrWriteFailure)
	}

	result.Changed = true
	promRepairs.WithLabelValues("repaired").Inc()

	s.logger.Warn().
		Str("election", electionID).
		Str("replica", replicaID).
		Int("old_length", result.OldLength).
		Int("new_length", result.NewLength).
		Str("old_fingerprint", string(result.OldFingerprint)).
		Str("new_fingerprint", string(result.NewFingerprint)).
		Msg("replica repaired")

	return result, nil
}

// RepairDivergent audits the election and repairs every replica reported as
// divergent. It stops at the first failure and returns the repairs done so
// far.
func (s *LedgerService) RepairDivergent(ctx context.Context, electionID string) ([]RepairResult, error) {
	report, err := s.Audit(ctx, electionID)
	if err != nil {
		return nil, err
	}

	results := make([]RepairResult, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		result, err := s.Repair(ctx, d.ReplicaID, electionID)
		if err != nil {
			return results, xerrors.Errorf("failed to repair %q: %w", d.ReplicaID, err)
		}
		results = append(results, result)
	}

	return results, nil
}
