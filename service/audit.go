package service

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"voteledger/blockchain"
	"voteledger/models"
	"voteledger/storage"
)

// Health is the classification of an election after an audit.
type Health string

const (
	HealthSafe     Health = "safe"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Policy thresholds of the classification, in percent of matching replicas.
const (
	SafeThreshold    = 95.0
	WarningThreshold = 80.0
)

// Classify returns the health matching the percentage of replicas that agree
// with the consensus.
func Classify(matchPercentage float64) Health {
	switch {
	case matchPercentage >= SafeThreshold:
		return HealthSafe
	case matchPercentage >= WarningThreshold:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// Discrepancy describes a replica that differs from the consensus. It never
// carries the content of the chain.
type Discrepancy struct {
	ReplicaID     string `json:"replica_id"`
	ChainLength   int    `json:"chain_length"`
	LastBlockHash string `json:"last_block_hash"`
}

type AuditReport struct {
	ElectionID           string                 `json:"election_id"`
	Replicas             int                    `json:"replicas"`
	Matches              int                    `json:"matches"`
	MatchPercentage      float64                `json:"match_percentage"`
	Health               Health                 `json:"classification"`
	ConsensusFingerprint blockchain.Fingerprint `json:"consensus_fingerprint"`
	ConsensusLength      int                    `json:"consensus_length"`
	ConsensusValid       bool                   `json:"consensus_valid"`
	Discrepancies        []Discrepancy          `json:"discrepancies"`
	AuditedAt            time.Time              `json:"audited_at"`
}

// Audit compares the fingerprint of every replica of the election with the
// fingerprint of the consensus. An election without replica is reported as
// fully matching.
func (s *LedgerService) Audit(ctx context.Context, electionID string) (AuditReport, error) {
	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return AuditReport{}, xerrors.Errorf("failed to list replicas: %v", err)
	}

	report, _, err := s.audit(electionID, replicas)
	if err != nil {
		return AuditReport{}, err
	}

	promMatch.WithLabelValues(electionID).Set(report.MatchPercentage)
	promChainLength.WithLabelValues(electionID).Set(float64(report.ConsensusLength))

	event := s.logger.Info()
	if report.Health != HealthSafe || !report.ConsensusValid {
		event = s.logger.Warn()
	}

	event.Str("election", electionID).
		Int("replicas", report.Replicas).
		Float64("match_pct", report.MatchPercentage).
		Str("health", string(report.Health)).
		Bool("consensus_valid", report.ConsensusValid).
		Msg("audit completed")

	return report, nil
}

// audit returns the report together with the consensus chain it was computed
// against.
func (s *LedgerService) audit(electionID string, replicas []storage.Replica) (AuditReport, models.Chain, error) {
	consensus, err := s.resolver.Resolve(electionID, storage.Chains(replicas))
	if err != nil {
		return AuditReport{}, nil, xerrors.Errorf("failed to resolve consensus: %w", err)
	}

	report := AuditReport{
		ElectionID:           electionID,
		Replicas:             len(replicas),
		ConsensusFingerprint: consensus.Fingerprint,
		ConsensusLength:      len(consensus.Chain),
		ConsensusValid:       blockchain.IsValidChain(consensus.Chain, electionID),
		Discrepancies:        []Discrepancy{},
		AuditedAt:            s.now(),
	}

	for _, replica := range replicas {
		if blockchain.FingerprintOf(replica.Chain) == consensus.Fingerprint {
			report.Matches++
			continue
		}

		d := Discrepancy{
			ReplicaID:   replica.ID,
			ChainLength: len(replica.Chain),
		}
		if len(replica.Chain) > 0 {
			d.LastBlockHash = replica.Chain.Last().Hash
		}

		report.Discrepancies = append(report.Discrepancies, d)
	}

	report.MatchPercentage = 100
	if report.Replicas > 0 {
		report.MatchPercentage = float64(report.Matches) * 100 / float64(report.Replicas)
	}
	report.Health = Classify(report.MatchPercentage)

	return report, consensus.Chain, nil
}
