// Package service implements the operations of the replicated vote ledger:
// casting a vote, auditing the replicas, repairing them and reporting
// statistics.
//
// Every mutation of an election goes through a per-election mutex so that two
// votes can never be minted on top of the same predecessor.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/xerrors"

	"voteledger"
	"voteledger/blockchain"
	"voteledger/models"
	"voteledger/registry"
	"voteledger/storage"
)

const defaultWriteRetries = 3

type LedgerService struct {
	store    storage.ReplicaStore
	anon     blockchain.Pseudonymizer
	catalog  registry.Catalog
	resolver blockchain.Resolver
	locks    *skipmap.FuncMap[string, *sync.Mutex]
	retries  int
	now      func() time.Time
	logger   zerolog.Logger
}

// Option is the type of the options to create a ledger service.
type Option func(*LedgerService)

// WithCatalog sets the catalog used to reject unknown elections and
// candidates. Without it, every election and candidate is accepted.
func WithCatalog(catalog registry.Catalog) Option {
	return func(s *LedgerService) {
		s.catalog = catalog
	}
}

// WithStrictConsensus makes a tie between replica groups an error instead of
// applying the tie-break policy.
func WithStrictConsensus() Option {
	return func(s *LedgerService) {
		s.resolver.Strict = true
	}
}

// WithWriteRetries sets how many times a failed replica write is retried
// before the vote is reported as failed.
func WithWriteRetries(n int) Option {
	return func(s *LedgerService) {
		s.retries = n
	}
}

// WithClock sets the source of the block timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// WithLogger sets the logger of the service.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *LedgerService) {
		s.logger = logger
	}
}

// NewLedgerService creates a ledger service on top of the replica store.
func NewLedgerService(store storage.ReplicaStore, anon blockchain.Pseudonymizer, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:   store,
		anon:    anon,
		retries: defaultWriteRetries,
		now:     time.Now,
		logger:  voteledger.Logger,
		locks: skipmap.NewFunc[string, *sync.Mutex](func(a, b string) bool {
			return a < b
		}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With().Str("component", "ledger").Logger()

	return s
}

// Receipt is returned for a committed vote.
type Receipt struct {
	ElectionID string `json:"election_id"`
	BlockHash  string `json:"block_hash"`
	Index      uint64 `json:"index"`
}

// lock takes the mutex of the election and returns the function to release
// it.
func (s *LedgerService) lock(electionID string) func() {
	mu, _ := s.locks.LoadOrStore(electionID, new(sync.Mutex))
	mu.Lock()

	return mu.Unlock
}

// CastVote records the vote in every replica of the election. A write failure
// is retried a bounded number of times, each attempt restarting from the
// consensus resolution.
func (s *LedgerService) CastVote(ctx context.Context, electionID, candidateID, voterID string) (Receipt, error) {
	err := s.checkVote(electionID, candidateID, voterID)
	if err != nil {
		promVotes.WithLabelValues(outcomeRejected).Inc()
		return Receipt{}, err
	}

	var receipt Receipt

	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctx.Err() != nil {
			return Receipt{}, ctx.Err()
		}

		start := time.Now()
		receipt, err = s.appendVote(ctx, electionID, candidateID, voterID)
		promAppendDuration.Observe(time.Since(start).Seconds())

		if !xerrors.Is(err, ErrWriteFailure) {
			break
		}

		s.logger.Warn().Err(err).
			Str("election", electionID).
			Int("attempt", attempt+1).
			Msg("replica write failed")
	}

	switch {
	case err == nil:
		promVotes.WithLabelValues(outcomeCommitted).Inc()
	case xerrors.Is(err, ErrDuplicateVote):
		promVotes.WithLabelValues(outcomeDuplicate).Inc()
	case xerrors.Is(err, blockchain.ErrInvalidChain):
		promVotes.WithLabelValues(outcomeInvalidChain).Inc()
		s.logger.Error().Err(err).Str("election", electionID).Msg("consensus chain is invalid")
	case xerrors.Is(err, ErrWriteFailure):
		promVotes.WithLabelValues(outcomeWriteFailure).Inc()
	default:
		promVotes.WithLabelValues(outcomeRejected).Inc()
	}

	if err != nil {
		return Receipt{}, err
	}

	s.logger.Info().
		Str("election", electionID).
		Uint64("index", receipt.Index).
		Str("block_hash", receipt.BlockHash).
		Msg("vote committed")

	return receipt, nil
}

func (s *LedgerService) checkVote(electionID, candidateID, voterID string) error {
	if voterID == "" {
		return xerrors.New("voter id is required")
	}

	if s.catalog == nil {
		if electionID == "" || candidateID == "" {
			return xerrors.New("election and candidate are required")
		}
		return nil
	}

	if !s.catalog.ElectionExists(electionID) {
		return xerrors.Errorf("%q: %w", electionID, ErrUnknownElection)
	}
	if !s.catalog.CandidateExists(electionID, candidateID) {
		return xerrors.Errorf("%q: %w", candidateID, ErrUnknownCandidate)
	}

	return nil
}

// appendVote is the critical section of a vote: resolve, validate, mint and
// write, under the election lock.
func (s *LedgerService) appendVote(ctx context.Context, electionID, candidateID, voterID string) (Receipt, error) {
	unlock := s.lock(electionID)
	defer unlock()

	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return Receipt{}, xerrors.Errorf("failed to list replicas: %v", err)
	}

	if len(replicas) == 0 {
		return Receipt{}, xerrors.Errorf("%q: %w", electionID, ErrNoReplicas)
	}

	chain, err := s.validConsensus(electionID, replicas)
	if err != nil {
		return Receipt{}, err
	}

	pseudonym := s.anon.Pseudonymize(voterID)
	for _, block := range chain[1:] {
		if block.VoteData.ElectionID == electionID && block.VoteData.VoterFingerprint == pseudonym {
			return Receipt{}, xerrors.Errorf("block %d: %w", block.Index, ErrDuplicateVote)
		}
	}

	block := blockchain.CreateNext(chain.Last(), electionID, candidateID, voterID, s.anon, s.now())
	extended := chain.Append(block)

	err = s.store.WriteAllReplicas(ctx, electionID, extended)
	if err != nil {
		return Receipt{}, xerrors.Errorf("%v: %w", err, ErrWriteFailure)
	}

	return Receipt{
		ElectionID: electionID,
		BlockHash:  block.Hash,
		Index:      block.Index,
	}, nil
}

// validConsensus resolves the consensus among the replicas and makes sure it
// is a valid chain of the election.
func (s *LedgerService) validConsensus(electionID string, replicas []storage.Replica) (models.Chain, error) {
	consensus, err := s.resolver.Resolve(electionID, storage.Chains(replicas))
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve consensus: %w", err)
	}

	err = blockchain.ValidateChain(consensus.Chain, electionID)
	if err != nil {
		return nil, xerrors.Errorf("consensus of %d/%d replicas: %w",
			consensus.Members, consensus.Total, err)
	}

	return consensus.Chain, nil
}

// RegisterReplica creates the replica of a new voter record. It is seeded with
// the current consensus chain, which is the genesis-only chain while the
// election has no vote. An empty identifier is replaced by a random one.
func (s *LedgerService) RegisterReplica(ctx context.Context, electionID, replicaID string) (string, error) {
	if s.catalog != nil && !s.catalog.ElectionExists(electionID) {
		return "", xerrors.Errorf("%q: %w", electionID, ErrUnknownElection)
	}
	if electionID == "" {
		return "", xerrors.New("election is required")
	}

	if replicaID == "" {
		replicaID = uuid.New().String()
	}

	unlock := s.lock(electionID)
	defer unlock()

	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return "", xerrors.Errorf("failed to list replicas: %v", err)
	}

	chain, err := s.validConsensus(electionID, replicas)
	if err != nil {
		return "", err
	}

	err = s.store.CreateReplica(ctx, replicaID, electionID, chain)
	if err != nil {
		return "", xerrors.Errorf("failed to create replica: %w", err)
	}

	s.logger.Info().
		Str("election", electionID).
		Str("replica", replicaID).
		Int("blocks", len(chain)).
		Msg("replica registered")

	return replicaID, nil
}

// Consensus returns the consensus of the election without validating it. It
// does not take the election lock; the result is a snapshot.
func (s *LedgerService) Consensus(ctx context.Context, electionID string) (blockchain.Consensus, error) {
	replicas, err := s.store.ListReplicas(ctx, electionID)
	if err != nil {
		return blockchain.Consensus{}, xerrors.Errorf("failed to list replicas: %v", err)
	}

	consensus, err := s.resolver.Resolve(electionID, storage.Chains(replicas))
	if err != nil {
		return blockchain.Consensus{}, xerrors.Errorf("failed to resolve consensus: %w", err)
	}

	return consensus, nil
}
