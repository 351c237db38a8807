package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"voteledger/anonymizer"
	"voteledger/blockchain"
	"voteledger/models"
	"voteledger/registry"
	"voteledger/storage"
)

func TestLedgerService_CastVote_Scenario(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)
	ctx := context.Background()

	registerReplicas(t, srvc, "e1", 3)

	receipt, err := srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Index)
	require.Equal(t, "e1", receipt.ElectionID)

	replicas, err := store.ListReplicas(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, replicas, 3)
	for _, r := range replicas {
		require.Len(t, r.Chain, 2)
		require.Equal(t, receipt.BlockHash, r.Chain.Last().Hash)
	}

	_, err = srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.True(t, xerrors.Is(err, ErrDuplicateVote), err)
	requireChainLength(t, store, "e1", 2)

	_, err = srvc.CastVote(ctx, "e1", "cand-B", "voter-2")
	require.NoError(t, err)
	requireChainLength(t, store, "e1", 3)
}

func TestLedgerService_CastVote_ChainGrowth(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)

	registerReplicas(t, srvc, "e1", 2)

	n := 10
	for i := 0; i < n; i++ {
		_, err := srvc.CastVote(context.Background(), "e1", "cand-A", fmt.Sprintf("voter-%d", i))
		require.NoError(t, err)
	}

	replicas, err := store.ListReplicas(context.Background(), "e1")
	require.NoError(t, err)

	for _, r := range replicas {
		require.Len(t, r.Chain, n+1)
		for i, block := range r.Chain {
			require.Equal(t, uint64(i), block.Index)
		}
		require.NoError(t, blockchain.ValidateChain(r.Chain, "e1"))
	}
}

func TestLedgerService_CastVote_NeverStoresVoterID(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)

	registerReplicas(t, srvc, "e1", 1)

	_, err := srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	chain := readAny(t, store, "e1")
	require.NotEqual(t, "voter-1", chain[1].VoteData.VoterFingerprint)
	require.NotContains(t, chain[1].VoteData.VoterFingerprint, "voter-1")
}

func TestLedgerService_CastVote_SameVoterOtherElection(t *testing.T) {
	srvc := newTestService(t, storage.NewMemStore())

	registerReplicas(t, srvc, "e1", 1)
	registerReplicas(t, srvc, "e2", 1)

	_, err := srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	_, err = srvc.CastVote(context.Background(), "e2", "cand-A", "voter-1")
	require.NoError(t, err)
}

func TestLedgerService_CastVote_NoReplicas(t *testing.T) {
	srvc := newTestService(t, storage.NewMemStore())

	_, err := srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.True(t, xerrors.Is(err, ErrNoReplicas), err)
}

func TestLedgerService_CastVote_BadRequest(t *testing.T) {
	srvc := newTestService(t, storage.NewMemStore())

	_, err := srvc.CastVote(context.Background(), "e1", "cand-A", "")
	require.EqualError(t, err, "voter id is required")

	_, err = srvc.CastVote(context.Background(), "e1", "", "voter-1")
	require.EqualError(t, err, "election and candidate are required")
}

func TestLedgerService_CastVote_Catalog(t *testing.T) {
	catalog, err := registry.NewStaticCatalog(registry.Election{ID: "e1", Candidates: []string{"cand-A"}})
	require.NoError(t, err)

	srvc := newTestService(t, storage.NewMemStore(), WithCatalog(catalog))

	_, err = srvc.CastVote(context.Background(), "e2", "cand-A", "voter-1")
	require.True(t, xerrors.Is(err, ErrUnknownElection), err)

	_, err = srvc.CastVote(context.Background(), "e1", "cand-B", "voter-1")
	require.True(t, xerrors.Is(err, ErrUnknownCandidate), err)

	_, err = srvc.RegisterReplica(context.Background(), "e2", "")
	require.True(t, xerrors.Is(err, ErrUnknownElection), err)

	registerReplicas(t, srvc, "e1", 1)

	_, err = srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.NoError(t, err)
}

func TestLedgerService_CastVote_InvalidChain(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)
	ctx := context.Background()

	registerReplicas(t, srvc, "e1", 3)

	_, err := srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	// every replica holds the same forged chain so it is the consensus
	chain := readAny(t, store, "e1")
	chain[1].VoteData.CandidateID = "cand-B"
	require.NoError(t, store.WriteAllReplicas(ctx, "e1", chain))

	_, err = srvc.CastVote(ctx, "e1", "cand-A", "voter-2")
	require.True(t, xerrors.Is(err, blockchain.ErrInvalidChain), err)

	var invalid blockchain.InvalidChainError
	require.True(t, xerrors.As(err, &invalid))
	require.Equal(t, 1, invalid.Index)

	// no write occurred
	require.Equal(t, chain, readAny(t, store, "e1"))
}

func TestLedgerService_CastVote_RetriesWriteFailure(t *testing.T) {
	store := &failingStore{MemStore: storage.NewMemStore(), failures: 2}
	srvc := newTestService(t, store, WithWriteRetries(2))

	registerReplicas(t, srvc, "e1", 2)

	receipt, err := srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.NoError(t, err)
	require.Equal(t, int32(3), store.calls.Load())
	require.Equal(t, receipt.BlockHash, readAny(t, store, "e1").Last().Hash)
}

func TestLedgerService_CastVote_WriteFailure(t *testing.T) {
	store := &failingStore{MemStore: storage.NewMemStore(), failures: 100}
	srvc := newTestService(t, store, WithWriteRetries(1))

	registerReplicas(t, srvc, "e1", 2)

	_, err := srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.True(t, xerrors.Is(err, ErrWriteFailure), err)
	require.Equal(t, int32(2), store.calls.Load())

	requireChainLength(t, store.MemStore, "e1", 1)
}

func TestLedgerService_CastVote_Canceled(t *testing.T) {
	srvc := newTestService(t, storage.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.Equal(t, context.Canceled, err)
}

func TestLedgerService_CastVote_Concurrent(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)

	registerReplicas(t, srvc, "e1", 3)
	registerReplicas(t, srvc, "e2", 1)

	n := 20

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)

	for i := 0; i < n; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()
			_, err := srvc.CastVote(context.Background(), "e1", "cand-A", fmt.Sprintf("voter-%d", i))
			errs <- err
		}(i)

		go func(i int) {
			defer wg.Done()
			_, err := srvc.CastVote(context.Background(), "e2", "cand-A", fmt.Sprintf("voter-%d", i))
			errs <- err
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	replicas, err := store.ListReplicas(context.Background(), "e1")
	require.NoError(t, err)

	for _, r := range replicas {
		require.Len(t, r.Chain, n+1)
		require.NoError(t, blockchain.ValidateChain(r.Chain, "e1"))
		require.Equal(t, blockchain.FingerprintOf(replicas[0].Chain), blockchain.FingerprintOf(r.Chain))
	}

	requireChainLength(t, store, "e2", n+1)
}

func TestLedgerService_CastVote_StrictConsensus(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store, WithStrictConsensus())
	ctx := context.Background()

	registerReplicas(t, srvc, "e1", 2)

	_, err := srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	// split the replicas in two groups of one
	require.NoError(t, store.WriteReplica(ctx, "replica-0", "e1", blockchain.GenesisChain("e1")))

	_, err = srvc.CastVote(ctx, "e1", "cand-A", "voter-2")
	require.True(t, xerrors.Is(err, blockchain.ErrConsensusAmbiguous), err)
}

func TestLedgerService_CastVote_MinorityReplicaIgnored(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)
	ctx := context.Background()

	registerReplicas(t, srvc, "e1", 3)

	_, err := srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	tamperReplica(t, store, "replica-0", "e1")

	_, err = srvc.CastVote(ctx, "e1", "cand-A", "voter-2")
	require.NoError(t, err)

	// the vote overwrites every replica, the tampered one included
	replicas, err := store.ListReplicas(ctx, "e1")
	require.NoError(t, err)
	for _, r := range replicas {
		require.Len(t, r.Chain, 3)
		require.NoError(t, blockchain.ValidateChain(r.Chain, "e1"))
	}
}

func TestLedgerService_RegisterReplica(t *testing.T) {
	store := storage.NewMemStore()
	srvc := newTestService(t, store)
	ctx := context.Background()

	id, err := srvc.RegisterReplica(ctx, "e1", "")
	require.NoError(t, err)
	require.Len(t, id, 36)

	chain, err := store.ReadReplica(ctx, id, "e1")
	require.NoError(t, err)
	require.Equal(t, blockchain.GenesisChain("e1"), chain)

	_, err = srvc.CastVote(ctx, "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	// a late replica starts with the current consensus
	_, err = srvc.RegisterReplica(ctx, "e1", "late")
	require.NoError(t, err)

	chain, err = store.ReadReplica(ctx, "late", "e1")
	require.NoError(t, err)
	require.Len(t, chain, 2)

	_, err = srvc.RegisterReplica(ctx, "e1", "late")
	require.True(t, xerrors.Is(err, storage.ErrReplicaExists), err)

	_, err = srvc.RegisterReplica(ctx, "", "")
	require.EqualError(t, err, "election is required")
}

func TestLedgerService_Consensus(t *testing.T) {
	srvc := newTestService(t, storage.NewMemStore())

	consensus, err := srvc.Consensus(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, blockchain.GenesisChain("e1"), consensus.Chain)

	registerReplicas(t, srvc, "e1", 2)

	_, err = srvc.CastVote(context.Background(), "e1", "cand-A", "voter-1")
	require.NoError(t, err)

	consensus, err = srvc.Consensus(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, consensus.Chain, 2)
	require.Equal(t, 2, consensus.Members)
}

// -----------------------------------------------------------------------------
// Utility functions

func newTestService(t *testing.T, store storage.ReplicaStore, opts ...Option) *LedgerService {
	anon, err := anonymizer.New("test-salt")
	require.NoError(t, err)

	var tick int64
	clock := func() time.Time {
		return time.Unix(1700000000+atomic.AddInt64(&tick, 1), 0)
	}

	opts = append([]Option{WithClock(clock), WithLogger(zerolog.Nop())}, opts...)

	return NewLedgerService(store, anon, opts...)
}

func registerReplicas(t *testing.T, srvc *LedgerService, electionID string, n int) {
	for i := 0; i < n; i++ {
		_, err := srvc.RegisterReplica(context.Background(), electionID, fmt.Sprintf("replica-%d", i))
		require.NoError(t, err)
	}
}

func readAny(t *testing.T, store storage.ReplicaStore, electionID string) models.Chain {
	replicas, err := store.ListReplicas(context.Background(), electionID)
	require.NoError(t, err)
	require.NotEmpty(t, replicas)

	return replicas[0].Chain
}

func requireChainLength(t *testing.T, store storage.ReplicaStore, electionID string, n int) {
	replicas, err := store.ListReplicas(context.Background(), electionID)
	require.NoError(t, err)

	for _, r := range replicas {
		require.Len(t, r.Chain, n, "replica %s", r.ID)
	}
}

// tamperReplica edits a vote of the replica without updating the hashes, as a
// direct edit of the store would.
func tamperReplica(t *testing.T, store storage.ReplicaStore, replicaID, electionID string) {
	chain, err := store.ReadReplica(context.Background(), replicaID, electionID)
	require.NoError(t, err)
	require.True(t, len(chain) > 1)

	chain[1].VoteData.CandidateID = "forged"
	require.NoError(t, store.WriteReplica(context.Background(), replicaID, electionID, chain))
}

// failingStore fails the first multi-replica writes.
type failingStore struct {
	*storage.MemStore
	failures int32
	calls    atomic.Int32
}

func (s *failingStore) WriteAllReplicas(ctx context.Context, electionID string, chain models.Chain) error {
	if s.calls.Add(1) <= s.failures {
		return xerrors.New("disk is full")
	}

	return s.MemStore.WriteAllReplicas(ctx, electionID, chain)
}
