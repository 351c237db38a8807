package service

import "golang.org/x/xerrors"

var (
	// ErrDuplicateVote is returned when the voter already has a block for the
	// election.
	ErrDuplicateVote = xerrors.New("voter has already voted in this election")

	// ErrNoReplicas is returned when a vote cannot be durably recorded because
	// the election has no replica. Reads of such an election fall back to the
	// genesis-only chain, but a vote is refused rather than minted on top of
	// it, since it would be written nowhere.
	ErrNoReplicas = xerrors.New("election has no replica")

	// ErrWriteFailure is returned when the multi-replica write did not commit.
	// The ledger is unchanged and the vote can be retried.
	ErrWriteFailure = xerrors.New("replica write failed")

	// ErrUnknownElection is returned for an election missing from the
	// catalog.
	ErrUnknownElection = xerrors.New("unknown election")

	// ErrUnknownCandidate is returned for a candidate missing from the
	// catalog.
	ErrUnknownCandidate = xerrors.New("unknown candidate")

	// ErrUnauthorized is returned when an admin signature is rejected.
	ErrUnauthorized = xerrors.New("unauthorized")
)
