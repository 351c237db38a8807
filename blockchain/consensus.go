package blockchain

import (
	"sort"

	"golang.org/x/xerrors"

	"voteledger/models"
)

// ErrConsensusAmbiguous is returned by a strict resolver when several replica
// groups tie for the largest membership.
var ErrConsensusAmbiguous = xerrors.New("consensus is ambiguous")

// Consensus is the outcome of a resolution over the replicas of an election.
type Consensus struct {
	Chain       models.Chain
	Fingerprint Fingerprint
	// Members is the number of replicas holding the consensus chain.
	Members int
	// Total is the number of replicas considered.
	Total int
	// Groups is the number of distinct chains found.
	Groups int
}

// Resolver selects the chain held by the largest group of replicas.
//
// Ties on the group size are broken by preferring the longest chain, then the
// lexically smallest fingerprint. When Strict is set, a tie on the group size
// is reported as ErrConsensusAmbiguous instead.
type Resolver struct {
	Strict bool
}

type group struct {
	fingerprint Fingerprint
	chain       models.Chain
	members     int
}

// Resolve returns the consensus among the chains. Without any chain, the
// genesis-only chain of the election is returned. A single chain is the
// consensus whatever its validity; callers validate the result.
func (r Resolver) Resolve(electionID string, chains []models.Chain) (Consensus, error) {
	if len(chains) == 0 {
		genesis := GenesisChain(electionID)

		return Consensus{
			Chain:       genesis,
			Fingerprint: FingerprintOf(genesis),
		}, nil
	}

	index := make(map[Fingerprint]*group)
	for _, chain := range chains {
		fp := FingerprintOf(chain)

		g, found := index[fp]
		if !found {
			g = &group{fingerprint: fp, chain: chain}
			index[fp] = g
		}
		g.members++
	}

	groups := make([]*group, 0, len(index))
	for _, g := range index {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.members != b.members {
			return a.members > b.members
		}
		if len(a.chain) != len(b.chain) {
			return len(a.chain) > len(b.chain)
		}
		return a.fingerprint < b.fingerprint
	})

	if r.Strict && len(groups) > 1 && groups[0].members == groups[1].members {
		return Consensus{}, xerrors.Errorf("%d groups of %d replicas: %w",
			countTied(groups), groups[0].members, ErrConsensusAmbiguous)
	}

	winner := groups[0]

	return Consensus{
		Chain:       winner.chain.Clone(),
		Fingerprint: winner.fingerprint,
		Members:     winner.members,
		Total:       len(chains),
		Groups:      len(groups),
	}, nil
}

func countTied(groups []*group) int {
	n := 1
	for n < len(groups) && groups[n].members == groups[0].members {
		n++
	}
	return n
}
