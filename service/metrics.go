package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"voteledger"
)

// Outcome labels of the vote counter.
const (
	outcomeCommitted    = "committed"
	outcomeDuplicate    = "duplicate"
	outcomeInvalidChain = "invalid_chain"
	outcomeWriteFailure = "write_failure"
	outcomeRejected     = "rejected"
)

var (
	promVotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voteledger_votes_total",
		Help: "number of vote cast requests by outcome",
	}, []string{"outcome"})

	promAppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voteledger_append_duration_seconds",
		Help:    "duration of the append critical section",
		Buckets: prometheus.DefBuckets,
	})

	promMatch = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voteledger_audit_match_percentage",
		Help: "percentage of replicas matching the consensus at the last audit",
	}, []string{"election"})

	promChainLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voteledger_chain_blocks",
		Help: "number of blocks of the consensus chain at the last audit",
	}, []string{"election"})

	promRepairs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voteledger_repairs_total",
		Help: "number of replica repairs by outcome",
	}, []string{"outcome"})
)

func init() {
	voteledger.PromCollectors = append(voteledger.PromCollectors, promVotes,
		promAppendDuration, promMatch, promChainLength, promRepairs)
}
