// Copyright 2025 Certen Protocol
//
// Round controller: the consensus glue named in spec §2 item 7. Given a
// produced block, the leader collects BlockVotes until completion; when
// the block votes complete false, reps produce LeaderVotes and elect a
// new leader. A timeout alone does not open a leader election. Adapted from
// ConsensusHealthMonitor's shape (bracketed logger, mutex-guarded status,
// callback hooks, ticker-driven watch loop) generalized from "watch
// CometBFT height" to "watch one round's vote completion".

package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/vote"
	"github.com/certen/independant-validator/pkg/votes"
)

// Status is one of the three user-visible round outcomes named in §7.
type Status int

const (
	StatusPending Status = iota
	StatusDecidedTrue
	StatusDecidedFalseOrElected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDecidedTrue:
		return "decided_true"
	case StatusDecidedFalseOrElected:
		return "decided_false_or_elected"
	default:
		return "unknown"
	}
}

// ErrRoundTimedOut is returned by Await when the round's deadline elapses
// before the round reaches a final status.
var ErrRoundTimedOut = errors.New("consensus: round timed out before block votes completed")

// Signer is the subset of cryptosign.Signer the round controller needs.
type Signer interface {
	Address() types.Address20
	SignHash(types.Hash32) (types.Signature65, error)
}

// Broadcaster best-effort fans out votes to the rest of the channel. Per
// §5, failure to deliver to any subset of peers must not affect
// aggregator correctness.
type Broadcaster interface {
	BroadcastBlockVote(vote.BlockVote) error
	BroadcastLeaderVote(vote.LeaderVote) error
}

// RoundConfig parameterizes a round's quorum ratios and timeout. Per
// §4.5, these are always constructor parameters, never hardcoded.
type RoundConfig struct {
	BlockVotingRatio  float64
	LeaderVotingRatio float64
	RoundTimeout      time.Duration
}

// DefaultRoundConfig returns the loopchain-conventional ratios: 0.67 for
// block votes, 0.51 for leader votes.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		BlockVotingRatio:  0.67,
		LeaderVotingRatio: 0.51,
		RoundTimeout:      10 * time.Second,
	}
}

// Round owns exactly one (height, round) attempt's BlockVotes channel
// and, if that channel completes with a false result, the LeaderVotes
// channel that follows it. Reaching RoundTimeout without a decision
// does not open the LeaderVotes channel. A Round is discarded once it
// reaches a final status; a fresh round increments the round number.
type Round struct {
	mu sync.RWMutex

	id     string
	logger *log.Logger

	reps        []types.Address20
	signer      Signer
	broadcaster Broadcaster
	cfg         RoundConfig

	height    uint64
	round     uint32
	blockHash types.Hash32
	oldLeader types.Address20

	blockVotes  *votes.BlockVotes
	leaderVotes *votes.LeaderVotes

	status    Status
	createdAt time.Time
	metrics   *metrics.Registry

	onDecided func(status Status, blockResult *bool, newLeader *types.Address20)
}

// NewRound constructs a round controller for (height, round), already
// collecting votes for blockHash. metrics may be nil.
func NewRound(reps []types.Address20, signer Signer, broadcaster Broadcaster, cfg RoundConfig, height uint64, round uint32, blockHash types.Hash32, oldLeader types.Address20, reg *metrics.Registry) *Round {
	id := GenerateRoundID(height, round)
	r := &Round{
		id:          id,
		logger:      log.New(log.Writer(), fmt.Sprintf("[round %s] ", id), log.LstdFlags),
		reps:        append([]types.Address20(nil), reps...),
		signer:      signer,
		broadcaster: broadcaster,
		cfg:         cfg,
		height:      height,
		round:       round,
		blockHash:   blockHash,
		oldLeader:   oldLeader,
		blockVotes:  votes.NewBlockVotes(reps, cfg.BlockVotingRatio, height, round, blockHash),
		status:      StatusPending,
		createdAt:   time.Now(),
		metrics:     reg,
	}
	r.metrics.IncActiveRounds()
	return r
}

// OnDecided registers a callback fired exactly once when the round
// reaches a final status.
func (r *Round) OnDecided(fn func(status Status, blockResult *bool, newLeader *types.Address20)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDecided = fn
}

// CastBlockVote signs and broadcasts this node's own block vote, then
// folds it into the local tally.
func (r *Round) CastBlockVote(result bool, timestamp int64) error {
	blockHash := types.Hash32{}
	if result {
		blockHash = r.blockHash
	}
	v, err := vote.NewBlockVote(r.signer.Address(), timestamp, r.height, r.round, blockHash, r.signer.SignHash)
	if err != nil {
		return fmt.Errorf("consensus: cast block vote: %w", err)
	}
	if r.broadcaster != nil {
		if err := r.broadcaster.BroadcastBlockVote(v); err != nil {
			r.logger.Printf("broadcast block vote: %v", err)
		}
	}
	return r.SubmitBlockVote(v)
}

// SubmitBlockVote folds an externally-received block vote into the
// round's tally and updates status if it just completed.
func (r *Round) SubmitBlockVote(v vote.BlockVote) error {
	if err := r.blockVotes.AddVote(v); err != nil {
		if errors.Is(err, votes.ErrVoteDuplicate) {
			r.metrics.ObserveByzantineEquivocation("block_vote")
		}
		return err
	}
	r.metrics.ObserveBlockVote(blockVoteResultLabel(v))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return nil
	}
	if !r.blockVotes.IsCompleted() {
		return nil
	}

	result := r.blockVotes.GetResult()
	if result != nil && *result {
		r.status = StatusDecidedTrue
		r.logger.Printf("block votes reached quorum true at height=%d round=%d", r.height, r.round)
		r.metrics.ObserveRoundDecided(r.status.String(), time.Since(r.createdAt).Seconds())
		r.metrics.SetCurrentHeight(r.height)
		r.metrics.DecActiveRounds()
		r.fireDecidedLocked(result, nil)
		return nil
	}

	r.logger.Printf("block votes failed at height=%d round=%d, opening leader election", r.height, r.round)
	r.leaderVotes = votes.NewLeaderVotes(r.reps, r.cfg.LeaderVotingRatio, r.height, r.round, r.oldLeader)
	return nil
}

func blockVoteResultLabel(v vote.BlockVote) string {
	if v.IsEmpty() {
		return "empty"
	}
	if v.Result() {
		return "true"
	}
	return "false"
}

// CastLeaderVote signs and broadcasts a leader vote (newLeader may be
// empty to abstain toward the current plurality), then folds it into
// the local tally. Valid only once the block-vote channel has opened a
// leader election.
func (r *Round) CastLeaderVote(newLeader types.Address20, timestamp int64) error {
	r.mu.RLock()
	lv := r.leaderVotes
	r.mu.RUnlock()
	if lv == nil {
		return fmt.Errorf("consensus: no leader election open for height=%d round=%d", r.height, r.round)
	}

	v, err := vote.NewLeaderVote(r.signer.Address(), timestamp, r.height, r.round, r.oldLeader, newLeader, r.signer.SignHash)
	if err != nil {
		return fmt.Errorf("consensus: cast leader vote: %w", err)
	}
	if r.broadcaster != nil {
		if err := r.broadcaster.BroadcastLeaderVote(v); err != nil {
			r.logger.Printf("broadcast leader vote: %v", err)
		}
	}
	return r.SubmitLeaderVote(v)
}

// SubmitLeaderVote folds an externally-received leader vote into the
// round's leader-election tally.
func (r *Round) SubmitLeaderVote(v vote.LeaderVote) error {
	r.mu.RLock()
	lv := r.leaderVotes
	r.mu.RUnlock()
	if lv == nil {
		return fmt.Errorf("consensus: no leader election open for height=%d round=%d", r.height, r.round)
	}

	if err := lv.AddVote(v); err != nil {
		if errors.Is(err, votes.ErrVoteDuplicate) {
			r.metrics.ObserveByzantineEquivocation("leader_vote")
		}
		return err
	}
	if v.IsEmpty() || v.Result().Empty() {
		r.metrics.ObserveLeaderVote("empty")
	} else {
		r.metrics.ObserveLeaderVote("candidate")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending || !lv.IsCompleted() {
		return nil
	}

	result := lv.GetResult()
	r.status = StatusDecidedFalseOrElected
	elected := "none"
	if result != nil {
		elected = result.String()
	}
	r.logger.Printf("leader votes completed at height=%d round=%d, elected=%s", r.height, r.round, elected)
	r.metrics.ObserveRoundDecided(r.status.String(), time.Since(r.createdAt).Seconds())
	r.metrics.DecActiveRounds()
	r.fireDecidedLocked(nil, result)
	return nil
}

func (r *Round) fireDecidedLocked(blockResult *bool, newLeader *types.Address20) {
	if r.onDecided == nil {
		return
	}
	status, cb := r.status, r.onDecided
	go cb(status, blockResult, newLeader)
}

// Status returns the round's current user-visible status.
func (r *Round) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Await blocks until the round reaches a final status or ctx/deadline
// elapses, polling at a short fixed interval. The block-vote/leader-vote
// channels themselves are never polled internally (AddVote is what
// drives state forward) — Await exists purely for callers that want a
// synchronous wait instead of registering OnDecided.
func (r *Round) Await(ctx context.Context) (Status, error) {
	deadline := time.NewTimer(r.cfg.RoundTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s := r.Status(); s != StatusPending {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return r.Status(), ctx.Err()
		case <-deadline.C:
			return r.Status(), ErrRoundTimedOut
		case <-ticker.C:
		}
	}
}
