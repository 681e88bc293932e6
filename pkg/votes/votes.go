// Copyright 2025 Certen Protocol
//
// BlockVotes and LeaderVotes: the quorum-arithmetic state machines that
// drive block-finality and leader-rotation agreement. Grounded on
// certen-validator's pkg/consensus/types.go quorum helpers
// (ValidateThreshold, CalculateRequiredCount, IsByzantineFaultTolerant),
// generalized from a single threshold check into the full
// true/false/pending tri-state the loopchain vote tests
// (test_block_votes.py, test_leader_votes.py) exercise.

package votes

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/vote"
)

// Error kinds. ErrVoteSafeDuplicate is swallowed by AddVote; every other
// error propagates to the caller unchanged.
var (
	ErrHeightMismatch    = errors.New("votes: block height mismatch")
	ErrRoundMismatch     = errors.New("votes: round mismatch")
	ErrHashMismatch      = errors.New("votes: block hash mismatch")
	ErrOldLeaderMismatch = errors.New("votes: old leader mismatch")
	ErrNoRightRep        = errors.New("votes: rep not in rep set")
	ErrVoteSafeDuplicate = errors.New("votes: safe duplicate vote")
	ErrVoteDuplicate     = errors.New("votes: duplicate (equivocating) vote")
)

// quorum returns ceil(n * ratio).
func quorum(n int, ratio float64) int {
	return int(math.Ceil(float64(n) * ratio))
}

// MajorityEntry is one row of a GetMajority tally, sorted by Count desc.
type MajorityEntry[T comparable] struct {
	Value T
	Count int
}

// ---------------------------------------------------------------------
// BlockVotes
// ---------------------------------------------------------------------

// BlockVotes accumulates BlockVote submissions for a single (height,
// round, blockHash) channel and exposes the quorum-derived (result,
// completed) tuple. All mutation is serialized behind mu; AddVote is
// atomic with respect to GetResult/IsCompleted.
type BlockVotes struct {
	mu sync.Mutex

	reps        []types.Address20
	repIndex    map[types.Address20]int
	votingRatio float64
	blockHeight uint64
	round       uint32
	blockHash   types.Hash32

	votesSlice []vote.BlockVote

	result    *bool
	completed bool
}

// NewBlockVotes constructs a BlockVotes pre-populated with an empty-vote
// sentinel for every rep.
func NewBlockVotes(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, blockHash types.Hash32) *BlockVotes {
	return newBlockVotesWith(reps, votingRatio, blockHeight, round, blockHash, nil)
}

// NewBlockVotesFromVotes restores a BlockVotes from a previously observed
// votes slice (the round-trip constructor used by deserialization).
func NewBlockVotesFromVotes(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, blockHash types.Hash32, existing []vote.BlockVote) *BlockVotes {
	return newBlockVotesWith(reps, votingRatio, blockHeight, round, blockHash, existing)
}

func newBlockVotesWith(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, blockHash types.Hash32, existing []vote.BlockVote) *BlockVotes {
	repIndex := make(map[types.Address20]int, len(reps))
	votesSlice := make([]vote.BlockVote, len(reps))
	for i, r := range reps {
		repIndex[r] = i
		if existing != nil && i < len(existing) {
			votesSlice[i] = existing[i]
		} else {
			votesSlice[i] = vote.EmptyBlockVoteFor(r)
		}
	}

	bv := &BlockVotes{
		reps:        append([]types.Address20(nil), reps...),
		repIndex:    repIndex,
		votingRatio: votingRatio,
		blockHeight: blockHeight,
		round:       round,
		blockHash:   blockHash,
		votesSlice:  votesSlice,
	}
	bv.recomputeLocked()
	return bv
}

// Quorum returns ceil(len(reps) * votingRatio).
func (bv *BlockVotes) Quorum() int {
	return quorum(len(bv.reps), bv.votingRatio)
}

// Votes returns a copy of the current per-rep vote slots.
func (bv *BlockVotes) Votes() []vote.BlockVote {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	out := make([]vote.BlockVote, len(bv.votesSlice))
	copy(out, bv.votesSlice)
	return out
}

func (bv *BlockVotes) checkContext(v vote.BlockVote) error {
	if v.BlockHeight != bv.blockHeight {
		return fmt.Errorf("%w: vote height %d, expected %d", ErrHeightMismatch, v.BlockHeight, bv.blockHeight)
	}
	if v.Round != bv.round {
		return fmt.Errorf("%w: vote round %d, expected %d", ErrRoundMismatch, v.Round, bv.round)
	}
	if v.BlockHash != bv.blockHash && !v.BlockHash.Empty() {
		return fmt.Errorf("%w: vote block_hash %s, expected %s or empty", ErrHashMismatch, v.BlockHash, bv.blockHash)
	}
	if _, ok := bv.repIndex[v.Rep]; !ok {
		return fmt.Errorf("%w: %s", ErrNoRightRep, v.Rep)
	}
	return nil
}

func (bv *BlockVotes) checkSignature(v vote.BlockVote) error {
	digest, err := v.Digest()
	if err != nil {
		return err
	}
	return cryptosign.Verify(v.Rep, digest, v.Signature)
}

// verifyVoteLocked implements §4.4 verify_vote, in the order named there:
// context checks, then duplicate detection, then signature. Caller holds mu.
func (bv *BlockVotes) verifyVoteLocked(v vote.BlockVote) error {
	if err := bv.checkContext(v); err != nil {
		return err
	}

	idx := bv.repIndex[v.Rep]
	existing := bv.votesSlice[idx]
	if !existing.IsEmpty() {
		if existing == v {
			return ErrVoteSafeDuplicate
		}
		return fmt.Errorf("%w: rep %s already voted", ErrVoteDuplicate, v.Rep)
	}

	return bv.checkSignature(v)
}

// VerifyVote runs the read-only verification a caller can use before
// deciding whether to submit a vote; it never mutates state.
func (bv *BlockVotes) VerifyVote(v vote.BlockVote) error {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	return bv.verifyVoteLocked(v)
}

// AddVote verifies and records v. Per §5, the CPU-bound signature check
// runs before the channel lock is acquired; the lock then guards the
// atomic verify-then-mutate-then-recompute sequence. ErrVoteSafeDuplicate
// is swallowed (idempotent no-op); every other error propagates.
func (bv *BlockVotes) AddVote(v vote.BlockVote) error {
	if err := bv.checkContext(v); err != nil {
		return err
	}
	if err := bv.checkSignature(v); err != nil {
		return err
	}

	bv.mu.Lock()
	defer bv.mu.Unlock()

	if err := bv.verifyVoteLocked(v); err != nil {
		if errors.Is(err, ErrVoteSafeDuplicate) {
			return nil
		}
		return err
	}

	idx := bv.repIndex[v.Rep]
	bv.votesSlice[idx] = v
	bv.recomputeLocked()
	return nil
}

// recomputeLocked derives (result, completed) from the current tally.
// Once completed becomes true it is never unset by a later call: the
// tally is monotone because votes are never removed, only filled in.
func (bv *BlockVotes) recomputeLocked() {
	n := len(bv.reps)
	q := quorum(n, bv.votingRatio)

	trueCount, falseCount := 0, 0
	for _, v := range bv.votesSlice {
		if v.IsEmpty() {
			continue
		}
		if v.BlockHash == bv.blockHash {
			trueCount++
		} else if v.BlockHash.Empty() {
			falseCount++
		}
	}

	switch {
	case trueCount >= q:
		t := true
		bv.result, bv.completed = &t, true
	case falseCount > n-q:
		f := false
		bv.result, bv.completed = &f, true
	default:
		bv.result, bv.completed = nil, false
	}
}

// GetResult returns nil (pending), a pointer to true (quorum reached), or
// a pointer to false (quorum can no longer be reached).
func (bv *BlockVotes) GetResult() *bool {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	return bv.result
}

// IsCompleted reports whether the round has reached a final decision.
func (bv *BlockVotes) IsCompleted() bool {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	return bv.completed
}

// GetMajority tallies votes over {true, false}, sorted desc by count.
func (bv *BlockVotes) GetMajority() []MajorityEntry[bool] {
	bv.mu.Lock()
	defer bv.mu.Unlock()

	trueCount, falseCount := 0, 0
	for _, v := range bv.votesSlice {
		if v.IsEmpty() {
			continue
		}
		if v.BlockHash == bv.blockHash {
			trueCount++
		} else if v.BlockHash.Empty() {
			falseCount++
		}
	}

	entries := []MajorityEntry[bool]{{Value: true, Count: trueCount}, {Value: false, Count: falseCount}}
	if entries[1].Count > entries[0].Count {
		entries[0], entries[1] = entries[1], entries[0]
	}
	return entries
}

// Equal implements the round-trip property: two BlockVotes instances
// with the same parameters and the same observed vote slots compare equal.
func (bv *BlockVotes) Equal(other *BlockVotes) bool {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if bv.votingRatio != other.votingRatio || bv.blockHeight != other.blockHeight ||
		bv.round != other.round || bv.blockHash != other.blockHash || len(bv.reps) != len(other.reps) {
		return false
	}
	for i := range bv.reps {
		if bv.reps[i] != other.reps[i] {
			return false
		}
	}
	for i := range bv.votesSlice {
		if bv.votesSlice[i] != other.votesSlice[i] {
			return false
		}
	}
	return true
}

// SerializedVote is the wire form of one rep's vote slot: an empty
// placeholder ({}) for an unvoted slot, or the vote's field values.
type SerializedVote struct {
	Empty       bool
	Rep         types.Address20
	Timestamp   int64
	BlockHeight uint64
	Round       uint32
	BlockHash   types.Hash32
	Signature   types.Signature65
}

// SerializeBlockVotes converts the positional vote slice to its wire form.
func SerializeBlockVotes(votesSlice []vote.BlockVote) []SerializedVote {
	out := make([]SerializedVote, len(votesSlice))
	for i, v := range votesSlice {
		if v.IsEmpty() {
			out[i] = SerializedVote{Empty: true}
			continue
		}
		out[i] = SerializedVote{
			Rep: v.Rep, Timestamp: v.Timestamp, BlockHeight: v.BlockHeight,
			Round: v.Round, BlockHash: v.BlockHash, Signature: v.Signature,
		}
	}
	return out
}

// DeserializeBlockVotes rebuilds a positional BlockVote slice from its
// wire form, filling unvoted slots with the rep's empty sentinel.
func DeserializeBlockVotes(data []SerializedVote, reps []types.Address20) ([]vote.BlockVote, error) {
	if len(data) != len(reps) {
		return nil, fmt.Errorf("votes: serialized length %d does not match rep count %d", len(data), len(reps))
	}
	out := make([]vote.BlockVote, len(data))
	for i, sv := range data {
		if sv.Empty {
			out[i] = vote.EmptyBlockVoteFor(reps[i])
			continue
		}
		out[i] = vote.NewTestBlockVote(sv.Rep, sv.Timestamp, sv.BlockHeight, sv.Round, sv.BlockHash, sv.Signature)
	}
	return out, nil
}

// ---------------------------------------------------------------------
// LeaderVotes
// ---------------------------------------------------------------------

// LeaderVotes accumulates LeaderVote submissions for a single
// (height, round, oldLeader) channel. Unlike BlockVotes' closed two-value
// domain, a LeaderVote's candidate is an open address space, so an
// abstention (empty newLeader) cannot be tallied as "false" outright: per
// §4.5 it instead accrues to whichever non-empty candidate currently
// holds plurality, since an abstaining rep is read as deferring to
// whoever the rest of the channel is converging on. A round only
// fails outright (result = empty address, completed = true) once no
// candidate, including one that captured every still-outstanding vote,
// could possibly reach quorum.
type LeaderVotes struct {
	mu sync.Mutex

	reps        []types.Address20
	repIndex    map[types.Address20]int
	votingRatio float64
	blockHeight uint64
	round       uint32
	oldLeader   types.Address20

	votesSlice []vote.LeaderVote

	result    *types.Address20
	completed bool
}

// NewLeaderVotes constructs a LeaderVotes pre-populated with an
// empty-vote sentinel for every rep.
func NewLeaderVotes(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, oldLeader types.Address20) *LeaderVotes {
	return newLeaderVotesWith(reps, votingRatio, blockHeight, round, oldLeader, nil)
}

// NewLeaderVotesFromVotes restores a LeaderVotes from a previously
// observed votes slice.
func NewLeaderVotesFromVotes(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, oldLeader types.Address20, existing []vote.LeaderVote) *LeaderVotes {
	return newLeaderVotesWith(reps, votingRatio, blockHeight, round, oldLeader, existing)
}

func newLeaderVotesWith(reps []types.Address20, votingRatio float64, blockHeight uint64, round uint32, oldLeader types.Address20, existing []vote.LeaderVote) *LeaderVotes {
	repIndex := make(map[types.Address20]int, len(reps))
	votesSlice := make([]vote.LeaderVote, len(reps))
	for i, r := range reps {
		repIndex[r] = i
		if existing != nil && i < len(existing) {
			votesSlice[i] = existing[i]
		} else {
			votesSlice[i] = vote.EmptyLeaderVoteFor(r)
		}
	}

	lv := &LeaderVotes{
		reps:        append([]types.Address20(nil), reps...),
		repIndex:    repIndex,
		votingRatio: votingRatio,
		blockHeight: blockHeight,
		round:       round,
		oldLeader:   oldLeader,
		votesSlice:  votesSlice,
	}
	lv.recomputeLocked()
	return lv
}

// Quorum returns ceil(len(reps) * votingRatio).
func (lv *LeaderVotes) Quorum() int {
	return quorum(len(lv.reps), lv.votingRatio)
}

// Votes returns a copy of the current per-rep vote slots.
func (lv *LeaderVotes) Votes() []vote.LeaderVote {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	out := make([]vote.LeaderVote, len(lv.votesSlice))
	copy(out, lv.votesSlice)
	return out
}

func (lv *LeaderVotes) checkContext(v vote.LeaderVote) error {
	if v.BlockHeight != lv.blockHeight {
		return fmt.Errorf("%w: vote height %d, expected %d", ErrHeightMismatch, v.BlockHeight, lv.blockHeight)
	}
	if v.Round != lv.round {
		return fmt.Errorf("%w: vote round %d, expected %d", ErrRoundMismatch, v.Round, lv.round)
	}
	if v.OldLeader != lv.oldLeader {
		return fmt.Errorf("%w: vote old_leader %s, expected %s", ErrOldLeaderMismatch, v.OldLeader, lv.oldLeader)
	}
	if _, ok := lv.repIndex[v.Rep]; !ok {
		return fmt.Errorf("%w: %s", ErrNoRightRep, v.Rep)
	}
	return nil
}

func (lv *LeaderVotes) checkSignature(v vote.LeaderVote) error {
	digest, err := v.Digest()
	if err != nil {
		return err
	}
	return cryptosign.Verify(v.Rep, digest, v.Signature)
}

func (lv *LeaderVotes) verifyVoteLocked(v vote.LeaderVote) error {
	if err := lv.checkContext(v); err != nil {
		return err
	}

	idx := lv.repIndex[v.Rep]
	existing := lv.votesSlice[idx]
	if !existing.IsEmpty() {
		if existing == v {
			return ErrVoteSafeDuplicate
		}
		return fmt.Errorf("%w: rep %s already voted", ErrVoteDuplicate, v.Rep)
	}

	return lv.checkSignature(v)
}

// VerifyVote runs the read-only verification; it never mutates state.
func (lv *LeaderVotes) VerifyVote(v vote.LeaderVote) error {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.verifyVoteLocked(v)
}

// AddVote verifies and records v, mirroring BlockVotes.AddVote's
// lock-minimizing shape: the signature check runs before the lock.
func (lv *LeaderVotes) AddVote(v vote.LeaderVote) error {
	if err := lv.checkContext(v); err != nil {
		return err
	}
	if err := lv.checkSignature(v); err != nil {
		return err
	}

	lv.mu.Lock()
	defer lv.mu.Unlock()

	if err := lv.verifyVoteLocked(v); err != nil {
		if errors.Is(err, ErrVoteSafeDuplicate) {
			return nil
		}
		return err
	}

	idx := lv.repIndex[v.Rep]
	lv.votesSlice[idx] = v
	lv.recomputeLocked()
	return nil
}

// recomputeLocked derives (result, completed) per §4.5: find the unique
// non-empty candidate currently holding plurality, fold abstentions into
// its count, and decide quorum-reached / quorum-unreachable / pending.
func (lv *LeaderVotes) recomputeLocked() {
	n := len(lv.reps)
	q := quorum(n, lv.votingRatio)

	candidateCounts := make(map[types.Address20]int)
	emptyCount, notVoted := 0, 0
	for _, v := range lv.votesSlice {
		if v.IsEmpty() {
			notVoted++
			continue
		}
		if v.NewLeader.Empty() {
			emptyCount++
			continue
		}
		candidateCounts[v.NewLeader]++
	}

	leader, leaderCount, tie := pluralityCandidate(candidateCounts)

	if !tie && leaderCount > 0 && leaderCount+emptyCount >= q {
		l := leader
		lv.result, lv.completed = &l, true
		return
	}

	// Best case for the strongest candidate (tied or not; zero if none
	// exists yet): every abstention and every still-unvoted rep breaks
	// its way.
	best := 0
	for _, c := range candidateCounts {
		if c > best {
			best = c
		}
	}
	maxPossible := best + emptyCount + notVoted
	if maxPossible < q {
		empty := types.Address20{}
		lv.result, lv.completed = &empty, true
		return
	}

	lv.result, lv.completed = nil, false
}

// pluralityCandidate returns the unique candidate with the highest vote
// count. tie is true when two or more candidates share the maximum, in
// which case leader/count are the zero value and must not be used.
func pluralityCandidate(counts map[types.Address20]int) (leader types.Address20, count int, tie bool) {
	max := 0
	winners := 0
	for addr, c := range counts {
		switch {
		case c > max:
			max = c
			leader = addr
			winners = 1
		case c == max && c > 0:
			winners++
		}
	}
	if winners > 1 {
		return types.Address20{}, 0, true
	}
	return leader, max, false
}

// GetResult returns nil (pending), a pointer to the elected new leader
// (quorum reached), or a pointer to the empty address (the round failed:
// no candidate can reach quorum).
func (lv *LeaderVotes) GetResult() *types.Address20 {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.result
}

// IsCompleted reports whether the round has reached a final decision.
func (lv *LeaderVotes) IsCompleted() bool {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.completed
}

// GetMajority tallies votes over every observed candidate (including the
// empty/abstention pseudo-candidate), sorted desc by count.
func (lv *LeaderVotes) GetMajority() []MajorityEntry[types.Address20] {
	lv.mu.Lock()
	defer lv.mu.Unlock()

	counts := make(map[types.Address20]int)
	for _, v := range lv.votesSlice {
		if v.IsEmpty() {
			continue
		}
		counts[v.NewLeader]++
	}

	entries := make([]MajorityEntry[types.Address20], 0, len(counts))
	for addr, c := range counts {
		entries = append(entries, MajorityEntry[types.Address20]{Value: addr, Count: c})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Count > entries[j-1].Count; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries
}

// Equal implements the round-trip property for LeaderVotes.
func (lv *LeaderVotes) Equal(other *LeaderVotes) bool {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if lv.votingRatio != other.votingRatio || lv.blockHeight != other.blockHeight ||
		lv.round != other.round || lv.oldLeader != other.oldLeader || len(lv.reps) != len(other.reps) {
		return false
	}
	for i := range lv.reps {
		if lv.reps[i] != other.reps[i] {
			return false
		}
	}
	for i := range lv.votesSlice {
		if lv.votesSlice[i] != other.votesSlice[i] {
			return false
		}
	}
	return true
}

// SerializedLeaderVote is the wire form of one rep's leader-vote slot.
type SerializedLeaderVote struct {
	Empty       bool
	Rep         types.Address20
	Timestamp   int64
	BlockHeight uint64
	Round       uint32
	OldLeader   types.Address20
	NewLeader   types.Address20
	Signature   types.Signature65
}

// SerializeLeaderVotes converts the positional vote slice to its wire form.
func SerializeLeaderVotes(votesSlice []vote.LeaderVote) []SerializedLeaderVote {
	out := make([]SerializedLeaderVote, len(votesSlice))
	for i, v := range votesSlice {
		if v.IsEmpty() {
			out[i] = SerializedLeaderVote{Empty: true}
			continue
		}
		out[i] = SerializedLeaderVote{
			Rep: v.Rep, Timestamp: v.Timestamp, BlockHeight: v.BlockHeight, Round: v.Round,
			OldLeader: v.OldLeader, NewLeader: v.NewLeader, Signature: v.Signature,
		}
	}
	return out
}

// DeserializeLeaderVotes rebuilds a positional LeaderVote slice from its
// wire form, filling unvoted slots with the rep's empty sentinel.
func DeserializeLeaderVotes(data []SerializedLeaderVote, reps []types.Address20) ([]vote.LeaderVote, error) {
	if len(data) != len(reps) {
		return nil, fmt.Errorf("votes: serialized length %d does not match rep count %d", len(data), len(reps))
	}
	out := make([]vote.LeaderVote, len(data))
	for i, sv := range data {
		if sv.Empty {
			out[i] = vote.EmptyLeaderVoteFor(reps[i])
			continue
		}
		out[i] = vote.NewTestLeaderVote(sv.Rep, sv.Timestamp, sv.BlockHeight, sv.Round, sv.OldLeader, sv.NewLeader, sv.Signature)
	}
	return out, nil
}
