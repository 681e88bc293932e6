// Copyright 2025 Certen Protocol
//
// Immutable signed vote records: BlockVote (vote on a block hash at a
// height/round) and LeaderVote (vote to replace a leader at a
// height/round). Grounded on loopchain's votes/v0_1a BlockVote/LeaderVote
// dataclasses and their frozen-record + back-door-constructor test idiom
// (testcase/unittest/blockchain/votes/v0_1a/test_block_vote.go equivalent).

package vote

import (
	"github.com/certen/independant-validator/pkg/types"
)

// hashGen renders the signed-digest fields for both vote kinds. The
// version/salt pair is a fixed domain separator, distinct from the block
// and transaction hash generators.
var hashGen = types.NewHashGenerator(1, "icx_vote")

// BlockVote is an immutable, signed vote cast by rep for (or against, via
// an empty block hash) a candidate block at a given height/round.
type BlockVote struct {
	Rep         types.Address20
	Timestamp   int64
	BlockHeight uint64
	Round       uint32
	BlockHash   types.Hash32
	Signature   types.Signature65
}

// NewBlockVote builds the production constructor: it derives the signed
// digest and signs it, producing a fully-formed immutable vote.
func NewBlockVote(rep types.Address20, timestamp int64, blockHeight uint64, round uint32, blockHash types.Hash32, sign func(types.Hash32) (types.Signature65, error)) (BlockVote, error) {
	v := BlockVote{Rep: rep, Timestamp: timestamp, BlockHeight: blockHeight, Round: round, BlockHash: blockHash}
	digest, err := v.Digest()
	if err != nil {
		return BlockVote{}, err
	}
	sig, err := sign(digest)
	if err != nil {
		return BlockVote{}, err
	}
	v.Signature = sig
	return v, nil
}

// NewTestBlockVote is a test-only constructor accepting arbitrary field
// values (including an already-computed signature), for adversarial
// inputs such as equivocating votes or forged signatures.
func NewTestBlockVote(rep types.Address20, timestamp int64, blockHeight uint64, round uint32, blockHash types.Hash32, sig types.Signature65) BlockVote {
	return BlockVote{Rep: rep, Timestamp: timestamp, BlockHeight: blockHeight, Round: round, BlockHash: blockHash, Signature: sig}
}

// Digest computes the signed-digest fields per §6: rep, timestamp,
// blockHeight, round, blockHash.
func (v BlockVote) Digest() (types.Hash32, error) {
	return hashGen.Gen(map[string]any{
		"rep":         v.Rep.String(),
		"timestamp":   v.Timestamp,
		"blockHeight": v.BlockHeight,
		"round":       v.Round,
		"blockHash":   v.BlockHash,
	})
}

// Result reports the vote's boolean outcome: true iff it endorses a
// non-empty block hash.
func (v BlockVote) Result() bool {
	return !v.BlockHash.Empty()
}

// IsEmpty reports whether v is the aggregator's empty-vote sentinel for a
// rep that has not yet voted.
func (v BlockVote) IsEmpty() bool {
	return v.Signature == (types.Signature65{})
}

// emptyBlockVoteFor returns the sentinel placeholder for a rep slot that
// has not yet received a real vote.
func emptyBlockVoteFor(rep types.Address20) BlockVote {
	return BlockVote{Rep: rep}
}

// LeaderVote is an immutable, signed request to replace oldLeader with
// newLeader at a given height/round. An empty newLeader signals
// abstention (the voter defers to the current plurality).
type LeaderVote struct {
	Rep         types.Address20
	Timestamp   int64
	BlockHeight uint64
	Round       uint32
	OldLeader   types.Address20
	NewLeader   types.Address20
	Signature   types.Signature65
}

// NewLeaderVote builds and signs a LeaderVote.
func NewLeaderVote(rep types.Address20, timestamp int64, blockHeight uint64, round uint32, oldLeader, newLeader types.Address20, sign func(types.Hash32) (types.Signature65, error)) (LeaderVote, error) {
	v := LeaderVote{Rep: rep, Timestamp: timestamp, BlockHeight: blockHeight, Round: round, OldLeader: oldLeader, NewLeader: newLeader}
	digest, err := v.Digest()
	if err != nil {
		return LeaderVote{}, err
	}
	sig, err := sign(digest)
	if err != nil {
		return LeaderVote{}, err
	}
	v.Signature = sig
	return v, nil
}

// NewTestLeaderVote is a test-only constructor taking arbitrary fields.
func NewTestLeaderVote(rep types.Address20, timestamp int64, blockHeight uint64, round uint32, oldLeader, newLeader types.Address20, sig types.Signature65) LeaderVote {
	return LeaderVote{Rep: rep, Timestamp: timestamp, BlockHeight: blockHeight, Round: round, OldLeader: oldLeader, NewLeader: newLeader, Signature: sig}
}

// Digest computes the signed-digest fields per §6: rep, timestamp,
// blockHeight, round, oldLeader, newLeader.
func (v LeaderVote) Digest() (types.Hash32, error) {
	return hashGen.Gen(map[string]any{
		"rep":         v.Rep.String(),
		"timestamp":   v.Timestamp,
		"blockHeight": v.BlockHeight,
		"round":       v.Round,
		"oldLeader":   v.OldLeader.String(),
		"newLeader":   v.NewLeader.String(),
	})
}

// Result returns the candidate new leader (possibly empty, signaling
// abstention toward the current plurality).
func (v LeaderVote) Result() types.Address20 {
	return v.NewLeader
}

// IsEmpty reports whether v is the aggregator's empty-vote sentinel.
func (v LeaderVote) IsEmpty() bool {
	return v.Signature == (types.Signature65{})
}

func emptyLeaderVoteFor(rep types.Address20) LeaderVote {
	return LeaderVote{Rep: rep}
}

// EmptyBlockVoteFor exposes the sentinel constructor to the votes package.
func EmptyBlockVoteFor(rep types.Address20) BlockVote { return emptyBlockVoteFor(rep) }

// EmptyLeaderVoteFor exposes the sentinel constructor to the votes package.
func EmptyLeaderVoteFor(rep types.Address20) LeaderVote { return emptyLeaderVoteFor(rep) }
