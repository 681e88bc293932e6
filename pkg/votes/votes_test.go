package votes

import (
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/vote"
)

type testRep struct {
	addr   types.Address20
	signer *cryptosign.Signer
}

func makeReps(t *testing.T, n int) []testRep {
	t.Helper()
	reps := make([]testRep, n)
	for i := 0; i < n; i++ {
		priv, err := gethcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		signer, err := cryptosign.NewSigner(gethcrypto.FromECDSA(priv))
		if err != nil {
			t.Fatalf("NewSigner: %v", err)
		}
		reps[i] = testRep{addr: signer.Address(), signer: signer}
	}
	return reps
}

func addresses(reps []testRep) []types.Address20 {
	out := make([]types.Address20, len(reps))
	for i, r := range reps {
		out[i] = r.addr
	}
	return out
}

func castBlockVote(t *testing.T, rep testRep, height uint64, round uint32, blockHash types.Hash32, ts int64) vote.BlockVote {
	t.Helper()
	v, err := vote.NewBlockVote(rep.addr, ts, height, round, blockHash, rep.signer.SignHash)
	if err != nil {
		t.Fatalf("NewBlockVote: %v", err)
	}
	return v
}

func castLeaderVote(t *testing.T, rep testRep, height uint64, round uint32, oldLeader, newLeader types.Address20, ts int64) vote.LeaderVote {
	t.Helper()
	v, err := vote.NewLeaderVote(rep.addr, ts, height, round, oldLeader, newLeader, rep.signer.SignHash)
	if err != nil {
		t.Fatalf("NewLeaderVote: %v", err)
	}
	return v
}

// S1: enough true votes to reach quorum decides the round true.
func TestBlockVotesTrueQuorumReached(t *testing.T) {
	reps := makeReps(t, 4)
	blockHash, _ := types.HashFromBytes([]byte("block-1-111111111111111111111111"))
	bv := NewBlockVotes(addresses(reps), 0.51, 10, 0, blockHash)

	for i := 0; i < 3; i++ {
		v := castBlockVote(t, reps[i], 10, 0, blockHash, time.Now().Unix())
		require.NoError(t, bv.AddVote(v), "AddVote[%d]", i)
	}

	require.True(t, bv.IsCompleted(), "expected round completed after quorum reached")
	result := bv.GetResult()
	require.NotNil(t, result)
	require.True(t, *result)
}

// S2: enough false votes that true quorum is no longer reachable decides
// the round false (exhaustion), even though not every rep has voted.
func TestBlockVotesFalseExhaustion(t *testing.T) {
	reps := makeReps(t, 4)
	blockHash, _ := types.HashFromBytes([]byte("block-1-111111111111111111111111"))
	bv := NewBlockVotes(addresses(reps), 0.75, 10, 0, blockHash)

	for i := 0; i < 2; i++ {
		v := castBlockVote(t, reps[i], 10, 0, types.Hash32{}, time.Now().Unix())
		require.NoError(t, bv.AddVote(v), "AddVote[%d]", i)
	}

	require.True(t, bv.IsCompleted(), "expected round completed once true quorum is unreachable")
	result := bv.GetResult()
	require.NotNil(t, result)
	require.False(t, *result)
}

// S3: an equivocating rep (different vote content, same rep, same round)
// is rejected with ErrVoteDuplicate and does not alter the tally.
func TestBlockVotesRejectsEquivocation(t *testing.T) {
	reps := makeReps(t, 4)
	blockHashA, _ := types.HashFromBytes([]byte("block-a-aaaaaaaaaaaaaaaaaaaaaaaa"))
	bv := NewBlockVotes(addresses(reps), 0.51, 10, 0, blockHashA)

	first := castBlockVote(t, reps[0], 10, 0, blockHashA, 1000)
	require.NoError(t, bv.AddVote(first))

	second := castBlockVote(t, reps[0], 10, 0, types.Hash32{}, 1001)
	err := bv.AddVote(second)
	require.ErrorIs(t, err, ErrVoteDuplicate)

	votesSlice := bv.Votes()
	require.Equal(t, first, votesSlice[0], "equivocating vote must not overwrite the original")
}

// S4: resubmitting the identical vote is a safe no-op, not an error.
func TestBlockVotesAbsorbsSafeDuplicate(t *testing.T) {
	reps := makeReps(t, 4)
	blockHash, _ := types.HashFromBytes([]byte("block-1-111111111111111111111111"))
	bv := NewBlockVotes(addresses(reps), 0.51, 10, 0, blockHash)

	v := castBlockVote(t, reps[0], 10, 0, blockHash, 1000)
	require.NoError(t, bv.AddVote(v))
	require.NoError(t, bv.AddVote(v), "resubmitting the identical vote should be a no-op")
}

func TestBlockVotesRejectsWrongContext(t *testing.T) {
	reps := makeReps(t, 4)
	blockHash, _ := types.HashFromBytes([]byte("block-1-111111111111111111111111"))
	bv := NewBlockVotes(addresses(reps), 0.51, 10, 0, blockHash)

	wrongHeight := castBlockVote(t, reps[0], 11, 0, blockHash, 1000)
	require.ErrorIs(t, bv.AddVote(wrongHeight), ErrHeightMismatch)

	wrongRound := castBlockVote(t, reps[0], 10, 1, blockHash, 1000)
	require.ErrorIs(t, bv.AddVote(wrongRound), ErrRoundMismatch)

	otherBlockHash, _ := types.HashFromBytes([]byte("block-2-222222222222222222222222"))
	wrongHash := castBlockVote(t, reps[0], 10, 0, otherBlockHash, 1000)
	require.ErrorIs(t, bv.AddVote(wrongHash), ErrHashMismatch)

	outsider := makeReps(t, 1)[0]
	notARep := castBlockVote(t, outsider, 10, 0, blockHash, 1000)
	require.ErrorIs(t, bv.AddVote(notARep), ErrNoRightRep)
}

func TestBlockVotesSerializeRoundTrip(t *testing.T) {
	reps := makeReps(t, 3)
	blockHash, _ := types.HashFromBytes([]byte("block-1-111111111111111111111111"))
	bv := NewBlockVotes(addresses(reps), 0.51, 10, 0, blockHash)

	v := castBlockVote(t, reps[0], 10, 0, blockHash, 1000)
	require.NoError(t, bv.AddVote(v))

	wire := SerializeBlockVotes(bv.Votes())
	restoredSlice, err := DeserializeBlockVotes(wire, addresses(reps))
	require.NoError(t, err)
	restored := NewBlockVotesFromVotes(addresses(reps), 0.51, 10, 0, blockHash, restoredSlice)

	require.True(t, bv.Equal(restored), "restored BlockVotes should equal the original")
}

// S5: a leader election where the decisive rep abstains (casts an empty
// vote), and the abstention tips the current plurality candidate over
// quorum.
func TestLeaderVotesEmptyVoteJoinsCurrentPlurality(t *testing.T) {
	reps := makeReps(t, 100)
	oldLeader := reps[0].addr
	candidate := reps[1].addr
	lv := NewLeaderVotes(addresses(reps), 0.51, 20, 0, oldLeader)

	for i := 2; i < 52; i++ {
		v := castLeaderVote(t, reps[i], 20, 0, oldLeader, candidate, int64(1000+i))
		require.NoError(t, lv.AddVote(v), "AddVote[%d]", i)
	}
	require.False(t, lv.IsCompleted(), "50 votes for the candidate alone should not yet reach a 51-of-100 quorum")

	abstention := castLeaderVote(t, reps[52], 20, 0, oldLeader, types.Address20{}, 2000)
	require.NoError(t, lv.AddVote(abstention))

	require.True(t, lv.IsCompleted(), "expected completion once the abstention joins the current plurality candidate")
	result := lv.GetResult()
	require.NotNil(t, result)
	require.Equal(t, candidate, *result)
}

func TestLeaderVotesFailsWhenQuorumUnreachable(t *testing.T) {
	reps := makeReps(t, 4)
	oldLeader := reps[0].addr
	lv := NewLeaderVotes(addresses(reps), 0.75, 20, 0, oldLeader)

	// Two different candidates split the vote; with only 2 reps left,
	// neither candidate can reach ceil(4*0.75)=3 even if both remaining
	// votes broke the same way once a 2-2 split is forced.
	v1 := castLeaderVote(t, reps[1], 20, 0, oldLeader, reps[1].addr, 1000)
	v2 := castLeaderVote(t, reps[2], 20, 0, oldLeader, reps[2].addr, 1001)
	require.NoError(t, lv.AddVote(v1))
	require.NoError(t, lv.AddVote(v2))

	require.False(t, lv.IsCompleted(), "round should still be pending: the outstanding votes could still decide it")

	v3 := castLeaderVote(t, reps[3], 20, 0, oldLeader, reps[1].addr, 1002)
	require.NoError(t, lv.AddVote(v3))
	v4 := castLeaderVote(t, reps[0], 20, 0, oldLeader, reps[2].addr, 1003)
	require.NoError(t, lv.AddVote(v4))

	require.True(t, lv.IsCompleted(), "expected completion: no rep remains to vote and neither candidate reached quorum")
	result := lv.GetResult()
	require.NotNil(t, result)
	require.True(t, result.Empty(), "expected a failed-round empty result")
}

func TestLeaderVotesRejectsOldLeaderMismatch(t *testing.T) {
	reps := makeReps(t, 4)
	lv := NewLeaderVotes(addresses(reps), 0.51, 20, 0, reps[0].addr)

	v := castLeaderVote(t, reps[1], 20, 0, reps[3].addr, reps[2].addr, 1000)
	require.ErrorIs(t, lv.AddVote(v), ErrOldLeaderMismatch)
}
