// Copyright 2025 Certen Protocol
//
// Block model across the two wire versions: v0.1a (header+body, tx map)
// and v0.3 (adds next-leader/bloom/vote-hash fields and embedded vote
// lists). Grounded on loopchain/blockchain/blocks/v0_3/block.go's header
// field additions and v0_1a/block_verifier.go's verify_common sequence,
// with Merkle-root computation adapted from pkg/merkle/tree.go.

package block

import (
	"errors"
	"fmt"

	"github.com/certen/independant-validator/pkg/merkle"
	"github.com/certen/independant-validator/pkg/tx"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/vote"
)

// Version names the wire format a Header/Body pair follows.
type Version string

const (
	V0_1a Version = "0.1a"
	V0_3  Version = "0.3"
)

var (
	ErrBlockVerifyTimestamp = errors.New("block: missing timestamp")
	ErrBlockVerifyHeight    = errors.New("block: height/prev_hash inconsistency")
	ErrBlockVerifyMerkleRoot = errors.New("block: merkle root mismatch")
	ErrBlockVerifyHash      = errors.New("block: header hash mismatch")
	ErrStateMismatch        = errors.New("block: commit_state mismatch with invoke result")
	ErrChainBreak           = errors.New("block: chain linkage broken")
)

// Header carries the fields common to both versions, plus the v0.3-only
// fields (left at their zero value for v0.1a headers — a v0.1a header
// never populates them and the digest renderer never includes them for
// that version).
type Header struct {
	Version        Version
	Height         uint64
	Timestamp      int64
	PrevHash       types.Hash32
	HasPrevHash    bool
	MerkleRootHash types.Hash32
	Hash           types.Hash32
	PeerID         types.Address20
	Signature      types.Signature65
	HasSignature   bool
	CommitState    map[string]types.Hash32

	// v0.3 only
	NextLeader      types.Address20
	BloomFilter     types.BloomFilter256
	TransactionHash types.Hash32
	StateHash       types.Hash32
	ReceiptHash     types.Hash32
	RepHash         types.Hash32
	LeaderVoteHash  types.Hash32
	PrevVoteHash    types.Hash32
}

// Body holds the ordered transaction map (insertion order is Merkle leaf
// order) plus, for v0.3, the embedded vote lists.
type Body struct {
	Transactions []tx.Transaction
	LeaderVotes  []vote.LeaderVote // v0.3 only
	PrevVotes    []vote.BlockVote  // v0.3 only
}

// Block owns its Header and Body; neither borrows back to the Block.
type Block struct {
	Header Header
	Body   Body
}

var hashGenV0_1a = types.NewHashGenerator(1, "icx_block")
var hashGenV0_3 = types.NewHashGenerator(3, "icx_block")

func hashGeneratorFor(v Version) (types.HashGenerator, error) {
	switch v {
	case V0_1a:
		return hashGenV0_1a, nil
	case V0_3:
		return hashGenV0_3, nil
	default:
		return types.HashGenerator{}, fmt.Errorf("block: unknown version %q", v)
	}
}

// headerDigestOrigin renders the header with hash and signature zeroed,
// per §6: "all header fields with hash and signature zeroed".
func headerDigestOrigin(h Header) map[string]any {
	commitState := make(map[string]any, len(h.CommitState))
	for k, v := range h.CommitState {
		commitState[k] = v
	}

	origin := map[string]any{
		"version":            string(h.Version),
		"height":             h.Height,
		"timestamp":          h.Timestamp,
		"prevHash":           h.PrevHash,
		"merkleTreeRootHash": h.MerkleRootHash,
		"peerId":             h.PeerID.String(),
		"commitState":        commitState,
	}
	if h.Version == V0_3 {
		origin["nextLeader"] = h.NextLeader.String()
		origin["bloomFilter"] = h.BloomFilter
		origin["transactionHash"] = h.TransactionHash
		origin["stateHash"] = h.StateHash
		origin["receiptHash"] = h.ReceiptHash
		origin["repHash"] = h.RepHash
		origin["leaderVoteHash"] = h.LeaderVoteHash
		origin["prevVoteHash"] = h.PrevVoteHash
	}
	return origin
}

// HeaderDigest computes header.hash with hash/signature zeroed.
func HeaderDigest(h Header) (types.Hash32, error) {
	gen, err := hashGeneratorFor(h.Version)
	if err != nil {
		return types.Hash32{}, err
	}
	return gen.Gen(headerDigestOrigin(h))
}

// MerkleRoot computes the body's Merkle root over transaction hashes in
// insertion order. An empty body's root is Hash32.empty() per §3.
func MerkleRoot(txs []tx.Transaction) (types.Hash32, error) {
	if len(txs) == 0 {
		return types.Hash32{}, nil
	}

	leaves := make([][]byte, len(txs))
	for i, t := range txs {
		leaves[i] = t.Hash.Bytes()
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return types.Hash32{}, fmt.Errorf("block: merkle build: %w", err)
	}
	return types.HashFromBytes(tree.Root())
}

// TxInclusionReceipt builds a portable proof that the transaction at
// txIndex is included in b's body, verifiable by a client holding only
// the tx hash, b.Header.Height, and b.Header.MerkleRootHash.
func TxInclusionReceipt(b Block, txIndex int) (*merkle.TxReceipt, error) {
	if txIndex < 0 || txIndex >= len(b.Body.Transactions) {
		return nil, fmt.Errorf("block: tx index %d out of range [0, %d)", txIndex, len(b.Body.Transactions))
	}

	leaves := make([][]byte, len(b.Body.Transactions))
	for i, t := range b.Body.Transactions {
		leaves[i] = t.Hash.Bytes()
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("block: merkle build: %w", err)
	}
	proof, err := tree.GenerateProof(txIndex)
	if err != nil {
		return nil, fmt.Errorf("block: generate inclusion proof: %w", err)
	}
	return merkle.NewTxReceipt(proof, b.Header.Height), nil
}

// Builder derives a block's hashes from its body and signs the result,
// mirroring the teacher's BlockBuilder set-fields/build/sign sequence.
type Builder struct {
	header Header
	body   Body
}

// NewBuilder starts a builder for the given wire version.
func NewBuilder(version Version) *Builder {
	return &Builder{header: Header{Version: version, CommitState: map[string]types.Hash32{}}}
}

func (b *Builder) SetHeight(h uint64) *Builder { b.header.Height = h; return b }
func (b *Builder) SetTimestamp(ts int64) *Builder {
	b.header.Timestamp = ts
	return b
}
func (b *Builder) SetPrevHash(h types.Hash32) *Builder {
	b.header.PrevHash, b.header.HasPrevHash = h, true
	return b
}
func (b *Builder) SetPeerID(addr types.Address20) *Builder {
	b.header.PeerID = addr
	return b
}
func (b *Builder) SetCommitState(state map[string]types.Hash32) *Builder {
	b.header.CommitState = state
	return b
}
func (b *Builder) AddTransaction(t tx.Transaction) *Builder {
	b.body.Transactions = append(b.body.Transactions, t)
	return b
}
func (b *Builder) SetNextLeader(addr types.Address20) *Builder {
	b.header.NextLeader = addr
	return b
}
func (b *Builder) SetBloomFilter(bf types.BloomFilter256) *Builder {
	b.header.BloomFilter = bf
	return b
}
func (b *Builder) SetVoteHashes(state, receipt, rep, leaderVote, prevVote types.Hash32) *Builder {
	b.header.StateHash, b.header.ReceiptHash, b.header.RepHash = state, receipt, rep
	b.header.LeaderVoteHash, b.header.PrevVoteHash = leaderVote, prevVote
	return b
}
func (b *Builder) AddLeaderVote(v vote.LeaderVote) *Builder {
	b.body.LeaderVotes = append(b.body.LeaderVotes, v)
	return b
}
func (b *Builder) AddPrevVote(v vote.BlockVote) *Builder {
	b.body.PrevVotes = append(b.body.PrevVotes, v)
	return b
}

// BuildMerkleTreeRootHash populates header.MerkleRootHash from the
// currently set transaction order.
func (b *Builder) BuildMerkleTreeRootHash() error {
	root, err := MerkleRoot(b.body.Transactions)
	if err != nil {
		return err
	}
	b.header.MerkleRootHash = root
	if b.header.Version == V0_3 {
		b.header.TransactionHash = root
	}
	return nil
}

// BuildHash populates header.Hash from the fully materialized header
// with hash and signature zeroed.
func (b *Builder) BuildHash() error {
	h, err := HeaderDigest(b.header)
	if err != nil {
		return err
	}
	b.header.Hash = h
	return nil
}

// Sign populates header.Signature = signer.sign_hash(header.Hash). Per
// §3, height==0 (genesis) blocks carry no signature check, but a signer
// may still be asked to sign one; verification simply never checks it.
func (b *Builder) Sign(sign func(types.Hash32) (types.Signature65, error)) error {
	if b.header.Hash.Empty() {
		return fmt.Errorf("block: BuildHash must run before Sign")
	}
	sig, err := sign(b.header.Hash)
	if err != nil {
		return err
	}
	b.header.Signature = sig
	b.header.HasSignature = true
	return nil
}

// Build finalizes the immutable Block.
func (b *Builder) Build() Block {
	return Block{Header: b.header, Body: b.body}
}
