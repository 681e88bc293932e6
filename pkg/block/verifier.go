package block

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/tx"
	"github.com/certen/independant-validator/pkg/types"
)

// InvokeFunc is the external state-transition collaborator: given a
// block, it returns a (possibly rewritten) block carrying the
// recomputed commit_state, per §4.3 step 4. A nil InvokeFunc skips the
// commit-state check entirely, matching "if an invoke collaborator is
// configured".
type InvokeFunc func(Block) (Block, error)

// Verify implements the §4.3 verifier contract, in the order named
// there. It is pure with respect to its inputs (no hidden mutation of
// block, prevBlock, or any package state).
//
//  1. mandatory fields, height==0 <=> no prev_hash
//  2. recompute merkle root
//  3. recompute header hash
//  4. optional invoke collaborator commit_state check
//  5. signature recovery for height > 0
//  6. chain linkage against prevBlock
//  7. per-transaction verification
func Verify(b Block, prevBlock *Block, invoke InvokeFunc) error {
	if err := verifyCommon(b, prevBlock, invoke); err != nil {
		return err
	}
	return verifyTransactions(b, tx.Verify)
}

// VerifyLoosely mirrors verify_loosely: the same structural checks, but
// transactions are verified without checking their signatures.
func VerifyLoosely(b Block, prevBlock *Block, invoke InvokeFunc) error {
	if err := verifyCommon(b, prevBlock, invoke); err != nil {
		return err
	}
	return verifyTransactions(b, tx.VerifyLoosely)
}

func verifyCommon(b Block, prevBlock *Block, invoke InvokeFunc) error {
	h := b.Header

	if h.Timestamp == 0 && h.Height != 0 {
		return fmt.Errorf("%w: block at height %d has no timestamp", ErrBlockVerifyTimestamp, h.Height)
	}
	if (h.Height == 0) == h.HasPrevHash {
		return fmt.Errorf("%w: height=%d, has_prev_hash=%v", ErrBlockVerifyHeight, h.Height, h.HasPrevHash)
	}

	wantRoot, err := MerkleRoot(b.Body.Transactions)
	if err != nil {
		return err
	}
	if wantRoot != h.MerkleRootHash {
		return fmt.Errorf("%w: got %s, want %s", ErrBlockVerifyMerkleRoot, h.MerkleRootHash, wantRoot)
	}

	wantHash, err := HeaderDigest(h)
	if err != nil {
		return err
	}
	if wantHash != h.Hash {
		return fmt.Errorf("%w: got %s, want %s", ErrBlockVerifyHash, h.Hash, wantHash)
	}

	if invoke != nil {
		newBlock, err := invoke(b)
		if err != nil {
			return err
		}
		if !commitStateEqual(h.CommitState, newBlock.Header.CommitState) {
			return fmt.Errorf("%w", ErrStateMismatch)
		}
	}

	if h.Height > 0 {
		if !h.HasSignature {
			return fmt.Errorf("%w: missing signature", cryptosign.ErrBadSignature)
		}
		if err := cryptosign.Verify(h.PeerID, h.Hash, h.Signature); err != nil {
			return err
		}
	}

	if prevBlock != nil {
		if h.PrevHash != prevBlock.Header.Hash {
			return fmt.Errorf("%w: prev_hash %s != prev block hash %s", ErrChainBreak, h.PrevHash, prevBlock.Header.Hash)
		}
		if h.Height != prevBlock.Header.Height+1 {
			return fmt.Errorf("%w: height %d != prev height %d + 1", ErrChainBreak, h.Height, prevBlock.Header.Height)
		}
	}

	return nil
}

func verifyTransactions(b Block, verify func(tx.Transaction) error) error {
	for i, t := range b.Body.Transactions {
		if err := verify(t); err != nil {
			return fmt.Errorf("%w: tx[%d] %s: %v", tx.ErrTxVerify, i, t.Hash, err)
		}
	}
	return nil
}

func commitStateEqual(a, b map[string]types.Hash32) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
