// Copyright 2025 Certen Protocol
//
// Portable transaction inclusion receipts: a JSON-friendly proof that a
// transaction hash is included under a block's Merkle root, verifiable
// by a client holding only the tx hash, the block height, and the
// block's merkleRootHash - no access to the rest of the block body.
// Adapted from the teacher's single-layer Merkle receipt format; the
// multi-layer Accumulate BPT/partition/network-root variant
// (LayeredReceipt) had no equivalent in a single-chain block header and
// was dropped (see DESIGN.md).

package merkle

import (
	"bytes"
	"crypto/sha3"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// TxReceipt is a portable Merkle inclusion proof for one transaction
// hash against a block's merkleRootHash.
type TxReceipt struct {
	// TxHash is the leaf hash being proven (32 bytes, hex-encoded).
	TxHash string `json:"txHash"`

	// MerkleRoot is the root hash reached by applying Entries (32 bytes, hex-encoded).
	MerkleRoot string `json:"merkleRoot"`

	// BlockHeight is the height of the block this receipt is valid for.
	BlockHeight uint64 `json:"blockHeight"`

	// Entries is the Merkle path from TxHash to MerkleRoot.
	Entries []ReceiptEntry `json:"entries"`
}

// ReceiptEntry is a single step in the Merkle proof path.
type ReceiptEntry struct {
	// Hash is the sibling hash at this level (32 bytes, hex-encoded).
	Hash string `json:"hash"`

	// Right indicates the position of the sibling:
	//   true:  sibling is on the right, compute SHA3-256(current || sibling)
	//   false: sibling is on the left, compute SHA3-256(sibling || current)
	Right bool `json:"right"`
}

// NewTxReceipt builds a TxReceipt from an already-generated
// InclusionProof (see Tree.GenerateProof), stamping it with the block
// height the proof is valid for.
func NewTxReceipt(proof *InclusionProof, blockHeight uint64) *TxReceipt {
	entries := make([]ReceiptEntry, len(proof.Path))
	for i, node := range proof.Path {
		entries[i] = ReceiptEntry{Hash: node.Hash, Right: node.Position == Right}
	}
	return &TxReceipt{
		TxHash:      proof.LeafHash,
		MerkleRoot:  proof.MerkleRoot,
		BlockHeight: blockHeight,
		Entries:     entries,
	}
}

// Validate recomputes the Merkle path from TxHash through Entries and
// checks it reaches MerkleRoot. Fail-closed: any malformed hash is an error.
func (r *TxReceipt) Validate() error {
	leafHex, err := mustHex32Lower(r.TxHash, "receipt.txHash")
	if err != nil {
		return err
	}
	rootHex, err := mustHex32Lower(r.MerkleRoot, "receipt.merkleRoot")
	if err != nil {
		return err
	}

	leaf, _ := hex.DecodeString(leafHex)
	root, _ := hex.DecodeString(rootHex)

	current := leaf
	for i, entry := range r.Entries {
		entryHex, err := mustHex32Lower(entry.Hash, fmt.Sprintf("receipt.entries[%d].hash", i))
		if err != nil {
			return err
		}
		sibling, _ := hex.DecodeString(entryHex)

		if entry.Right {
			current = receiptHashPair(current, sibling)
		} else {
			current = receiptHashPair(sibling, current)
		}
	}

	if !bytes.Equal(current, root) {
		return fmt.Errorf("merkle recomputation mismatch: computed=%x, expected=%x", current, root)
	}
	return nil
}

// ToJSON serializes the receipt for transport or storage.
func (r *TxReceipt) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// TxReceiptFromJSON parses a receipt previously produced by ToJSON.
func TxReceiptFromJSON(data []byte) (*TxReceipt, error) {
	var r TxReceipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// receiptHashPair computes SHA3-256(left || right), the same pairing
// convention as Tree.hashPair.
func receiptHashPair(left, right []byte) []byte {
	h := sha3.New256()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// mustHex32Lower validates that s is exactly 32 bytes (64 hex chars)
// and returns it unchanged (the teacher's receipts were lowercase-only;
// hex.DecodeString accepts either case, so no case-folding is needed
// here and upper- or mixed-case input is not rejected).
func mustHex32Lower(s string, label string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%s: empty", label)
	}
	if len(s) != 64 {
		return "", fmt.Errorf("%s: expected 64 hex chars (32 bytes), got len=%d", label, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%s: invalid hex: %w", label, err)
	}
	return s, nil
}
