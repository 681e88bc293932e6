package block

import (
	"errors"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/tx"
	"github.com/certen/independant-validator/pkg/types"
)

func newSigner(t *testing.T) *cryptosign.Signer {
	t.Helper()
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := cryptosign.NewSigner(gethcrypto.FromECDSA(priv))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func buildGenesis(t *testing.T) Block {
	t.Helper()
	b := NewBuilder(V0_1a)
	b.SetHeight(0).SetTimestamp(1)
	if err := b.BuildMerkleTreeRootHash(); err != nil {
		t.Fatalf("BuildMerkleTreeRootHash: %v", err)
	}
	if err := b.BuildHash(); err != nil {
		t.Fatalf("BuildHash: %v", err)
	}
	return b.Build()
}

func buildSignedBlock(t *testing.T, height uint64, prevHash types.Hash32, signer *cryptosign.Signer) Block {
	t.Helper()
	b := NewBuilder(V0_1a)
	b.SetHeight(height).SetTimestamp(int64(1000 + height)).SetPrevHash(prevHash).SetPeerID(signer.Address())
	if err := b.BuildMerkleTreeRootHash(); err != nil {
		t.Fatalf("BuildMerkleTreeRootHash: %v", err)
	}
	if err := b.BuildHash(); err != nil {
		t.Fatalf("BuildHash: %v", err)
	}
	if err := b.Sign(signer.SignHash); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return b.Build()
}

func TestGenesisVerifiesWithoutSignature(t *testing.T) {
	genesis := buildGenesis(t)
	if err := Verify(genesis, nil, nil); err != nil {
		t.Fatalf("Verify(genesis): %v", err)
	}
}

func TestMerkleRootEmptyBodyIsEmptyHash(t *testing.T) {
	root, err := MerkleRoot(nil)
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if !root.Empty() {
		t.Fatal("empty body must produce Hash32.empty()")
	}
}

func TestChainVerificationAndChainBreak(t *testing.T) {
	signer := newSigner(t)
	genesis := buildGenesis(t)
	b1 := buildSignedBlock(t, 1, genesis.Header.Hash, signer)

	if err := Verify(b1, &genesis, nil); err != nil {
		t.Fatalf("Verify(b1, genesis): %v", err)
	}

	// A correctly hashed and signed block whose prev_hash does not name
	// genesis: only the chain-linkage step can reject it.
	wrongPrev := genesis.Header.Hash
	wrongPrev[0] ^= 0xFF
	tampered := buildSignedBlock(t, 1, wrongPrev, signer)
	if err := Verify(tampered, &genesis, nil); !errors.Is(err, ErrChainBreak) {
		t.Fatalf("expected ErrChainBreak, got %v", err)
	}
}

func TestBlockHashDeterminism(t *testing.T) {
	signer := newSigner(t)
	genesis := buildGenesis(t)

	b1 := buildSignedBlock(t, 1, genesis.Header.Hash, signer)
	b2 := buildSignedBlock(t, 1, genesis.Header.Hash, signer)

	// Signatures may differ (ECDSA nonce), but the header hash must not:
	// it is computed before signing, over hash/signature-zeroed fields.
	if b1.Header.Hash != b2.Header.Hash {
		t.Fatal("two builders fed identical inputs must produce identical header hashes")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer := newSigner(t)
	genesis := buildGenesis(t)
	b1 := buildSignedBlock(t, 1, genesis.Header.Hash, signer)

	tampered := b1
	tampered.Header.Signature[0] ^= 0xFF
	if err := Verify(tampered, &genesis, nil); err == nil {
		t.Fatal("expected verification failure for tampered signature")
	}
}

func TestVerifyWithTransactionsAndMerkleRoot(t *testing.T) {
	signer := newSigner(t)
	genesis := buildGenesis(t)

	txSigner := newSigner(t)
	txBuilder := tx.NewBuilder(tx.VersionV3)
	txBuilder.SetTimestamp(1000).SetFrom(txSigner.Address()).SetTo(signer.Address()).SetValue(1).SetStepCost(1).SetNonce(1)
	if err := txBuilder.BuildHash(); err != nil {
		t.Fatalf("tx BuildHash: %v", err)
	}
	if err := txBuilder.Sign(txSigner.SignHash); err != nil {
		t.Fatalf("tx Sign: %v", err)
	}
	transaction := txBuilder.Build()

	b := NewBuilder(V0_1a)
	b.SetHeight(1).SetTimestamp(1001).SetPrevHash(genesis.Header.Hash).SetPeerID(signer.Address()).AddTransaction(transaction)
	if err := b.BuildMerkleTreeRootHash(); err != nil {
		t.Fatalf("BuildMerkleTreeRootHash: %v", err)
	}
	if err := b.BuildHash(); err != nil {
		t.Fatalf("BuildHash: %v", err)
	}
	if err := b.Sign(signer.SignHash); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	blk := b.Build()

	if err := Verify(blk, &genesis, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTxInclusionReceiptVerifiesAgainstMerkleRoot(t *testing.T) {
	signer := newSigner(t)
	txSigner := newSigner(t)

	txBuilder := tx.NewBuilder(tx.VersionV3)
	txBuilder.SetTimestamp(1000).SetFrom(txSigner.Address()).SetTo(signer.Address()).SetValue(1).SetStepCost(1).SetNonce(1)
	if err := txBuilder.BuildHash(); err != nil {
		t.Fatalf("tx BuildHash: %v", err)
	}
	if err := txBuilder.Sign(txSigner.SignHash); err != nil {
		t.Fatalf("tx Sign: %v", err)
	}
	transaction := txBuilder.Build()

	b := NewBuilder(V0_1a)
	b.SetHeight(7).SetTimestamp(1001).SetPeerID(signer.Address()).AddTransaction(transaction)
	if err := b.BuildMerkleTreeRootHash(); err != nil {
		t.Fatalf("BuildMerkleTreeRootHash: %v", err)
	}
	if err := b.BuildHash(); err != nil {
		t.Fatalf("BuildHash: %v", err)
	}
	if err := b.Sign(signer.SignHash); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	blk := b.Build()

	receipt, err := TxInclusionReceipt(blk, 0)
	if err != nil {
		t.Fatalf("TxInclusionReceipt: %v", err)
	}
	if err := receipt.Validate(); err != nil {
		t.Fatalf("receipt.Validate: %v", err)
	}
	if receipt.MerkleRoot != blk.Header.MerkleRootHash.String() {
		t.Fatalf("receipt root %s does not match block merkleRootHash %s", receipt.MerkleRoot, blk.Header.MerkleRootHash.String())
	}
	if receipt.BlockHeight != 7 {
		t.Fatalf("expected blockHeight 7, got %d", receipt.BlockHeight)
	}
}

func TestTxInclusionReceiptRejectsOutOfRangeIndex(t *testing.T) {
	genesis := buildGenesis(t)
	if _, err := TxInclusionReceipt(genesis, 0); err == nil {
		t.Fatal("expected error for out-of-range tx index on empty body")
	}
}
