// Copyright 2025 Certen Protocol
//
// Transaction model across the three wire versions: genesis, v2, v3.
// Grounded on loopchain/blockchain/transactions/genesis/__init__.py's
// builder/serializer/verifier split, generalized to a version registry
// dispatched by wire version string per spec §6.

package tx

import (
	"errors"
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/types"
)

// Version strings, matching the wire dispatch rules of §6.
const (
	VersionGenesis = "genesis"
	VersionV2      = "v2"
	VersionV3      = "0x3"
)

// ErrTxVerify is the umbrella error kind for transaction verification
// failures (hash mismatch, signature mismatch, missing required field).
var ErrTxVerify = errors.New("tx: verification failed")

// Transaction is the conceptual union over {genesis, v2, v3}. Genesis
// transactions carry no signature and a fixed zero from/to/value; v2/v3
// carry the full transfer fields. The zero value of any unused field is
// its version's canonical default, never a magic sentinel the verifier
// has to special-case beyond what §3 already requires.
type Transaction struct {
	Hash      types.Hash32
	Version   string
	Timestamp int64

	From     types.Address20
	To       types.Address20
	Value    uint64
	StepCost uint64 // v2 step_limit / v3 fee, unified: the digest renderer names it per version
	Nonce    uint64

	DataType string
	Data     string

	Accounts []GenesisAccount // genesis only

	Signature    types.Signature65
	HasSignature bool
}

// GenesisAccount is one funded account in a genesis transaction's
// "accounts" list.
type GenesisAccount struct {
	Name    string
	Address types.Address20
	Balance uint64
}

var hashGenV2 = types.NewHashGenerator(1, "icx_tx")
var hashGenV3 = types.NewHashGenerator(3, "icx_tx")
var hashGenGenesis = types.NewHashGenerator(0, "icx_tx")

func hashGeneratorFor(version string) (types.HashGenerator, error) {
	switch version {
	case VersionGenesis:
		return hashGenGenesis, nil
	case VersionV2:
		return hashGenV2, nil
	case VersionV3:
		return hashGenV3, nil
	default:
		return types.HashGenerator{}, fmt.Errorf("tx: unknown version %q", version)
	}
}

// digestOrigin renders the fields a transaction hashes (and, for
// non-genesis, signs) over.
func digestOrigin(t Transaction) map[string]any {
	switch t.Version {
	case VersionGenesis:
		accounts := make([]any, len(t.Accounts))
		for i, a := range t.Accounts {
			accounts[i] = map[string]any{
				"name":    a.Name,
				"address": a.Address.String(),
				"balance": a.Balance,
			}
		}
		return map[string]any{
			"version":   t.Version,
			"timestamp": t.Timestamp,
			"accounts":  accounts,
		}
	default:
		origin := map[string]any{
			"version":   t.Version,
			"timestamp": t.Timestamp,
			"from":      t.From.String(),
			"to":        t.To.String(),
			"value":     t.Value,
			"nonce":     t.Nonce,
		}
		if t.Version == VersionV2 {
			origin["stepLimit"] = t.StepCost
		} else {
			origin["fee"] = t.StepCost
		}
		if t.DataType != "" {
			origin["dataType"] = t.DataType
			origin["data"] = t.Data
		}
		return origin
	}
}

// Digest computes the transaction's canonical hash, version-keyed per
// §4.1/§6.
func Digest(t Transaction) (types.Hash32, error) {
	gen, err := hashGeneratorFor(t.Version)
	if err != nil {
		return types.Hash32{}, err
	}
	return gen.Gen(digestOrigin(t))
}

// Builder constructs an immutable, hashed (and, for non-genesis, signed)
// Transaction from caller-set fields. Mirrors the teacher's
// TransactionBuilder: fields are set, then build() derives the hash, then
// sign() derives the signature — in that fixed order.
type Builder struct {
	t Transaction
}

// NewBuilder starts a builder for the given wire version.
func NewBuilder(version string) *Builder {
	return &Builder{t: Transaction{Version: version}}
}

func (b *Builder) SetTimestamp(ts int64) *Builder { b.t.Timestamp = ts; return b }
func (b *Builder) SetFrom(addr types.Address20) *Builder {
	b.t.From = addr
	return b
}
func (b *Builder) SetTo(addr types.Address20) *Builder { b.t.To = addr; return b }
func (b *Builder) SetValue(v uint64) *Builder          { b.t.Value = v; return b }
func (b *Builder) SetStepCost(v uint64) *Builder       { b.t.StepCost = v; return b }
func (b *Builder) SetNonce(n uint64) *Builder          { b.t.Nonce = n; return b }
func (b *Builder) SetData(dataType, data string) *Builder {
	b.t.DataType, b.t.Data = dataType, data
	return b
}
func (b *Builder) AddAccount(a GenesisAccount) *Builder {
	b.t.Accounts = append(b.t.Accounts, a)
	return b
}

// BuildHash derives and stores the transaction hash from the currently
// set fields.
func (b *Builder) BuildHash() error {
	h, err := Digest(b.t)
	if err != nil {
		return err
	}
	b.t.Hash = h
	return nil
}

// Sign signs the already-built hash. Genesis transactions are never
// signed; calling Sign on one is a programmer error the teacher's source
// guards against by simply never wiring a signer for genesis.
func (b *Builder) Sign(sign func(types.Hash32) (types.Signature65, error)) error {
	if b.t.Version == VersionGenesis {
		return fmt.Errorf("tx: genesis transactions are not signed")
	}
	if b.t.Hash.Empty() {
		return fmt.Errorf("tx: BuildHash must run before Sign")
	}
	sig, err := sign(b.t.Hash)
	if err != nil {
		return err
	}
	b.t.Signature = sig
	b.t.HasSignature = true
	return nil
}

// Build finalizes the immutable Transaction.
func (b *Builder) Build() Transaction {
	return b.t
}

// Verify checks a transaction's hash and, for non-genesis, its
// signature, per §3's invariant: hash = H_tx(canonical(body)); for
// non-genesis, recover(signature, hash) == from.
func Verify(t Transaction) error {
	wantHash, err := Digest(t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTxVerify, err)
	}
	if wantHash != t.Hash {
		return fmt.Errorf("%w: hash mismatch: got %s, want %s", ErrTxVerify, t.Hash, wantHash)
	}

	if t.Version == VersionGenesis {
		return nil
	}

	if !t.HasSignature {
		return fmt.Errorf("%w: missing signature", ErrTxVerify)
	}
	if err := cryptosign.Verify(t.From, t.Hash, t.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrTxVerify, err)
	}
	return nil
}

// VerifyLoosely skips the signature check (used by the block verifier's
// "loose" variant, mirroring verify_transactions_loosely in the
// original's BlockVerifier).
func VerifyLoosely(t Transaction) error {
	wantHash, err := Digest(t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTxVerify, err)
	}
	if wantHash != t.Hash {
		return fmt.Errorf("%w: hash mismatch: got %s, want %s", ErrTxVerify, t.Hash, wantHash)
	}
	return nil
}

// DetectVersion applies the §6 wire dispatch rules to a decoded JSON
// object's key set: a "version" field selects v3, a "tx_hash" field with
// no "version" selects v2, and an "accounts" key selects genesis.
func DetectVersion(fields map[string]any) (string, error) {
	if _, ok := fields["accounts"]; ok {
		return VersionGenesis, nil
	}
	if v, ok := fields["version"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return VersionV3, nil
		}
	}
	if _, ok := fields["tx_hash"]; ok {
		return VersionV2, nil
	}
	return "", fmt.Errorf("tx: cannot determine version from fields")
}
