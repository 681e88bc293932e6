package tx

import (
	"encoding/hex"
	"fmt"

	"github.com/certen/independant-validator/pkg/types"
)

func hashFromHexField(s string) (types.Hash32, error) {
	if s == "" {
		return types.Hash32{}, nil
	}
	return types.HashFromHex(s)
}

func addressFromHexField(s string) (types.Address20, error) {
	return types.AddressFromString(s)
}

func signatureFromHexField(s string) (types.Signature65, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Signature65{}, err
	}
	return types.SignatureFromBytes(b)
}

// Serialized is the wire (JSON-dict) form of a Transaction.
type Serialized struct {
	Hash      string           `json:"hash"`
	Version   string           `json:"version"`
	Timestamp int64            `json:"timestamp"`
	From      string           `json:"from,omitempty"`
	To        string           `json:"to,omitempty"`
	Value     uint64           `json:"value,omitempty"`
	StepCost  uint64           `json:"stepLimit,omitempty"`
	Nonce     uint64           `json:"nonce,omitempty"`
	DataType  string           `json:"dataType,omitempty"`
	Data      string           `json:"data,omitempty"`
	Accounts  []SerializedAcct `json:"accounts,omitempty"`
	Signature string           `json:"signature,omitempty"`
}

// SerializedAcct is the wire form of one genesis GenesisAccount.
type SerializedAcct struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// Serialize converts a Transaction to its wire form.
func Serialize(t Transaction) Serialized {
	s := Serialized{
		Hash: t.Hash.String(), Version: t.Version, Timestamp: t.Timestamp,
		From: t.From.String(), To: t.To.String(), Value: t.Value,
		StepCost: t.StepCost, Nonce: t.Nonce, DataType: t.DataType, Data: t.Data,
	}
	if t.HasSignature {
		s.Signature = t.Signature.String()
	}
	if len(t.Accounts) > 0 {
		s.Accounts = make([]SerializedAcct, len(t.Accounts))
		for i, a := range t.Accounts {
			s.Accounts[i] = SerializedAcct{Name: a.Name, Address: a.Address.String(), Balance: a.Balance}
		}
	}
	return s
}

// Deserialize rebuilds a Transaction from its wire form. It does not
// re-verify the hash or signature; call Verify/VerifyLoosely afterward.
func Deserialize(s Serialized) (Transaction, error) {
	t := Transaction{Version: s.Version, Timestamp: s.Timestamp, Value: s.Value, StepCost: s.StepCost, Nonce: s.Nonce, DataType: s.DataType, Data: s.Data}

	hash, err := hashFromHexField(s.Hash)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx: invalid hash: %w", err)
	}
	t.Hash = hash

	if s.From != "" {
		addr, err := addressFromHexField(s.From)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx: invalid from: %w", err)
		}
		t.From = addr
	}
	if s.To != "" {
		addr, err := addressFromHexField(s.To)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx: invalid to: %w", err)
		}
		t.To = addr
	}
	if s.Signature != "" {
		sig, err := signatureFromHexField(s.Signature)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx: invalid signature: %w", err)
		}
		t.Signature = sig
		t.HasSignature = true
	}
	for _, a := range s.Accounts {
		addr, err := addressFromHexField(a.Address)
		if err != nil {
			return Transaction{}, fmt.Errorf("tx: invalid account address: %w", err)
		}
		t.Accounts = append(t.Accounts, GenesisAccount{Name: a.Name, Address: addr, Balance: a.Balance})
	}

	return t, nil
}
