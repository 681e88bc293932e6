// Copyright 2025 Certen Protocol
//
// Primitive wire types for the consensus core: fixed-width hashes,
// addresses, signatures, and the canonical render used to feed them.

package types

import (
	"crypto/sha3"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrHashRender is returned by HashGenerator.Gen when the origin value
// contains a type the canonical renderer does not know how to serialize.
var ErrHashRender = errors.New("hash render: unsupported value type")

// Hash32Size is the byte length of a Hash32.
const Hash32Size = 32

// Hash32 is an opaque 32-byte digest.
type Hash32 [Hash32Size]byte

// EmptyHash32 is the distinguished all-zero Hash32 value.
var EmptyHash32 = Hash32{}

// Empty reports whether h is the all-zero sentinel.
func (h Hash32) Empty() bool {
	return h == EmptyHash32
}

func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash32) Bytes() []byte {
	b := make([]byte, Hash32Size)
	copy(b, h[:])
	return b
}

// HashFromBytes builds a Hash32 from a slice; the slice must be exactly
// Hash32Size bytes long.
func HashFromBytes(b []byte) (Hash32, error) {
	var h Hash32
	if len(b) != Hash32Size {
		return h, fmt.Errorf("types: hash must be %d bytes, got %d", Hash32Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a lowercase-hex-encoded 32-byte hash.
func HashFromHex(s string) (Hash32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash32{}, fmt.Errorf("types: invalid hash hex: %w", err)
	}
	return HashFromBytes(b)
}

// Address20Size is the byte length of an Address20.
const Address20Size = 20

// Address20 is a 20-byte account/representative identity.
type Address20 [Address20Size]byte

// EmptyAddress20 is the distinguished all-zero Address20 value.
var EmptyAddress20 = Address20{}

// Empty reports whether a is the all-zero sentinel.
func (a Address20) Empty() bool {
	return a == EmptyAddress20
}

// String renders the address as "hx" followed by 40 lowercase hex chars.
func (a Address20) String() string {
	return "hx" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the underlying 20 bytes.
func (a Address20) Bytes() []byte {
	b := make([]byte, Address20Size)
	copy(b, a[:])
	return b
}

// AddressFromBytes builds an Address20 from a slice of exactly Address20Size bytes.
func AddressFromBytes(b []byte) (Address20, error) {
	var a Address20
	if len(b) != Address20Size {
		return a, fmt.Errorf("types: address must be %d bytes, got %d", Address20Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromString parses the "hx"+40-hex-char form produced by String.
func AddressFromString(s string) (Address20, error) {
	if len(s) != 2+Address20Size*2 || s[0:2] != "hx" {
		return Address20{}, fmt.Errorf("types: malformed address %q", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return Address20{}, fmt.Errorf("types: invalid address hex: %w", err)
	}
	return AddressFromBytes(b)
}

// Signature65Size is the byte length of a Signature65: 64-byte compact
// signature followed by a 1-byte recovery id.
const Signature65Size = 65

// Signature65 is a compact secp256k1 recoverable signature.
type Signature65 [Signature65Size]byte

// RecoveryID returns the trailing recovery-id byte, one of {0,1,2,3}.
func (s Signature65) RecoveryID() byte {
	return s[64]
}

// Compact returns the leading 64-byte r||s portion.
func (s Signature65) Compact() []byte {
	b := make([]byte, 64)
	copy(b, s[:64])
	return b
}

func (s Signature65) Bytes() []byte {
	b := make([]byte, Signature65Size)
	copy(b, s[:])
	return b
}

func (s Signature65) String() string {
	return hex.EncodeToString(s[:])
}

// SignatureFromBytes builds a Signature65 from a 65-byte slice.
func SignatureFromBytes(b []byte) (Signature65, error) {
	var s Signature65
	if len(b) != Signature65Size {
		return s, fmt.Errorf("types: signature must be %d bytes, got %d", Signature65Size, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// BloomFilter256Size is the byte length of a BloomFilter256.
const BloomFilter256Size = 256

// BloomFilter256 is a 256-byte logs bloom, opaque to consensus.
type BloomFilter256 [BloomFilter256Size]byte

func (b BloomFilter256) Bytes() []byte {
	out := make([]byte, BloomFilter256Size)
	copy(out, b[:])
	return out
}

func (b BloomFilter256) String() string {
	return hex.EncodeToString(b[:])
}

// HashGenerator produces the canonical, domain-separated SHA3-256 digest
// of an "origin" value tree (maps, slices, scalars, bytes, nil) per the
// versioned framing rule: salt || version-byte || canonical-render(origin).
type HashGenerator struct {
	version uint32
	salt    string
}

// NewHashGenerator constructs a generator keyed by a wire version and a
// domain-separation salt string.
func NewHashGenerator(version uint32, salt string) HashGenerator {
	return HashGenerator{version: version, salt: salt}
}

// Gen renders origin deterministically and returns its SHA3-256 digest.
func (g HashGenerator) Gen(origin map[string]any) (Hash32, error) {
	rendered, err := render(origin)
	if err != nil {
		return Hash32{}, err
	}

	framed := make([]byte, 0, len(g.salt)+1+len(rendered))
	framed = append(framed, g.salt...)
	framed = append(framed, byte(g.version))
	framed = append(framed, rendered...)

	digest := sha3.Sum256(framed)
	return Hash32(digest), nil
}

// render implements the §4.1 canonical renderer: deterministic regardless
// of map iteration order, since map keys are always sorted lexicographically.
func render(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []byte:
		return hex.EncodeToString(val), nil
	case Hash32:
		return hex.EncodeToString(val[:]), nil
	case Address20:
		return hex.EncodeToString(val[:]), nil
	case Signature65:
		return hex.EncodeToString(val[:]), nil
	case BloomFilter256:
		return hex.EncodeToString(val[:]), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			rv, err := render(val[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, k+":"+rv)
		}
		return "{" + joinComma(parts) + "}", nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			rv, err := render(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, rv)
		}
		return "[" + joinComma(parts) + "]", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrHashRender, v)
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
