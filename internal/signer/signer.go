package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidIdentity    = errors.New("invalid identity")
)

// SignatureLength is the expected encoding: 32 bytes R, 32 bytes S, 1 byte
// recovery id (0/1 or 27/28).
const SignatureLength = 65

// Identity is a 20-byte address derived from a secp256k1 public key.
type Identity [20]byte

// IdentityFromPub derives the address-style identity for a public key:
// the last 20 bytes of the Keccak-256 hash of the uncompressed point.
func IdentityFromPub(pub *secp256k1.PublicKey) Identity {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	sum := h.Sum(nil)

	var id Identity
	copy(id[:], sum[len(sum)-20:])
	return id
}

func (id Identity) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

// ParseIdentity parses a hex identity, with or without a 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if len(raw) != 20 {
		return Identity{}, fmt.Errorf("%w: expected 20 bytes, got %d", ErrInvalidIdentity, len(raw))
	}

	var id Identity
	copy(id[:], raw)
	return id, nil
}

// RecoverSigner recovers the identity that produced sig over digest.
// It never returns a meaningless identity: any signature that does not
// parse as a valid R||S||V encoding fails with ErrMalformedSignature.
func RecoverSigner(digest [32]byte, sig []byte) (Identity, error) {
	if len(sig) != SignatureLength {
		return Identity{}, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrMalformedSignature, SignatureLength, len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return Identity{}, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64])
	}

	// RecoverCompact wants the header byte first.
	compact := make([]byte, SignatureLength)
	compact[0] = v + 27
	copy(compact[1:], sig[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	return IdentityFromPub(pub), nil
}

// ClaimDigest computes the canonical digest an authorizer signs to approve
// paying amount out of a channel: Keccak-256 over the 16 channel id bytes
// followed by the amount as a 32-byte big-endian integer. The presentation
// layer must produce exactly this digest when requesting a signature.
func ClaimDigest(channelID uuid.UUID, amount decimal.Decimal) [32]byte {
	amt := amount.BigInt().Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(amt):], amt)

	h := sha3.NewLegacyKeccak256()
	h.Write(channelID[:])
	h.Write(padded)

	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// SignDigest produces a 65-byte R||S||V signature over digest. The engine
// itself never signs; this exists for authorizing callers and tests.
func SignDigest(priv *secp256k1.PrivateKey, digest [32]byte) []byte {
	compact := secpecdsa.SignCompact(priv, digest[:], false)

	sig := make([]byte, SignatureLength)
	copy(sig[:64], compact[1:])
	sig[64] = compact[0]
	return sig
}
