package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// AddressLength is the size of a decoded ledger address.
const AddressLength = ed25519.PublicKeySize

// Keypair is an ed25519 signing identity. Its byte form is the 64-byte
// seed||public layout used by the Solana CLI keypair files.
type Keypair struct {
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random identity.
func GenerateKeypair() (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return Keypair{priv: priv}, nil
}

// KeypairFromBytes rebuilds a keypair from its 64-byte form and checks that
// the public half matches the seed.
func KeypairFromBytes(b []byte) (Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return Keypair{}, fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(b[ed25519.SeedSize:])) {
		return Keypair{}, fmt.Errorf("keypair public key does not match seed")
	}
	return Keypair{priv: priv}, nil
}

// IsZero reports whether k holds no key material.
func (k Keypair) IsZero() bool {
	return len(k.priv) == 0
}

// Bytes returns a copy of the 64-byte key.
func (k Keypair) Bytes() []byte {
	out := make([]byte, len(k.priv))
	copy(out, k.priv)
	return out
}

// PublicKey returns the public half.
func (k Keypair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Address returns the base58 public address.
func (k Keypair) Address() string {
	return base58.Encode(k.PublicKey())
}

// Sign signs message with the private key.
func (k Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// DecodeAddress parses a base58 address into its 32 raw bytes.
func DecodeAddress(address string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	raw := base58.Decode(address)
	if len(raw) != AddressLength {
		return out, fmt.Errorf("invalid address %q: decoded to %d bytes", address, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
