package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

func Sha256Sum(data interface{}) Sha256 {
	var b []byte
	switch d := data.(type) {
	case string:
		b = []byte(d)
	case []byte:
		b = d
	default:
		LogCLI("attempted to hash non-string or non-[]byte", 1)
	}
	h := sha256.New()
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Blake3Sum is the content hash used by the content store.
func Blake3Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes the deterministic CBOR encoding of v. Values that are
// equal field for field always have the same fingerprint.
func Fingerprint(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding value for fingerprint: %w", err)
	}
	return Blake3Sum(b), nil
}

func GenerateKeyPair() (KeyPair, error) {
	sk := nostr.GeneratePrivateKey()
	return KeyPairFromPrivate(sk)
}

func KeyPairFromPrivate(privateKey string) (KeyPair, error) {
	pk, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return KeyPair{PrivateKey: privateKey, PublicKey: pk}, nil
}

func ParsePrivateKey(privateKey string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(privateKey)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: private key must be 32 bytes of hex", ErrInvalidKey)
	}
	sk, _ := btcec.PrivKeyFromBytes(b)
	return sk, nil
}

// ParsePublicKey parses a 32 byte x-only public key.
func ParsePublicKey(publicKey string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	pk, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pk, nil
}

// SignSchnorr signs sha256(message) with the BIP-340 scheme used by nostr.
func SignSchnorr(privateKey string, message []byte) (string, error) {
	sk, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(message)
	sig, err := schnorr.Sign(sk, hash[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

func VerifySchnorr(publicKey string, message []byte, signature string) bool {
	pk, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(b)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(message)
	return sig.Verify(hash[:], pk)
}
