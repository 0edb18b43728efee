package wallets

import (
	"encoding/hex"
	"fmt"
	"strings"

	"dappvault/engine/library"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/nbd-wtf/go-nostr/nip06"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

const mnemonicWords = 12

// Address returns the EIP-55 checksummed address of pk.
func Address(pk *btcec.PublicKey) string {
	hash := library.Keccak256(pk.SerializeUncompressed()[1:])
	return checksum(hex.EncodeToString(hash[12:]))
}

func checksum(lower string) string {
	hash := hex.EncodeToString(library.Keccak256([]byte(lower)))
	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// NormalizeAddress lowercases an address so lookups ignore the checksum.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X"))
}

func sameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

func validateMnemonic(mnemonic string) (string, error) {
	words := strings.Fields(mnemonic)
	if len(words) != mnemonicWords {
		return "", library.ErrInvalidMnemonic
	}
	normalized := strings.Join(words, " ")
	if !nip06.ValidateWords(normalized) {
		return "", library.ErrInvalidMnemonic
	}
	return normalized, nil
}

// newMnemonic returns 12 fresh seed words (128 bits of entropy).
// nip06.GenerateSeedWords always yields 24.
func newMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("generating entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// deriveKey derives m/44'/60'/0'/0/index from mnemonic.
func deriveKey(mnemonic string, index uint32) (*btcec.PrivateKey, error) {
	seed := nip06.SeedFromWords(mnemonic)
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, i := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		index,
	} {
		if key, err = key.NewChildKey(i); err != nil {
			return nil, fmt.Errorf("deriving child %d: %w", i, err)
		}
	}
	b := key.Key
	if len(b) == 33 {
		b = b[1:]
	}
	sk, _ := btcec.PrivKeyFromBytes(b)
	return sk, nil
}

func deriveAddress(mnemonic string, index uint32) (string, error) {
	sk, err := deriveKey(mnemonic, index)
	if err != nil {
		return "", err
	}
	return Address(sk.PubKey()), nil
}

func parseAccountKey(privateKey string) (*btcec.PrivateKey, error) {
	return library.ParsePrivateKey(strings.TrimPrefix(privateKey, "0x"))
}

// sign returns keccak256(payload) and a 65 byte r||s||v signature over it.
func sign(sk *btcec.PrivateKey, payload []byte) ([]byte, []byte, error) {
	hash := library.Keccak256(payload)
	compact, err := ecdsa.SignCompact(sk, hash, false)
	if err != nil {
		return nil, nil, err
	}
	// compact is v||r||s with v = 27 + recovery id
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return hash, sig, nil
}

// Recover returns the address that produced an r||s||v signature over hash.
func Recover(hash, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes", library.ErrValidation)
	}
	compact := make([]byte, 65)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])
	pk, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return "", fmt.Errorf("%w: %s", library.ErrValidation, err)
	}
	return Address(pk), nil
}
