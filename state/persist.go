package state

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

const (
	keyFile   = "key.age"
	vaultFile = "vault.age"
	// highest scrypt work factor Open accepts from a key file
	maxWorkFactor = 30
)

var ErrVaultNotFound = fmt.Errorf("vault %w", library.ErrNotFound)
var ErrWrongPassword = fmt.Errorf("%w: wrong vault password", library.ErrValidation)
var ErrVaultExists = fmt.Errorf("%w: a vault already exists here", library.ErrStateConflict)

// sealedStore writes the document encrypted to an X25519 identity. The
// identity itself is kept in keyFile, encrypted with the vault password, so
// the slow password derivation runs once per Open instead of once per save.
type sealedStore struct {
	dir      string
	identity *age.X25519Identity
}

// Create makes a new empty vault in dir protected by password.
func Create(dir, password string, workFactor int, m *metrics.Collector) (*Vault, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", library.ErrValidation)
	}
	if _, exists, err := actors.Open(dir, keyFile); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, dir)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}
	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return nil, err
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}
	sealed, err := encrypt([]byte(identity.String()), recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing vault key: %w", err)
	}
	store := &sealedStore{dir: dir, identity: identity}
	doc := NewDocument()
	if err := store.save(doc); err != nil {
		return nil, err
	}
	if err := actors.Write(dir, keyFile, sealed); err != nil {
		return nil, err
	}
	return &Vault{store: store, doc: doc, metrics: m}, nil
}

// Open decrypts the vault in dir.
func Open(dir, password string, m *metrics.Collector) (*Vault, error) {
	sealed, exists, err := actors.Open(dir, keyFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, dir)
	}
	scrypt, err := age.NewScryptIdentity(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPassword, err)
	}
	scrypt.SetMaxWorkFactor(maxWorkFactor)
	plain, err := decrypt(sealed, scrypt)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("%w: %s", ErrWrongPassword, err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(plain)))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt vault key: %s", library.ErrValidation, err)
	}
	store := &sealedStore{dir: dir, identity: identity}
	doc, err := store.load()
	if err != nil {
		return nil, err
	}
	return &Vault{store: store, doc: doc, metrics: m}, nil
}

func (s *sealedStore) save(doc *Document) error {
	b, err := doc.snapshot()
	if err != nil {
		return fmt.Errorf("encoding vault: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(b, nil)
	enc.Close()
	ciphertext, err := encrypt(compressed, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypting vault: %w", err)
	}
	return actors.Write(s.dir, vaultFile, ciphertext)
}

func (s *sealedStore) load() (*Document, error) {
	ciphertext, exists, err := actors.Open(s.dir, vaultFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewDocument(), nil
	}
	compressed, err := decrypt(ciphertext, s.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting vault: %s", library.ErrValidation, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	b, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing vault: %s", library.ErrValidation, err)
	}
	doc, err := restore(b)
	if err != nil {
		return nil, fmt.Errorf("decoding vault: %w", err)
	}
	return doc, nil
}

func encrypt(plaintext []byte, recipient age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decrypt(ciphertext []byte, identity age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
