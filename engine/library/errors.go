package library

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the vault wraps exactly one of these
// so callers can branch with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrStateConflict      = errors.New("state conflict")
	ErrIncompleteManifest = errors.New("incomplete manifest")
	ErrTransport          = errors.New("transport failure")
)

var (
	ErrIdentityNotFound = fmt.Errorf("identity %w", ErrNotFound)
	ErrWalletNotFound   = fmt.Errorf("wallet %w", ErrNotFound)
	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrContactNotFound  = fmt.Errorf("contact %w", ErrNotFound)
	ErrPeerNotFound     = fmt.Errorf("peer %w", ErrNotFound)
	ErrAppNotFound      = fmt.Errorf("app %w", ErrNotFound)
	ErrContentNotFound  = fmt.Errorf("content %w", ErrNotFound)
	ErrFeedNotFound     = fmt.Errorf("feed %w", ErrNotFound)

	ErrUnsupportedChain = fmt.Errorf("%w: unsupported chain", ErrValidation)
	ErrInvalidMnemonic  = fmt.Errorf("%w: seed phrase must consist of 12 words", ErrValidation)
	ErrInvalidVersion   = fmt.Errorf("%w: invalid app version", ErrValidation)
	ErrInvalidManifest  = fmt.Errorf("%w: invalid manifest signature", ErrValidation)
	ErrInvalidKey       = fmt.Errorf("%w: invalid key", ErrValidation)

	ErrAlreadyPublished = fmt.Errorf("%w: manifest has already been published for this version", ErrStateConflict)
	ErrAccountExists    = fmt.Errorf("%w: account already belongs to another wallet", ErrStateConflict)
	ErrContactExists    = fmt.Errorf("%w: peer is already a contact of this user", ErrStateConflict)
	ErrInvalidState     = fmt.Errorf("%w: invalid state transition", ErrStateConflict)
	ErrVaultOpen        = fmt.Errorf("%w: vault already open", ErrStateConflict)
	ErrVaultClosed      = fmt.Errorf("%w: no vault is open", ErrStateConflict)

	ErrHardwareWallet = fmt.Errorf("hardware wallet: %w", ErrTransport)
)

// NotFound wraps a lookup miss with the id that was asked for.
func NotFound(err error, id string) error {
	return fmt.Errorf("%w: %s", err, id)
}
