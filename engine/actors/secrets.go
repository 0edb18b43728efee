package actors

import (
	"fmt"

	"dappvault/engine/library"
	"github.com/zalando/go-keyring"
)

// Keychain stores the vault password in the operating system secret store.
// Failures are logged and degrade to an empty result; they never abort the caller.
type Keychain struct {
	Service string
	Account string
}

func NewKeychain(service, vaultDir string) Keychain {
	return Keychain{Service: service, Account: vaultDir}
}

// GetPassword returns the stored password, or "" when none is stored or the
// secret store is unavailable.
func (k Keychain) GetPassword() string {
	password, err := keyring.Get(k.Service, k.Account)
	if err != nil {
		if err != keyring.ErrNotFound {
			library.LogCLI(fmt.Sprintf("failed to retrieve password from keychain: %s", err), 1)
		}
		return ""
	}
	return password
}

func (k Keychain) SavePassword(password string) bool {
	if err := keyring.Set(k.Service, k.Account, password); err != nil {
		library.LogCLI(fmt.Sprintf("failed to save password to keychain: %s", err), 1)
		return false
	}
	return true
}
