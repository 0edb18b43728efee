package main

import (
	"fmt"
	"os"
	"strings"

	"dappvault/engine/actors"
	"dappvault/engine/conductor"
	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/messaging/chain"
	"dappvault/messaging/contentstore"
	"dappvault/messaging/feeds"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// newConductor wires the collaborators named in conf. Without relays the
// vault runs on an in-process transport and nothing leaves the machine.
func newConductor(conf *viper.Viper, m *metrics.Collector) (*conductor.Conductor, func(), error) {
	store, err := contentstore.NewDisk(conf.GetString("contentDir"))
	if err != nil {
		return nil, nil, err
	}
	var transport feeds.Transport
	if relays := conf.GetStringSlice("relays"); len(relays) > 0 {
		transport = feeds.NewRelays(relays, m)
	} else {
		library.LogCLI("no relays configured, feeds stay local", 2)
		transport = feeds.NewMemory()
	}
	deps := conductor.Deps{
		Transport: transport,
		Store:     store,
		Keychain:  actors.NewKeychain(conf.GetString("keyringService"), conf.GetString("vaultDir")),
		Metrics:   m,
	}
	if url := conf.GetString("rpcURL"); url != "" {
		deps.Chain = chain.NewClient(url, conf.GetDuration("confirmationPollInterval"), m)
	}
	c := conductor.New(conductor.Config{
		VaultDir:          conf.GetString("vaultDir"),
		AppsDir:           conf.GetString("appsDir"),
		ScryptWorkFactor:  conf.GetInt("scryptWorkFactor"),
		ProfileDebounce:   conf.GetDuration("profileDebounce"),
		HandshakeAttempts: conf.GetInt("handshakeAttempts"),
	}, deps)
	return c, func() {
		c.CloseVault()
		store.Close()
	}, nil
}

// readPassword takes the password from passwordFile, or prompts for it.
func readPassword(passwordFile, prompt string) (string, error) {
	if passwordFile != "" && passwordFile != "-" {
		b, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", passwordFile, err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: no terminal for the password prompt, use --password-file", library.ErrValidation)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// openVault opens the vault with the keychain password when one is stored
// and falls back to asking.
func openVault(c *conductor.Conductor, passwordFile string) error {
	if passwordFile == "" && c.GetPassword() != "" {
		if err := c.OpenVault(""); err == nil {
			return nil
		}
		library.LogCLI("stored vault password was rejected", 2)
	}
	password, err := readPassword(passwordFile, "Vault password: ")
	if err != nil {
		return err
	}
	return c.OpenVault(password)
}
