package wallets

import (
	"context"
)

type Type string

const (
	TypeHD     Type = "hd"
	TypePK     Type = "pk"
	TypeLedger Type = "ledger"
)

type Chain string

const ChainEthereum Chain = "ethereum"

// HDWallet derives every account from Mnemonic on m/44'/60'/0'/0/i.
type HDWallet struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Mnemonic string   `json:"mnemonic"`
	Indexes  []uint32 `json:"indexes"`
	Accounts []string `json:"accounts"`
}

// SingleKeyWallet holds independently imported private keys, by address.
type SingleKeyWallet struct {
	ID          string            `json:"id"`
	PrivateKeys map[string]string `json:"privateKeys"`
	Accounts    []string          `json:"accounts"`
}

// HardwareWallet only knows addresses and the derivation index the device
// uses for each. Keys never leave the device.
type HardwareWallet struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Accounts map[string]uint32 `json:"accounts"`
}

// Device is a connected hardware wallet.
type Device interface {
	Accounts(ctx context.Context, indexes []uint32) ([]string, error)
	// Sign returns a 65 byte r||s||v signature over keccak256(payload), v
	// being the recovery id.
	Sign(ctx context.Context, index uint32, payload []byte) ([]byte, error)
}

type SignedTransaction struct {
	From string `json:"from"`
	// Hash is the signed keccak256 of the signing payload.
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	// TxHash identifies the transaction on chain.
	TxHash string `json:"txHash"`
	// Raw is the RLP encoded signed transaction, 0x hex, ready for
	// eth_sendRawTransaction.
	Raw string `json:"raw"`
}

// Ref identifies the wallet that holds an account.
type Ref struct {
	Type Type
	ID   string
}
