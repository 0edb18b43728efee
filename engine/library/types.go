package library

// Account is a chain account address in its checksummed display form.
type Account = string

type Sha256 = string

// KeyPair is a secp256k1 key pair, hex encoded. PublicKey is the 32 byte
// x-only (BIP-340) form, which is also the address of any feed signed with
// this key.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

func (k KeyPair) IsZero() bool {
	return len(k.PrivateKey) == 0 && len(k.PublicKey) == 0
}
