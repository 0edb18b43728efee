package wallets

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"dappvault/engine/library"
)

// Transaction is a legacy account-chain transaction from From, signed with
// EIP-155 replay protection for ChainID. An empty To creates a contract.
type Transaction struct {
	From     string   `json:"from"`
	ChainID  uint64   `json:"chainId"`
	Nonce    uint64   `json:"nonce"`
	GasPrice *big.Int `json:"gasPrice,omitempty"`
	Gas      uint64   `json:"gas"`
	To       string   `json:"to,omitempty"`
	Value    *big.Int `json:"value,omitempty"`
	Data     []byte   `json:"data,omitempty"`
}

func (tx Transaction) fields() ([][]byte, error) {
	if tx.ChainID == 0 {
		return nil, fmt.Errorf("%w: transaction needs a chain id", library.ErrValidation)
	}
	if (tx.GasPrice != nil && tx.GasPrice.Sign() < 0) || (tx.Value != nil && tx.Value.Sign() < 0) {
		return nil, fmt.Errorf("%w: negative gas price or value", library.ErrValidation)
	}
	var to []byte
	if tx.To != "" {
		var err error
		to, err = hex.DecodeString(strings.TrimPrefix(strings.ToLower(tx.To), "0x"))
		if err != nil || len(to) != 20 {
			return nil, fmt.Errorf("%w: bad recipient %q", library.ErrValidation, tx.To)
		}
	}
	return [][]byte{
		rlpUint(tx.Nonce),
		rlpBig(tx.GasPrice),
		rlpUint(tx.Gas),
		rlpBytes(to),
		rlpBig(tx.Value),
		rlpBytes(tx.Data),
	}, nil
}

// SigningPayload is the RLP preimage whose keccak256 gets signed.
func (tx Transaction) SigningPayload() ([]byte, error) {
	fields, err := tx.fields()
	if err != nil {
		return nil, err
	}
	return rlpList(append(fields, rlpUint(tx.ChainID), rlpUint(0), rlpUint(0))...), nil
}

// encodeSigned returns the raw transaction for an r||s||v signature where v
// is the recovery id.
func (tx Transaction) encodeSigned(sig []byte) ([]byte, error) {
	if len(sig) != 65 || sig[64] > 1 {
		return nil, fmt.Errorf("%w: malformed signature", library.ErrValidation)
	}
	fields, err := tx.fields()
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetUint64(tx.ChainID)
	v.Mul(v, big.NewInt(2))
	v.Add(v, big.NewInt(35+int64(sig[64])))
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	return rlpList(append(fields, rlpBig(v), rlpBig(r), rlpBig(s))...), nil
}
