package wallets

import (
	"context"
	"encoding/hex"
	"fmt"

	"dappvault/engine/library"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Signer produces keccak256(payload) and its r||s||v signature. A Signer
// holds everything it needs, so it can run without access to the DB.
type Signer func(ctx context.Context, payload []byte) (hash, sig []byte, err error)

// Signer resolves the key for account from inside wallet walletID.
func (db *DB) Signer(t Type, walletID, account string, device Device) (Signer, error) {
	switch t {
	case TypeHD:
		w, ok := db.HD[walletID]
		if !ok {
			return nil, library.NotFound(library.ErrWalletNotFound, walletID)
		}
		for i, a := range w.Accounts {
			if sameAddress(a, account) {
				sk, err := deriveKey(w.Mnemonic, w.Indexes[i])
				if err != nil {
					return nil, err
				}
				return keySigner(sk), nil
			}
		}
	case TypePK:
		w, ok := db.PK[walletID]
		if !ok {
			return nil, library.NotFound(library.ErrWalletNotFound, walletID)
		}
		for a, key := range w.PrivateKeys {
			if sameAddress(a, account) {
				sk, err := parseAccountKey(key)
				if err != nil {
					return nil, err
				}
				return keySigner(sk), nil
			}
		}
	case TypeLedger:
		w, ok := db.Ledger[walletID]
		if !ok {
			return nil, library.NotFound(library.ErrWalletNotFound, walletID)
		}
		for a, index := range w.Accounts {
			if sameAddress(a, account) {
				return deviceSigner(device, index), nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown wallet type %q", library.ErrValidation, t)
	}
	return nil, library.NotFound(library.ErrAccountNotFound, account)
}

func keySigner(sk *btcec.PrivateKey) Signer {
	return func(_ context.Context, payload []byte) ([]byte, []byte, error) {
		return sign(sk, payload)
	}
}

func deviceSigner(device Device, index uint32) Signer {
	return func(ctx context.Context, payload []byte) ([]byte, []byte, error) {
		if device == nil {
			return nil, nil, fmt.Errorf("%w: no device connected", library.ErrHardwareWallet)
		}
		sig, err := device.Sign(ctx, index, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", library.ErrHardwareWallet, err)
		}
		if len(sig) != 65 {
			return nil, nil, fmt.Errorf("%w: device returned a %d byte signature", library.ErrHardwareWallet, len(sig))
		}
		if sig[64] >= 27 {
			sig = append([]byte(nil), sig...)
			sig[64] -= 27
		}
		return library.Keccak256(payload), sig, nil
	}
}

func SignTransaction(ctx context.Context, signer Signer, tx Transaction) (SignedTransaction, error) {
	payload, err := tx.SigningPayload()
	if err != nil {
		return SignedTransaction{}, err
	}
	hash, sig, err := signer(ctx, payload)
	if err != nil {
		return SignedTransaction{}, err
	}
	raw, err := tx.encodeSigned(sig)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("%w: %s", library.ErrHardwareWallet, err)
	}
	return SignedTransaction{
		From:      tx.From,
		Hash:      "0x" + hex.EncodeToString(hash),
		Signature: "0x" + hex.EncodeToString(sig),
		TxHash:    "0x" + hex.EncodeToString(library.Keccak256(raw)),
		Raw:       "0x" + hex.EncodeToString(raw),
	}, nil
}

// SignTransaction signs tx with the key behind tx.From in the given wallet.
func (db *DB) SignTransaction(ctx context.Context, t Type, walletID string, tx Transaction, device Device) (SignedTransaction, error) {
	signer, err := db.Signer(t, walletID, tx.From, device)
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignTransaction(ctx, signer, tx)
}
