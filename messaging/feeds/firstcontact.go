package feeds

import (
	"crypto/sha256"
	"encoding/hex"

	"dappvault/engine/library"
	"github.com/btcsuite/btcd/btcec/v2"
)

// FirstContactKey derives the key own uses to write to peer before the two
// are connected. Both sides compute the same ECDH secret, so the peer can
// derive the address of this feed with FirstContactAddress.
func FirstContactKey(own library.KeyPair, peerPublicKey string) (library.KeyPair, error) {
	secret, err := sharedSecret(own, peerPublicKey)
	if err != nil {
		return library.KeyPair{}, err
	}
	return deriveFirstContact(secret, own.PublicKey)
}

// FirstContactAddress is the address of the feed peer writes to own on, the
// mirror of FirstContactKey.
func FirstContactAddress(own library.KeyPair, peerPublicKey string) (string, error) {
	secret, err := sharedSecret(own, peerPublicKey)
	if err != nil {
		return "", err
	}
	kp, err := deriveFirstContact(secret, peerPublicKey)
	if err != nil {
		return "", err
	}
	return kp.PublicKey, nil
}

func sharedSecret(own library.KeyPair, peerPublicKey string) ([]byte, error) {
	sk, err := library.ParsePrivateKey(own.PrivateKey)
	if err != nil {
		return nil, err
	}
	pk, err := library.ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	return btcec.GenerateSharedSecret(sk, pk), nil
}

func deriveFirstContact(secret []byte, writer string) (library.KeyPair, error) {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(TopicFirstContact))
	h.Write([]byte(writer))
	return library.KeyPairFromPrivate(hex.EncodeToString(h.Sum(nil)))
}
