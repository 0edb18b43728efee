package apps

import (
	"fmt"

	"dappvault/engine/library"
)

type Author struct {
	// ID is the developer's public key.
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ManifestData struct {
	// ID is the app's public key.
	ID           string      `json:"id"`
	Author       Author      `json:"author"`
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	ContentsHash string      `json:"contentsHash"`
	UpdateHash   string      `json:"updateHash"`
	Permissions  Permissions `json:"permissions"`
}

type Signature struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SignedManifest carries the app signature followed by the developer
// signature, both over the deterministic encoding of Data.
type SignedManifest struct {
	Data       ManifestData `json:"data"`
	Signatures []Signature  `json:"signatures"`
}

// Complete fails with library.ErrIncompleteManifest when a hash is missing.
func (m ManifestData) Complete() error {
	if m.ContentsHash == "" {
		return fmt.Errorf("%w: missing contents hash", library.ErrIncompleteManifest)
	}
	if m.UpdateHash == "" {
		return fmt.Errorf("%w: missing update hash", library.ErrIncompleteManifest)
	}
	return nil
}

// SignManifest signs data with the app key and then the developer key.
func SignManifest(data ManifestData, app, developer library.KeyPair) (SignedManifest, error) {
	if err := data.Complete(); err != nil {
		return SignedManifest{}, err
	}
	b, err := library.Marshal(data)
	if err != nil {
		return SignedManifest{}, fmt.Errorf("encoding manifest: %w", err)
	}
	signed := SignedManifest{Data: data}
	for _, kp := range []library.KeyPair{app, developer} {
		sig, err := library.SignSchnorr(kp.PrivateKey, b)
		if err != nil {
			return SignedManifest{}, err
		}
		signed.Signatures = append(signed.Signatures, Signature{PublicKey: kp.PublicKey, Signature: sig})
	}
	return signed, nil
}

// Verify checks that the manifest is signed by the app it describes and then
// by its author.
func (m SignedManifest) Verify() error {
	if err := m.Data.Complete(); err != nil {
		return err
	}
	if len(m.Signatures) != 2 {
		return fmt.Errorf("%w: expected 2 signatures, got %d", library.ErrInvalidManifest, len(m.Signatures))
	}
	b, err := library.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	for i, signer := range []string{m.Data.ID, m.Data.Author.ID} {
		s := m.Signatures[i]
		if s.PublicKey != signer || !library.VerifySchnorr(s.PublicKey, b, s.Signature) {
			return fmt.Errorf("%w: signature %d", library.ErrInvalidManifest, i)
		}
	}
	return nil
}
