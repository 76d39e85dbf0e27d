// Package crypto implements envelope encryption for the secrets store:
// AES-256-GCM with a key derived per keyVersion via HKDF from that
// version's operator-supplied secret. This is the one component of the relay built
// directly on the standard library rather than a pack dependency — see
// DESIGN.md for why.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/forgerelay/relay/internal/relayerr"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // GCM standard nonce size
)

// Sealer derives a per-keyVersion AEAD key from configured key material and
// performs authenticated seal/open. The zero value is not usable; construct
// with NewSealer.
type Sealer struct {
	keys map[string]cipher.AEAD
}

// NewSealer derives an AEAD per entry in keyMaterial (keyVersion -> secret
// bytes, any length) via HKDF-SHA256.
func NewSealer(keyMaterial map[string][]byte) (*Sealer, error) {
	keys := make(map[string]cipher.AEAD, len(keyMaterial))
	for version, secret := range keyMaterial {
		aead, err := deriveAEAD(secret, version)
		if err != nil {
			return nil, fmt.Errorf("deriving key for version %q: %w", version, err)
		}
		keys[version] = aead
	}
	return &Sealer{keys: keys}, nil
}

func deriveAEAD(secret []byte, version string) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte("forgerelay-secret-store/"+version))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Sealed is the ciphertext plus the metadata needed to open it again later.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	KeyVersion string
}

// Seal encrypts plaintext under the given keyVersion's key. It never
// returns an error for well-formed input; a missing keyVersion is a
// programmer error (the caller should always seal with the currently
// configured version).
func (s *Sealer) Seal(plaintext []byte, keyVersion string) (Sealed, error) {
	aead, ok := s.keys[keyVersion]
	if !ok {
		return Sealed{}, relayerr.New(relayerr.KindCrypto, fmt.Sprintf("unknown key version %q", keyVersion))
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, relayerr.Wrap(relayerr.KindCrypto, "generating nonce", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return Sealed{Ciphertext: ciphertext, Nonce: nonce, KeyVersion: keyVersion}, nil
}

// Open decrypts and authenticates a Sealed value. It fails with a
// relayerr.KindCrypto error (never returning partial or substitute
// plaintext) if the keyVersion is unknown or the authentication tag does
// not match.
func (s *Sealer) Open(sealed Sealed) ([]byte, error) {
	aead, ok := s.keys[sealed.KeyVersion]
	if !ok {
		return nil, relayerr.Wrap(relayerr.KindCrypto, "DECRYPT_FAILED", fmt.Errorf("unknown key version %q", sealed.KeyVersion))
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindCrypto, "DECRYPT_FAILED", err)
	}
	return plaintext, nil
}
