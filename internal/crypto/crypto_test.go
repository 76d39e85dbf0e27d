package crypto

import (
	"testing"

	"github.com/forgerelay/relay/internal/relayerr"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(map[string][]byte{
		"v1": []byte("test-key-material-v1"),
		"v2": []byte("test-key-material-v2-different"),
	})
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpenRoundtrip(t *testing.T) {
	s := testSealer(t)

	plaintext := []byte("sk-ant-REDACTED")
	sealed, err := s.Seal(plaintext, "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", opened, plaintext)
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("value"), "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed.Ciphertext[0] ^= 0xFF

	_, err = s.Open(sealed)
	if !relayerr.Is(err, relayerr.KindCrypto) {
		t.Fatalf("expected KindCrypto error, got %v", err)
	}
}

func TestOpenFailsOnTamperedNonce(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("value"), "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed.Nonce[0] ^= 0xFF

	if _, err := s.Open(sealed); !relayerr.Is(err, relayerr.KindCrypto) {
		t.Fatalf("expected KindCrypto error, got %v", err)
	}
}

func TestOpenFailsOnUnknownKeyVersion(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("value"), "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed.KeyVersion = "v999"

	if _, err := s.Open(sealed); !relayerr.Is(err, relayerr.KindCrypto) {
		t.Fatalf("expected KindCrypto error, got %v", err)
	}
}

func TestSealUsesDistinctNoncesPerCall(t *testing.T) {
	s := testSealer(t)

	a, err := s.Seal([]byte("same-value"), "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := s.Seal([]byte("same-value"), "v1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if string(a.Nonce) == string(b.Nonce) {
		t.Fatalf("expected distinct nonces across seal calls")
	}
	if string(a.Ciphertext) == string(b.Ciphertext) {
		t.Fatalf("expected distinct ciphertexts for distinct nonces")
	}
}

func TestDifferentKeyVersionsProduceIncompatibleCiphertext(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("value"), "v2")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed.KeyVersion = "v1"

	if _, err := s.Open(sealed); !relayerr.Is(err, relayerr.KindCrypto) {
		t.Fatalf("expected KindCrypto error when opening under the wrong key, got %v", err)
	}
}

func TestSealUnknownKeyVersionErrors(t *testing.T) {
	s := testSealer(t)

	if _, err := s.Seal([]byte("value"), "nonexistent"); !relayerr.Is(err, relayerr.KindCrypto) {
		t.Fatalf("expected KindCrypto error, got %v", err)
	}
}
