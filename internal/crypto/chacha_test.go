package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeriveNonceLength(t *testing.T) {
	names := []string{
		"a",
		"000_out.tar",
		"001_out.tar.gz.chacha20",
		"a-very-long-part-name-that-exceeds-the-nonce-size.tar.xz.chacha20",
	}
	for _, name := range names {
		nonce := DeriveNonce(name)
		if len(nonce) != NonceLength {
			t.Errorf("DeriveNonce(%q) length = %d, want %d", name, len(nonce), NonceLength)
		}
	}
}

func TestDeriveNonceRepeatsBasename(t *testing.T) {
	nonce := DeriveNonce("/backups/abc")
	if string(nonce) != "abcabcabcabc" {
		t.Errorf("nonce = %q, want %q", nonce, "abcabcabcabc")
	}

	nonce = DeriveNonce("000_out.tar")
	if string(nonce) != "000_out.tar0" {
		t.Errorf("nonce = %q, want %q", nonce, "000_out.tar0")
	}
}

func TestDeriveNonceDeterministic(t *testing.T) {
	a := DeriveNonce("/some/dir/000_out.tar")
	b := DeriveNonce("/another/dir/000_out.tar")
	if !bytes.Equal(a, b) {
		t.Error("nonce should depend only on the basename")
	}
}

func TestDeriveNonceUniquePerPart(t *testing.T) {
	seen := make(map[string]string)
	for _, name := range []string{"000_out.tar", "001_out.tar", "002_out.tar", "010_out.tar"} {
		nonce := string(DeriveNonce(name))
		if prev, ok := seen[nonce]; ok {
			t.Errorf("parts %q and %q derive the same nonce", prev, name)
		}
		seen[nonce] = name
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(KeyLength)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != KeyLength {
		t.Fatalf("key length = %d, want %d", len(key), KeyLength)
	}

	other, err := GenerateKey(KeyLength)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if key == other {
		t.Error("two generated keys should not match")
	}
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	if _, err := NewCipher([]byte("short"), "000_out.tar"); err == nil {
		t.Error("expected error for undersized key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := []byte(strings.Repeat("k", KeyLength))
	plaintext := bytes.Repeat([]byte("backup data block "), 1000)

	// Encrypt the way the part writer does: XOR the stream under the
	// nonce derived from the ciphertext filename.
	encPath := filepath.Join(dir, "000_out.tar.chacha20")
	cipher, err := NewCipher(key, encPath)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.XORKeyStream(ciphertext, plaintext)
	if len(ciphertext) != len(plaintext) {
		t.Fatal("ChaCha20 must be length-preserving")
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should differ from plaintext")
	}
	if err := os.WriteFile(encPath, ciphertext, 0o644); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(dir, "000_out.tar")
	// Small block size forces multiple read iterations.
	if err := DecryptFile(encPath, outPath, key, 1024); err != nil {
		t.Fatalf("DecryptFile failed: %v", err)
	}

	decrypted, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted output does not match original plaintext")
	}
}
