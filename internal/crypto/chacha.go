// Package crypto implements the ChaCha20 layer applied to part files and the
// deterministic per-part nonce derivation.
//
// Parts are encrypted with a 32-byte key stored in the state database and a
// 12-byte nonce derived from the part's basename. Because ChaCha20 is a
// stream cipher the ciphertext length equals the plaintext length and there
// is no header or authentication tag: a consumer needs only the key and the
// filename to decrypt.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20"
)

const (
	// KeyLength is the ChaCha20 key size in bytes.
	KeyLength = chacha20.KeySize

	// NonceLength is the ChaCha20 nonce size in bytes.
	NonceLength = chacha20.NonceSize
)

// DeriveNonce derives the ChaCha20 nonce for a part from its filename: the
// basename repeated and truncated to exactly NonceLength bytes. Part names
// are unique within a backup, so nonces are too.
func DeriveNonce(partFilename string) []byte {
	base := filepath.Base(partFilename)
	repeated := strings.Repeat(base, NonceLength/len(base)+1)
	return []byte(repeated[:NonceLength])
}

// GenerateKey generates a printable key of the given length from a
// cryptographic RNG. The key is stored as text in the state database; its
// UTF-8 bytes are used directly as the cipher key.
func GenerateKey(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz" +
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"0123456789" +
		"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// NewCipher returns a ChaCha20 stream cipher for the given key and the nonce
// derived from partFilename.
func NewCipher(key []byte, partFilename string) (*chacha20.Cipher, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLength, len(key))
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(key, DeriveNonce(partFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher, nil
}

// DecryptFile stream-decrypts inputPath into outputPath in blockSize chunks.
// The nonce is reconstructed from the input's basename, so the ciphertext
// must still carry the name it was uploaded under.
func DecryptFile(inputPath, outputPath string, key []byte, blockSize int) error {
	cipher, err := NewCipher(key, inputPath)
	if err != nil {
		return err
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, blockSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			cipher.XORKeyStream(buf[:n], buf[:n])
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write decrypted data: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
	}

	return nil
}
