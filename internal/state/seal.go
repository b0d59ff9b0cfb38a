package state

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// saltLen is the length of the random salt stored alongside the data.
	saltLen = 16

	// sealCheck is sealed at first open so later opens can verify the
	// passphrase before touching any cookie.
	sealCheck = "link-connect-seal-check"
)

var (
	// ErrWrongPassphrase means the passphrase does not match the one the
	// database was sealed with.
	ErrWrongPassphrase = errors.New("state passphrase does not match")

	// ErrSealed means a stored value is sealed but no passphrase was given.
	ErrSealed = errors.New("state value is sealed and no passphrase is configured")
)

// deriveAEAD derives an XChaCha20-Poly1305 cipher from passphrase and
// salt using scrypt. The passphrase is NFKC-normalized first.
func deriveAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(norm.NFKC.String(passphrase)), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	clear(key)

	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return aead, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	return salt, nil
}

// seal returns [nonce][ciphertext+tag]. The key is bound as additional
// data so a sealed value cannot be moved to another key.
func seal(aead cipher.AEAD, key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func open(aead cipher.AEAD, key string, data []byte) ([]byte, error) {
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("sealed value too short: %d bytes", len(data))
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("opening sealed value: %w", err)
	}

	return plaintext, nil
}
