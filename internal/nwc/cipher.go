package nwc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100000
	keySize       = 32
	saltSize      = 32
	ivSize        = 16
	tagSize       = 16
	hashSaltSize  = 16

	// Additional authenticated data binding ciphertexts to this application
	credentialAAD = "nwc-billing/wallet-credential"
)

// The stored connection string is the scheme, a base64-ish wallet pubkey
// payload, and an optional query part carrying relay and secret.
var connStringPattern = regexp.MustCompile(`^nostr\+walletconnect://[A-Za-z0-9+/=]+(\?\S*)?$`)

// EncryptedBundle is the at-rest form of a wallet connection string. The
// four parts are one atomic unit; partial presence is treated as corrupt.
type EncryptedBundle struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	Salt       []byte
}

// Cipher performs authenticated encryption of wallet connection strings,
// keyed by the process-wide master secret plus a per-record random salt.
type Cipher struct {
	masterSecret []byte
}

// NewCipher validates the master secret and builds a cipher around it
func NewCipher(masterSecret string) (*Cipher, error) {
	if len(masterSecret) < 32 {
		return nil, ErrMissingMasterSecret
	}
	return &Cipher{masterSecret: []byte(masterSecret)}, nil
}

// ValidConnectionString reports whether s matches the wallet connection
// string grammar
func ValidConnectionString(s string) bool {
	return connStringPattern.MatchString(s)
}

// Encrypt turns a plaintext connection string into a self-contained bundle.
// Decrypting the bundle with the same master secret reproduces exactly the
// original plaintext, or fails loudly.
func (c *Cipher) Encrypt(plaintext string) (*EncryptedBundle, error) {
	if !ValidConnectionString(plaintext) {
		return nil, ErrInvalidFormat
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	aead, err := c.newAEAD(salt)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), []byte(credentialAAD))
	split := len(sealed) - tagSize

	return &EncryptedBundle{
		Ciphertext: sealed[:split],
		IV:         iv,
		Tag:        sealed[split:],
		Salt:       salt,
	}, nil
}

// Decrypt re-derives the key from the bundle's salt and opens the
// ciphertext. Any tampering with ciphertext, IV, tag or salt fails the
// whole operation.
func (c *Cipher) Decrypt(bundle *EncryptedBundle) (string, error) {
	if bundle == nil || len(bundle.Ciphertext) == 0 ||
		len(bundle.IV) != ivSize || len(bundle.Tag) != tagSize || len(bundle.Salt) != saltSize {
		return "", ErrDecryptionFailed
	}

	aead, err := c.newAEAD(bundle.Salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(bundle.Ciphertext)+tagSize)
	sealed = append(sealed, bundle.Ciphertext...)
	sealed = append(sealed, bundle.Tag...)

	plaintext, err := aead.Open(nil, bundle.IV, sealed, []byte(credentialAAD))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	// A valid tag with an invalid payload means the master secret changed
	// underneath the stored data
	if !ValidConnectionString(string(plaintext)) {
		return "", ErrCorruptPlaintext
	}

	return string(plaintext), nil
}

func (c *Cipher) newAEAD(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.masterSecret, salt, kdfIterations, keySize, sha512.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build aead: %w", err)
	}

	return aead, nil
}

// HashSecret produces a one-way salted hash of a secret, for places that
// only need to validate a value later without being able to recover it
func (c *Cipher) HashSecret(secret string) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := pbkdf2.Key([]byte(secret), salt, kdfIterations, keySize, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum), nil
}

// VerifySecretHash checks a secret against a stored hash in constant time
func (c *Cipher) VerifySecretHash(secret, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != hashSaltSize {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	got := pbkdf2.Key([]byte(secret), salt, kdfIterations, keySize, sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
