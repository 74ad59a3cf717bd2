package packaging

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"org-backup-engine/internal/errors"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// pbkdf2Iterations matches the derivation cost used for passphrase keys
const pbkdf2Iterations = 100000

// Encrypt seals data with AES-256-GCM under the given key. The nonce is
// prepended to the ciphertext.
func Encrypt(data, key []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.NewEncryptionError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens AES-256-GCM ciphertext produced by Encrypt
func Decrypt(encrypted, key []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to create GCM cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, errors.NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to decrypt data", err)
	}

	return plaintext, nil
}

// ValidateKey validates that a key is suitable for AES-256
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return errors.NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}

	if allZeros {
		return errors.NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return errors.NewEncryptionError("key cannot be all ones", nil)
	}

	return nil
}

// KeyManager resolves encryption keys. The engine holds one master key;
// per-tenant keys are derived from it so one tenant's key never decrypts
// another tenant's archives.
type KeyManager struct {
	masterKey []byte
}

// NewKeyManager creates a key manager around a validated master key
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	if err := ValidateKey(masterKey); err != nil {
		return nil, err
	}
	return &KeyManager{masterKey: masterKey}, nil
}

// GenerateKey generates a new random 256-bit key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKeyFromPassphrase derives a key from a passphrase using PBKDF2
func DeriveKeyFromPassphrase(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New)
}

// TenantKey derives the tenant-scoped key used for that tenant's archives
func (km *KeyManager) TenantKey(orgID string) []byte {
	mac := hmac.New(sha256.New, km.masterKey)
	mac.Write([]byte("tenant-archive-key:" + orgID))
	return mac.Sum(nil)
}

// KeyRef returns an opaque reference recorded on the backup so the right
// key can be resolved at restore time without storing key material.
func (km *KeyManager) KeyRef(orgID string) string {
	sum := sha256.Sum256(km.TenantKey(orgID))
	return "tenant:" + hex.EncodeToString(sum[:8])
}

// LoadKeyFromFile loads a raw 32-byte key from a file
func LoadKeyFromFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewEncryptionError("failed to read key from file", err)
	}
	if len(key) != KeySize {
		return nil, errors.NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
	}
	return key, nil
}

// SaveKeyToFile writes a key to a file readable only by the owner
func SaveKeyToFile(key []byte, path string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return errors.NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// LoadKeyFromEnv loads a hex-encoded key from an environment variable
func LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, errors.NewEncryptionError(
			fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.NewEncryptionError(
			"failed to decode hex key from environment variable", err)
	}
	if len(key) != KeySize {
		return nil, errors.NewEncryptionError(
			"key from environment variable must be 32 bytes for AES-256", nil)
	}
	return key, nil
}
