package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Crypto constants
	KeySize   = 32 // AES-256 key size
	SaltSize  = 16 // PBKDF2 salt size
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM tag size

	// PBKDF2Iterations is the work factor for every newly written blob.
	// It must never be lowered.
	PBKDF2Iterations = 600_000

	// LegacyPBKDF2Iterations was used by blobs written before the KDF parameters
	// were recorded alongside the ciphertext.
	LegacyPBKDF2Iterations = 250_000

	// MaxPBKDF2Iterations bounds the work factor a stored blob may demand
	MaxPBKDF2Iterations = 10 * PBKDF2Iterations

	// KDFName identifies the key derivation function recorded in a blob
	KDFName = "pbkdf2-sha256"

	// BlobVersion is written into every new blob. Blobs without a version are legacy.
	BlobVersion = 2
)

var (
	// ErrDecryption covers a wrong password, a tampered ciphertext and a malformed blob alike.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidSalt is returned when a salt has the wrong length
	ErrInvalidSalt = errors.New("invalid salt size")
	// ErrInvalidKeySize is returned when an AEAD key is not 32 bytes
	ErrInvalidKeySize = errors.New("invalid key size")
	// ErrInvalidBlob is returned when stored data cannot be parsed as a blob
	ErrInvalidBlob = errors.New("invalid encrypted blob")
)

// legacyIterations lists the work factors tried, in order, for blobs that do not
// record their KDF parameters.
var legacyIterations = []int{PBKDF2Iterations, LegacyPBKDF2Iterations}

// KDFParams records how the key of a blob was derived
type KDFParams struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
}

// DefaultKDFParams returns the parameters used for new blobs
func DefaultKDFParams() KDFParams {
	return KDFParams{Name: KDFName, Iterations: PBKDF2Iterations}
}

// EncryptedBlob is the at-rest form of the vault. The salt, iv and encryptedData
// field names are part of the on-disk contract.
type EncryptedBlob struct {
	Salt          string     `json:"salt"`
	IV            string     `json:"iv"`
	EncryptedData string     `json:"encryptedData"`
	Version       int        `json:"version,omitempty"`
	KDF           *KDFParams `json:"kdf,omitempty"`
}

// Cipher encrypts and decrypts opaque payloads under a master password
type Cipher struct {
	params KDFParams
	rand   io.Reader
}

// NewCipher creates a cipher that derives keys with the current PBKDF2 parameters
func NewCipher() *Cipher {
	return &Cipher{
		params: DefaultKDFParams(),
		rand:   rand.Reader,
	}
}

// Params returns the KDF parameters used for encryption
func (c *Cipher) Params() KDFParams {
	return c.params
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	return randomBytes(rand.Reader, SaltSize)
}

// GenerateNonce creates a cryptographically secure random nonce
func GenerateNonce() ([]byte, error) {
	return randomBytes(rand.Reader, NonceSize)
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// DeriveKey derives a 256-bit key from a password with PBKDF2-HMAC-SHA256 at the
// current iteration count.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	return deriveKey(password, salt, PBKDF2Iterations)
}

func deriveKey(password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidSalt, SaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// The returned ciphertext carries the GCM tag at its end.
func Seal(plaintext, key, additionalData []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open decrypts a ciphertext produced by Seal. Any failure is reported as ErrDecryption.
func Open(nonce, ciphertext, key, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrDecryption
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryption
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext with a key derived from password. Every call uses a new
// salt and a new IV.
func (c *Cipher) Encrypt(plaintext []byte, password string) (*EncryptedBlob, error) {
	salt, err := randomBytes(c.rand, SaltSize)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(password, salt, c.params.Iterations)
	if err != nil {
		return nil, err
	}
	defer Zeroize(key)

	nonce, ciphertext, err := Seal(plaintext, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	params := c.params
	return &EncryptedBlob{
		Salt:          base64.StdEncoding.EncodeToString(salt),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		Version:       BlobVersion,
		KDF:           &params,
	}, nil
}

// Decrypt reverses Encrypt. A wrong password and a corrupted blob both yield ErrDecryption.
func (c *Cipher) Decrypt(blob *EncryptedBlob, password string) ([]byte, error) {
	if blob == nil {
		return nil, ErrDecryption
	}

	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil || len(salt) != SaltSize {
		return nil, ErrDecryption
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrDecryption
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.EncryptedData)
	if err != nil || len(ciphertext) < TagSize {
		return nil, ErrDecryption
	}

	candidates, ok := iterationCandidates(blob)
	if !ok {
		return nil, ErrDecryption
	}

	for _, iterations := range candidates {
		key, err := deriveKey(password, salt, iterations)
		if err != nil {
			return nil, ErrDecryption
		}
		plaintext, err := Open(nonce, ciphertext, key, nil)
		Zeroize(key)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrDecryption
}

func iterationCandidates(blob *EncryptedBlob) ([]int, bool) {
	if blob.KDF == nil {
		return legacyIterations, true
	}
	if blob.KDF.Name != KDFName ||
		blob.KDF.Iterations < LegacyPBKDF2Iterations || blob.KDF.Iterations > MaxPBKDF2Iterations {
		return nil, false
	}
	return []int{blob.KDF.Iterations}, true
}

// NeedsUpgrade reports whether a blob was written with parameters older than the current ones
func NeedsUpgrade(blob *EncryptedBlob) bool {
	return blob.KDF == nil || blob.Version < BlobVersion || blob.KDF.Iterations < PBKDF2Iterations
}

// MarshalBlob serializes a blob for the storage collaborator
func MarshalBlob(blob *EncryptedBlob) ([]byte, error) {
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blob: %w", err)
	}
	return data, nil
}

// UnmarshalBlob parses stored data into a blob
func UnmarshalBlob(data []byte) (*EncryptedBlob, error) {
	var blob EncryptedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	if blob.Salt == "" || blob.IV == "" || blob.EncryptedData == "" {
		return nil, ErrInvalidBlob
	}
	return &blob, nil
}

// Zeroize securely clears a byte slice
func Zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// SecureCompare performs constant-time comparison of two byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
