package network

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// DefaultShareSecret is used when no deployment secret is configured. Anyone holding
// this build can derive every share key, so it only keeps shares off the wire in the clear.
const DefaultShareSecret = "cipherkeep-lan-share-v1"

// PayloadVersion is written into every share and bound into its authenticated data
const PayloadVersion = 1

// ShareBlob is the encrypted credential carried by a share message
type ShareBlob struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
}

// ShareCipher encrypts credentials between two peer identities without a handshake.
// Both sides compute the same key from the sorted identity pair and the application
// secret. It is LAN convenience encryption, not peer authentication.
type ShareCipher struct {
	secret []byte
}

// NewShareCipher creates a cipher bound to the application secret
func NewShareCipher(secret string) *ShareCipher {
	if secret == "" {
		secret = DefaultShareSecret
	}
	return &ShareCipher{secret: []byte(secret)}
}

// DeriveSharedKey returns SHA-256(low || 0x00 || high || 0x00 || secret) where low and high
// are the two identities in lexicographic order.
func DeriveSharedKey(idA, idB string, secret []byte) []byte {
	low, high := idA, idB
	if high < low {
		low, high = high, low
	}
	h := sha256.New()
	h.Write([]byte(low))
	h.Write([]byte{0})
	h.Write([]byte(high))
	h.Write([]byte{0})
	h.Write(secret)
	return h.Sum(nil)
}

func shareAAD(version int) []byte {
	return []byte("cipherkeep-share/v" + strconv.Itoa(version))
}

// EncryptShare encrypts payload from selfID for targetID
func (c *ShareCipher) EncryptShare(selfID, targetID string, payload domain.SharedCredential) (*ShareBlob, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal share payload: %w", err)
	}
	defer vault.Zeroize(plaintext)

	key := DeriveSharedKey(selfID, targetID, c.secret)
	defer vault.Zeroize(key)

	nonce, ciphertext, err := vault.Seal(plaintext, key, shareAAD(PayloadVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt share: %w", err)
	}
	return &ShareBlob{
		IV:            base64.StdEncoding.EncodeToString(nonce),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptShare decrypts a blob that senderID encrypted for selfID. A wrong sender, a
// corrupted blob and an unknown version all yield vault.ErrDecryption.
func (c *ShareCipher) DecryptShare(selfID, senderID string, version int, blob ShareBlob) (domain.SharedCredential, error) {
	var out domain.SharedCredential
	if version != PayloadVersion {
		return out, vault.ErrDecryption
	}

	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return out, vault.ErrDecryption
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.EncryptedData)
	if err != nil {
		return out, vault.ErrDecryption
	}

	key := DeriveSharedKey(selfID, senderID, c.secret)
	defer vault.Zeroize(key)

	plaintext, err := vault.Open(nonce, ciphertext, key, shareAAD(version))
	if err != nil {
		return out, vault.ErrDecryption
	}
	defer vault.Zeroize(plaintext)

	if err := json.Unmarshal(plaintext, &out); err != nil {
		return domain.SharedCredential{}, vault.ErrDecryption
	}
	return out, nil
}

// sign computes the presence signature over the canonical field encoding
func (c *ShareCipher) sign(p *Presence) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "presence\x00%s\x00%s\x00%s\x00%d", p.ID, p.DisplayName, p.IP, p.Timestamp)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignPresence fills in p.Sig
func (c *ShareCipher) SignPresence(p *Presence) {
	p.Sig = c.sign(p)
}

// VerifyPresence checks p.Sig in constant time
func (c *ShareCipher) VerifyPresence(p *Presence) bool {
	got, err := base64.StdEncoding.DecodeString(p.Sig)
	if err != nil {
		return false
	}
	want, _ := base64.StdEncoding.DecodeString(c.sign(p))
	return hmac.Equal(got, want)
}
