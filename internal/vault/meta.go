package vault

import (
	"encoding/base64"
	"fmt"
)

// BlobInfo captures the cryptographic configuration recorded in a stored blob.
type BlobInfo struct {
	Cipher     string `json:"cipher"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Version    int    `json:"version"`
	SaltLength int    `json:"salt_length"`
	Legacy     bool   `json:"legacy"`
}

// DescribeBlob derives cryptographic details from a blob without decrypting it.
// Legacy blobs report the current iteration count, which is tried first on unlock.
func DescribeBlob(blob *EncryptedBlob) (*BlobInfo, error) {
	if blob == nil {
		return nil, fmt.Errorf("blob missing")
	}

	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	info := &BlobInfo{
		Cipher:     "AES-256-GCM",
		KDF:        KDFName,
		Iterations: PBKDF2Iterations,
		Version:    blob.Version,
		SaltLength: len(salt),
		Legacy:     blob.KDF == nil,
	}
	if blob.KDF != nil {
		info.KDF = blob.KDF.Name
		info.Iterations = blob.KDF.Iterations
	}

	return info, nil
}
