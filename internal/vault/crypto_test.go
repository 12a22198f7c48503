package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}

	if len(salt1) != SaltSize {
		t.Errorf("Expected salt size %d, got %d", SaltSize, len(salt1))
	}

	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate second salt: %v", err)
	}

	if bytes.Equal(salt1, salt2) {
		t.Error("Generated salts should be different")
	}
}

func TestIterationFloor(t *testing.T) {
	assert.GreaterOrEqual(t, PBKDF2Iterations, 600_000)
	assert.Equal(t, PBKDF2Iterations, NewCipher().Params().Iterations)
	assert.Equal(t, KDFName, NewCipher().Params().Name)
}

func TestDeriveKey(t *testing.T) {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}

	key1, err := DeriveKey("test-passphrase-123", salt)
	require.NoError(t, err)
	assert.Len(t, key1, KeySize)

	// Same inputs should produce same key
	key2, err := DeriveKey("test-passphrase-123", salt)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	// Different passphrase should produce different key
	key3, err := DeriveKey("different-passphrase", salt)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)

	_, err = DeriveKey("test", salt[:8])
	assert.ErrorIs(t, err, ErrInvalidSalt)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewCipher()
	plaintexts := []string{
		`{"credentials":[],"settings":{"theme":"system"}}`,
		"",
		"unicode: contraseña 🔐",
	}

	for _, pt := range plaintexts {
		blob, err := c.Encrypt([]byte(pt), "Str0ng!Passw0rd")
		require.NoError(t, err)

		got, err := c.Decrypt(blob, "Str0ng!Passw0rd")
		require.NoError(t, err)
		assert.Equal(t, pt, string(got))
	}
}

func TestEncryptProducesFreshSaltAndIV(t *testing.T) {
	c := NewCipher()

	blob1, err := c.Encrypt([]byte("same plaintext"), "Str0ng!Passw0rd")
	require.NoError(t, err)
	blob2, err := c.Encrypt([]byte("same plaintext"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	assert.NotEqual(t, blob1.Salt, blob2.Salt)
	assert.NotEqual(t, blob1.IV, blob2.IV)
	assert.NotEqual(t, blob1.EncryptedData, blob2.EncryptedData)

	salt, err := base64.StdEncoding.DecodeString(blob1.Salt)
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)
	iv, err := base64.StdEncoding.DecodeString(blob1.IV)
	require.NoError(t, err)
	assert.Len(t, iv, NonceSize)

	assert.Equal(t, BlobVersion, blob1.Version)
	require.NotNil(t, blob1.KDF)
	assert.Equal(t, PBKDF2Iterations, blob1.KDF.Iterations)
}

func TestDecryptWrongPassword(t *testing.T) {
	c := NewCipher()
	blob, err := c.Encrypt([]byte("secret"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	_, err = c.Decrypt(blob, "Wr0ng!Passw0rd")
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestDecryptTamperedIsIndistinguishable(t *testing.T) {
	c := NewCipher()
	blob, err := c.Encrypt([]byte("secret"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(blob.EncryptedData)
	require.NoError(t, err)
	ct[0] ^= 0xff
	tampered := *blob
	tampered.EncryptedData = base64.StdEncoding.EncodeToString(ct)

	_, tamperErr := c.Decrypt(&tampered, "Str0ng!Passw0rd")
	_, wrongErr := c.Decrypt(blob, "Wr0ng!Passw0rd")

	require.Error(t, tamperErr)
	require.Error(t, wrongErr)
	assert.Equal(t, wrongErr, tamperErr)
	assert.Equal(t, wrongErr.Error(), tamperErr.Error())
}

func TestDecryptMalformedBlob(t *testing.T) {
	c := NewCipher()
	blob, err := c.Encrypt([]byte("secret"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	cases := map[string]func(b *EncryptedBlob){
		"bad salt":       func(b *EncryptedBlob) { b.Salt = "!!!" },
		"short iv":       func(b *EncryptedBlob) { b.IV = base64.StdEncoding.EncodeToString([]byte("short")) },
		"empty data":     func(b *EncryptedBlob) { b.EncryptedData = "" },
		"unknown kdf":    func(b *EncryptedBlob) { b.KDF = &KDFParams{Name: "md5", Iterations: PBKDF2Iterations} },
		"downgraded kdf": func(b *EncryptedBlob) { b.KDF = &KDFParams{Name: KDFName, Iterations: 1} },
		"runaway kdf":    func(b *EncryptedBlob) { b.KDF = &KDFParams{Name: KDFName, Iterations: 1_000_000_000} },
		"kdf over cap":   func(b *EncryptedBlob) { b.KDF = &KDFParams{Name: KDFName, Iterations: MaxPBKDF2Iterations + 1} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := *blob
			mutate(&b)
			_, err := c.Decrypt(&b, "Str0ng!Passw0rd")
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}

	_, err = c.Decrypt(nil, "Str0ng!Passw0rd")
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptLegacyBlob(t *testing.T) {
	// Blobs written before KDF parameters were recorded used 250k iterations.
	salt, err := GenerateSalt()
	require.NoError(t, err)
	key, err := deriveKey("Str0ng!Passw0rd", salt, LegacyPBKDF2Iterations)
	require.NoError(t, err)
	nonce, ct, err := Seal([]byte("legacy vault"), key, nil)
	require.NoError(t, err)

	blob := &EncryptedBlob{
		Salt:          base64.StdEncoding.EncodeToString(salt),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		EncryptedData: base64.StdEncoding.EncodeToString(ct),
	}
	assert.True(t, NeedsUpgrade(blob))

	got, err := NewCipher().Decrypt(blob, "Str0ng!Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, "legacy vault", string(got))
}

func TestMarshalBlobFieldNames(t *testing.T) {
	blob, err := NewCipher().Encrypt([]byte("x"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	data, err := MarshalBlob(blob)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"salt"`)
	assert.Contains(t, string(data), `"iv"`)
	assert.Contains(t, string(data), `"encryptedData"`)

	parsed, err := UnmarshalBlob(data)
	require.NoError(t, err)
	assert.Equal(t, blob, parsed)
	assert.False(t, NeedsUpgrade(parsed))

	_, err = UnmarshalBlob([]byte(`{"salt":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidBlob)
	_, err = UnmarshalBlob([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestSealOpenAdditionalData(t *testing.T) {
	key := make([]byte, KeySize)
	nonce, ct, err := Seal([]byte("payload"), key, []byte("v1"))
	require.NoError(t, err)

	pt, err := Open(nonce, ct, key, []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = Open(nonce, ct, key, []byte("v2"))
	assert.ErrorIs(t, err, ErrDecryption)

	_, _, err = Seal([]byte("payload"), key[:16], nil)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDescribeBlob(t *testing.T) {
	blob, err := NewCipher().Encrypt([]byte("x"), "Str0ng!Passw0rd")
	require.NoError(t, err)

	info, err := DescribeBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, "AES-256-GCM", info.Cipher)
	assert.Equal(t, PBKDF2Iterations, info.Iterations)
	assert.Equal(t, SaltSize, info.SaltLength)
	assert.False(t, info.Legacy)
}

func TestZeroize(t *testing.T) {
	data := []byte("sensitive")
	Zeroize(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("Byte at index %d not zeroed: %d", i, b)
		}
	}
}
