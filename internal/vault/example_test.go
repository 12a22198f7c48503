package vault_test

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/cipherkeep/cipherkeep/internal/vault"
)

func ExampleCipher() {
	c := vault.NewCipher()

	blob, err := c.Encrypt([]byte(`{"credentials":[]}`), "my-super-secure-passphrase-123")
	if err != nil {
		panic(err)
	}
	fmt.Println(blob.KDF.Name, blob.KDF.Iterations)

	plaintext, err := c.Decrypt(blob, "my-super-secure-passphrase-123")
	if err != nil {
		panic(err)
	}
	fmt.Println(string(plaintext))

	// Flip one bit of the ciphertext
	raw, _ := base64.StdEncoding.DecodeString(blob.EncryptedData)
	raw[0] ^= 1
	tampered := *blob
	tampered.EncryptedData = base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(&tampered, "my-super-secure-passphrase-123")
	fmt.Println(errors.Is(err, vault.ErrDecryption))

	// Output:
	// pbkdf2-sha256 600000
	// {"credentials":[]}
	// true
}

func ExampleValidateMasterPassword() {
	for _, v := range vault.ValidateMasterPassword("hunter2") {
		fmt.Println(v.Rule)
	}

	fmt.Println(len(vault.ValidateMasterPassword("Str0ng!Passw0rd")))

	// Output:
	// min_length
	// uppercase
	// symbol
	// 0
}
