package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// deriveKey stretches the configured passphrase into a 32-byte AES key.
// The salt is fixed so the same passphrase always yields the same key.
func deriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty encryption key")
	}
	return scrypt.Key([]byte(passphrase), []byte("salt"), 16384, 8, 1, 32)
}

// Encrypt returns "iv_hex:ciphertext_hex" using AES-256-CBC with PKCS#7
// padding. On any failure the plaintext is returned unchanged: the store
// degrades to unencrypted rather than losing data. Callers must treat
// the stored value as possibly-plaintext.
func (g *Gate) Encrypt(plaintext string) string {
	block, err := aes.NewCipher(g.key)
	if err != nil {
		return plaintext
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return plaintext
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out)
}

// Decrypt reverses Encrypt. Malformed or tampered input is returned
// unchanged, mirroring the fail-open policy of Encrypt.
func (g *Gate) Decrypt(value string) string {
	iv, ct, ok := splitCipherText(value)
	if !ok {
		return value
	}
	block, err := aes.NewCipher(g.key)
	if err != nil {
		return value
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return value
	}
	return string(plain)
}

func splitCipherText(value string) (iv, ct []byte, ok bool) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, nil, false
	}
	ct, err = hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, nil, false
	}
	return iv, ct, true
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padding length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding byte")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}
