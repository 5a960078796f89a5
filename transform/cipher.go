package transform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"

	"github.com/pkg/errors"
)

// Cipher encrypts and decrypts frame payloads.
type Cipher interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// blockCipherKey and iv match encryption_bureau.py exactly: a fixed
// key derived from the literal string "TwoDrive" and an all-zero IV.
// Both peers in a pairing derive the same key independent of any
// handshake, which is why the ENCRYPTION frame only announces whether
// encryption is in effect, never key material.
var (
	blockCipherKey = sha256.Sum256([]byte("TwoDrive"))
	iv             = make([]byte, aes.BlockSize)
)

type aesCBCCipher struct{}

// NewAESCipher returns the fixed-key AES-256-CBC Cipher used for all
// connections with encryption enabled.
func NewAESCipher() Cipher {
	return &aesCBCCipher{}
}

func (c *aesCBCCipher) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(blockCipherKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "transform: aes cipher")
	}
	padded := pkcs7Pad(data, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[aes.BlockSize:], padded)

	return out, nil
}

func (c *aesCBCCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize {
		return nil, errors.New("transform: ciphertext shorter than IV")
	}
	block, err := aes.NewCipher(blockCipherKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "transform: aes cipher")
	}
	ciphertext := data[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("transform: ciphertext not block-aligned")
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("transform: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("transform: invalid pkcs7 padding")
	}
	return data[:len(data)-padLen], nil
}
