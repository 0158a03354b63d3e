package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
)

const (
	// AESKeySize is the AES-256 key length.
	AESKeySize = 32
	// BlockSize is the AES block size, which is also the IV length.
	BlockSize = aes.BlockSize
)

// NewAESKey returns a fresh random AES-256 key and IV.
func NewAESKey() (key, iv []byte) {
	return common.GenerateRandByteArray(AESKeySize), common.GenerateRandByteArray(BlockSize)
}

// PKCS7Pad appends between 1 and blockSize bytes, each holding the pad
// length. Aligned input always gains one full block.
func PKCS7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// PKCS7Unpad strips and validates PKCS#7 padding.
func PKCS7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", common.ErrInvalidPadding, len(data), blockSize)
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: pad value %d", common.ErrInvalidPadding, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, common.ErrInvalidPadding
		}
	}

	return data[:len(data)-n], nil
}

func checkKeyIV(key, iv []byte) error {
	if len(key) != AESKeySize {
		return fmt.Errorf("%w: aes key must be %d bytes, got %d", common.ErrCrypto, AESKeySize, len(key))
	}
	if len(iv) != BlockSize {
		return fmt.Errorf("%w: iv must be %d bytes, got %d", common.ErrCrypto, BlockSize, len(iv))
	}
	return nil
}

// EncryptCBC pads plaintext and encrypts it with AES-256-CBC.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}

	padded := PKCS7Pad(plaintext, BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return out, nil
}

// DecryptCBC decrypts AES-256-CBC ciphertext and removes the padding.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", common.ErrDecryption, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	return PKCS7Unpad(out, BlockSize)
}
