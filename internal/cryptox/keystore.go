package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
)

// DeriveKey stretches a password into a 32-byte key with argon2id.
func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// EncryptPrivateKey seals priv under password. The blob layout is
// salt(16) || nonce(12) || AES-GCM(PKCS#1 DER).
func EncryptPrivateKey(priv *rsa.PrivateKey, password []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveKey(password, salt)
	defer common.WipeByteArray(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	der := x509.MarshalPKCS1PrivateKey(priv)
	defer common.WipeByteArray(der)

	nonce := common.GenerateRandByteArray(nonceSize)

	blob := make([]byte, 0, saltSize+nonceSize+len(der)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, der, nil), nil
}

// DecryptPrivateKey opens a blob produced by EncryptPrivateKey. A wrong
// password yields ErrBadPassword.
func DecryptPrivateKey(blob []byte, password []byte) (*rsa.PrivateKey, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, fmt.Errorf("%w: key blob too short", common.ErrDecryption)
	}
	salt, nonce, ct := blob[:saltSize], blob[saltSize:saltSize+nonceSize], blob[saltSize+nonceSize:]

	key := DeriveKey(password, salt)
	defer common.WipeByteArray(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	der, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, common.ErrBadPassword
	}
	defer common.WipeByteArray(der)

	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", common.ErrDecryption, err)
	}
	return priv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return gcm, nil
}
