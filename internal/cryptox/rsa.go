package cryptox

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
)

// KeyBits is the modulus size of every identity keypair.
const KeyBits = 2048

// GenerateKeyPair creates a new identity keypair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return GenerateKeyPairBits(KeyBits)
}

// GenerateKeyPairBits is GenerateKeyPair with an explicit modulus size.
func GenerateKeyPairBits(bits int) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", common.ErrCrypto, err)
	}
	return priv, nil
}

// EncodePublicKeyPEM renders pub as a PKIX "PUBLIC KEY" PEM block, the form
// published in webfinger documents.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", common.ErrCrypto, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM accepts both PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") blocks; peers publish either.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", common.ErrCrypto)
	}

	if block.Type == "RSA PUBLIC KEY" {
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", common.ErrCrypto, err)
		}
		return pub, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", common.ErrCrypto, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, want RSA", common.ErrCrypto, key)
	}
	return pub, nil
}

// SignSHA256 returns the PKCS#1 v1.5 signature of sha256(message).
func SignSHA256(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", common.ErrCrypto, err)
	}
	return sig, nil
}

// VerifySHA256 reports whether sig is a valid signature of message by pub.
func VerifySHA256(pub *rsa.PublicKey, message, sig []byte) bool {
	if pub == nil {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// EncryptRSA encrypts a short message (a key bundle) to pub.
func EncryptRSA(pub *rsa.PublicKey, message []byte) ([]byte, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, message)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa encrypt: %v", common.ErrCrypto, err)
	}
	return out, nil
}

// DecryptRSA reverses EncryptRSA. Any failure is ErrDecryption.
func DecryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa: %v", common.ErrDecryption, err)
	}
	return out, nil
}
