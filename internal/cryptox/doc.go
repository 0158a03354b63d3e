// Package cryptox is the crypto primitives adapter of the federation node.
//
// It wraps the standard library and golang.org/x/crypto with the exact
// parameters the Diaspora wire protocol expects: RSA keys with PKCS#1 v1.5
// signatures and encryption, SHA-256 digests, AES-256-CBC with PKCS#7
// padding. It also seals local private keys at rest with an argon2id-derived
// key and AES-GCM.
//
// Every failure is reported with one of the common.ErrCrypto sentinels.
package cryptox
