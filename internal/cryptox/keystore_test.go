package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	if bytes.Equal(DeriveKey(password, []byte("salt-1")), DeriveKey(password, []byte("salt-2"))) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestPrivateKeyAtRest_RoundTrip(t *testing.T) {
	a, _ := testKeys(t)

	blob, err := EncryptPrivateKey(a, []byte("hunter2"))
	require.NoError(t, err)
	require.Greater(t, len(blob), saltSize+nonceSize)

	got, err := DecryptPrivateKey(blob, []byte("hunter2"))
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
}

func TestPrivateKeyAtRest_FreshSaltEachTime(t *testing.T) {
	a, _ := testKeys(t)

	b1, err := EncryptPrivateKey(a, []byte("pw"))
	require.NoError(t, err)
	b2, err := EncryptPrivateKey(a, []byte("pw"))
	require.NoError(t, err)

	assert.NotEqual(t, b1[:saltSize], b2[:saltSize])
}

func TestPrivateKeyAtRest_BadPassword(t *testing.T) {
	a, _ := testKeys(t)

	blob, err := EncryptPrivateKey(a, []byte("right"))
	require.NoError(t, err)

	_, err = DecryptPrivateKey(blob, []byte("wrong"))
	require.ErrorIs(t, err, common.ErrBadPassword)
	require.ErrorIs(t, err, common.ErrCrypto)

	_, err = DecryptPrivateKey(blob[:10], []byte("right"))
	require.ErrorIs(t, err, common.ErrDecryption)
}
