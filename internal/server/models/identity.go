package models

import "time"

// Identity is a local actor. The private key is only stored sealed under
// the owner's password; the handle and GUID never change once issued.
type Identity struct {
	ID                  int64
	ContactID           int64
	Handle              string
	GUID                string
	ServerURL           string
	PublicKey           string
	EncryptedPrivateKey []byte
	CreatedAt           time.Time
}
