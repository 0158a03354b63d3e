package auth

import (
	"crypto/rsa"
	"sync"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/google/uuid"
)

type session struct {
	identityID int64
	key        *rsa.PrivateKey
	expires    time.Time
}

// Keyring keeps unlocked private keys in memory for the lifetime of a
// session. Keys are never written anywhere else.
type Keyring struct {
	mu       sync.Mutex
	sessions map[string]session
	now      func() time.Time
}

func NewKeyring() *Keyring {
	return &Keyring{sessions: map[string]session{}, now: time.Now}
}

// Open stores key under a new session ID valid for ttl.
func (k *Keyring) Open(identityID int64, key *rsa.PrivateKey, ttl time.Duration) string {
	id := uuid.NewString()
	k.mu.Lock()
	k.sessions[id] = session{identityID: identityID, key: key, expires: k.now().Add(ttl)}
	k.mu.Unlock()
	return id
}

// Key returns the key held by sessionID if the session belongs to
// identityID and has not expired.
func (k *Keyring) Key(sessionID string, identityID int64) (*rsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sessions[sessionID]
	if !ok || s.identityID != identityID {
		return nil, common.ErrorUnauthorized
	}
	if !k.now().Before(s.expires) {
		delete(k.sessions, sessionID)
		return nil, common.ErrTokenExpired
	}
	return s.key, nil
}

func (k *Keyring) Close(sessionID string) {
	k.mu.Lock()
	delete(k.sessions, sessionID)
	k.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (k *Keyring) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	n := 0
	for id, s := range k.sessions {
		if !now.Before(s.expires) {
			delete(k.sessions, id)
			n++
		}
	}
	return n
}
