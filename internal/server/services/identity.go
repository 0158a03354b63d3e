package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/auth"
	"github.com/dmitrijs2005/fedinode/internal/server/config"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

// IdentityService creates local identities and opens sessions that hold
// their unlocked keys.
type IdentityService struct {
	repomanager       repomanager.RepositoryManager
	keyring           *auth.Keyring
	guids             *GUIDs
	log               logging.Logger
	baseURL           string
	hostname          string
	registrationsOpen bool
	jwtSecret         []byte
	tokenValidity     time.Duration
	keyBits           int
}

func NewIdentityService(m repomanager.RepositoryManager, cfg *config.Config, keyring *auth.Keyring, guids *GUIDs, l logging.Logger) *IdentityService {
	return &IdentityService{
		repomanager:       m,
		keyring:           keyring,
		guids:             guids,
		log:               l.With("module", "identity"),
		baseURL:           cfg.BaseURL,
		hostname:          cfg.Hostname(),
		registrationsOpen: cfg.RegistrationsOpen,
		jwtSecret:         []byte(cfg.SecretKey),
		tokenValidity:     cfg.AccessTokenValidityDuration,
		keyBits:           cryptox.KeyBits,
	}
}

// Signup creates a contact and identity with a fresh keypair sealed under
// password. The handle is "{contact id}@{hostname}".
func (s *IdentityService) Signup(ctx context.Context, password string) (*models.Identity, error) {
	if !s.registrationsOpen {
		return nil, common.ErrorUnauthorized
	}
	if password == "" {
		return nil, common.Validationf("empty password")
	}

	key, err := cryptox.GenerateKeyPairBits(s.keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	pubPEM, err := cryptox.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	pw := []byte(password)
	defer common.WipeByteArray(pw)
	sealed, err := cryptox.EncryptPrivateKey(key, pw)
	if err != nil {
		return nil, err
	}

	guid := s.guids.New()
	var identity *models.Identity

	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		contacts := s.repomanager.Contacts(tx)
		identities := s.repomanager.Identities(tx)

		// The handle embeds the contact ID, so rows start with the GUID as a
		// placeholder and get their handle once the ID is known.
		c, err := contacts.Create(ctx, &models.Contact{
			Handle:    guid,
			GUID:      guid,
			ServerURL: s.baseURL,
			PublicKey: pubPEM,
			Local:     true,
		})
		if err != nil {
			return fmt.Errorf("error creating contact: %w", err)
		}

		identity, err = identities.Create(ctx, &models.Identity{
			ContactID:           c.ID,
			Handle:              guid,
			GUID:                guid,
			ServerURL:           s.baseURL,
			PublicKey:           pubPEM,
			EncryptedPrivateKey: sealed,
		})
		if err != nil {
			return fmt.Errorf("error creating identity: %w", err)
		}

		handle := strconv.FormatInt(c.ID, 10) + "@" + s.hostname
		c.Handle = handle
		if err := contacts.Update(ctx, c); err != nil {
			return err
		}
		if err := identities.SetHandle(ctx, identity.ID, handle); err != nil {
			return err
		}
		identity.Handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "identity created", "handle", identity.Handle, "guid", identity.GUID)
	return identity, nil
}

// Unlock decrypts the identity's private key. A wrong password or unknown
// handle yields common.ErrBadPassword.
func (s *IdentityService) Unlock(ctx context.Context, handle, password string) (*Actor, error) {
	conn := s.repomanager.Conn()

	identity, err := s.repomanager.Identities(conn).GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrBadPassword
		}
		return nil, err
	}

	pw := []byte(password)
	defer common.WipeByteArray(pw)
	key, err := cryptox.DecryptPrivateKey(identity.EncryptedPrivateKey, pw)
	if err != nil {
		return nil, err
	}

	contact, err := s.repomanager.Contacts(conn).GetByID(ctx, identity.ContactID)
	if err != nil {
		return nil, err
	}
	return &Actor{Identity: identity, Contact: contact, Key: key}, nil
}

// Login unlocks the identity, parks the key in the keyring and returns a
// session token.
func (s *IdentityService) Login(ctx context.Context, handle, password string) (string, error) {
	actor, err := s.Unlock(ctx, handle, password)
	if err != nil {
		if errors.Is(err, common.ErrBadPassword) {
			s.log.Warn(ctx, "login failed", "handle", handle)
			return "", common.ErrorUnauthorized
		}
		return "", err
	}

	sid := s.keyring.Open(actor.Identity.ID, actor.Key, s.tokenValidity)
	token, err := auth.GenerateToken(actor.Identity.ID, sid, s.jwtSecret, s.tokenValidity)
	if err != nil {
		s.keyring.Close(sid)
		return "", common.ErrorInternal
	}
	return token, nil
}

// Authenticate maps a session token back to its unlocked actor.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*Actor, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	key, err := s.keyring.Key(claims.SessionID, claims.IdentityID)
	if err != nil {
		return nil, err
	}

	conn := s.repomanager.Conn()
	identity, err := s.repomanager.Identities(conn).GetByID(ctx, claims.IdentityID)
	if err != nil {
		return nil, err
	}
	contact, err := s.repomanager.Contacts(conn).GetByID(ctx, identity.ContactID)
	if err != nil {
		return nil, err
	}
	return &Actor{Identity: identity, Contact: contact, Key: key}, nil
}

func (s *IdentityService) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return err
	}
	s.keyring.Close(claims.SessionID)
	return nil
}

// ByGUID returns the local identity and its contact.
func (s *IdentityService) ByGUID(ctx context.Context, guid string) (*models.Identity, *models.Contact, error) {
	conn := s.repomanager.Conn()
	identity, err := s.repomanager.Identities(conn).GetByGUID(ctx, guid)
	if err != nil {
		return nil, nil, err
	}
	contact, err := s.repomanager.Contacts(conn).GetByID(ctx, identity.ContactID)
	if err != nil {
		return nil, nil, err
	}
	return identity, contact, nil
}

// ByHandle returns the local identity and its contact.
func (s *IdentityService) ByHandle(ctx context.Context, handle string) (*models.Identity, *models.Contact, error) {
	conn := s.repomanager.Conn()
	identity, err := s.repomanager.Identities(conn).GetByHandle(ctx, handle)
	if err != nil {
		return nil, nil, err
	}
	contact, err := s.repomanager.Contacts(conn).GetByID(ctx, identity.ContactID)
	if err != nil {
		return nil, nil, err
	}
	return identity, contact, nil
}
