package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/dmitrijs2005/fedinode/internal/federation/webfinger"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
	lru "github.com/hashicorp/golang-lru"
)

// Fetcher is the outbound HTTP GET. *netx.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, accept string) ([]byte, string, error)
}

// Discoverer looks up remote accounts. *webfinger.Client satisfies it.
type Discoverer interface {
	Lookup(ctx context.Context, handle string) (*webfinger.Remote, error)
	HCard(ctx context.Context, u string) (*webfinger.HCard, error)
}

// Resolver maps handles to contacts, importing unknown ones from the
// network. Hits are served from an LRU cache in front of the repository.
type Resolver struct {
	repomanager repomanager.RepositoryManager
	discover    Discoverer
	fetch       Fetcher
	media       media.Store
	feed        *FeedService
	cache       *lru.Cache
	log         logging.Logger
}

func NewResolver(m repomanager.RepositoryManager, d Discoverer, fetch Fetcher, store media.Store,
	feed *FeedService, cacheSize int, l logging.Logger) (*Resolver, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		repomanager: m,
		discover:    d,
		fetch:       fetch,
		media:       store,
		feed:        feed,
		cache:       cache,
		log:         l.With("module", "resolver"),
	}, nil
}

func normalizeHandle(handle string) (string, error) {
	user, host, err := webfinger.SplitHandle(handle)
	if err != nil {
		return "", err
	}
	return user + "@" + host, nil
}

// Resolve returns the contact for handle, importing it on first reference.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*models.Contact, error) {
	h, err := normalizeHandle(handle)
	if err != nil {
		return nil, err
	}

	if v, ok := r.cache.Get(h); ok {
		c := *v.(*models.Contact)
		return &c, nil
	}

	c, err := r.repomanager.Contacts(r.repomanager.Conn()).GetByHandle(ctx, h)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorNotFound):
		c, err = r.importContact(ctx, h)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	cached := *c
	r.cache.Add(h, &cached)
	return c, nil
}

// PublicKey is the envelope.KeyLookup of the node.
func (r *Resolver) PublicKey(ctx context.Context, handle string) (*rsa.PublicKey, error) {
	c, err := r.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}
	return cryptox.ParsePublicKeyPEM(c.PublicKey)
}

// Invalidate drops handle from the cache after its contact changed.
func (r *Resolver) Invalidate(handle string) {
	if h, err := normalizeHandle(handle); err == nil {
		r.cache.Remove(h)
	}
}

// ByGUID returns a known contact. It never touches the network.
func (r *Resolver) ByGUID(ctx context.Context, guid string) (*models.Contact, error) {
	return r.repomanager.Contacts(r.repomanager.Conn()).GetByGUID(ctx, guid)
}

func (r *Resolver) importContact(ctx context.Context, handle string) (*models.Contact, error) {
	remote, err := r.discover.Lookup(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", handle, err)
	}
	if _, err := cryptox.ParsePublicKeyPEM(remote.PublicKeyPEM); err != nil {
		return nil, common.Validationf("import %s: public key: %v", handle, err)
	}

	c := &models.Contact{
		Handle:    handle,
		GUID:      remote.GUID,
		ServerURL: remote.ServerURL,
		PublicKey: remote.PublicKeyPEM,
	}

	var photo string
	if remote.HCardURL != "" {
		card, err := r.discover.HCard(ctx, remote.HCardURL)
		if err != nil {
			r.log.Warn(ctx, "hcard fetch failed", "handle", handle, "error", err)
		} else {
			c.DisplayName = card.FullName
			photo = card.Photo()
		}
	}

	repo := r.repomanager.Contacts(r.repomanager.Conn())
	created, err := repo.Create(ctx, c)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			// Someone imported it concurrently.
			return repo.GetByHandle(ctx, handle)
		}
		return nil, err
	}
	r.log.Info(ctx, "contact imported", "handle", handle, "guid", created.GUID)

	if photo != "" {
		if key, err := r.ImportAvatar(ctx, created, photo); err != nil {
			r.log.Warn(ctx, "avatar import failed", "handle", handle, "error", err)
		} else {
			created.AvatarKey = key
			if err := repo.Update(ctx, created); err != nil {
				return nil, err
			}
		}
	}

	if r.feed != nil {
		if n, err := r.feed.Import(ctx, created); err != nil {
			r.log.Warn(ctx, "public feed import failed", "handle", handle, "error", err)
		} else if n > 0 {
			r.log.Info(ctx, "public feed imported", "handle", handle, "posts", n)
		}
	}

	return created, nil
}

// ImportAvatar downloads src (relative to the contact's server) into the
// media store and returns the storage key.
func (r *Resolver) ImportAvatar(ctx context.Context, c *models.Contact, src string) (string, error) {
	u, err := absoluteURL(c.ServerURL, src)
	if err != nil {
		return "", err
	}
	body, contentType, err := r.fetch.Get(ctx, u, "image/*")
	if err != nil {
		return "", err
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return "", common.Validationf("avatar %s has content type %q", u, contentType)
	}

	key := "avatars/" + c.GUID
	if err := r.media.Put(ctx, key, contentType, body); err != nil {
		return "", err
	}
	return key, nil
}

func absoluteURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", common.Validationf("bad server url %q", base)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", common.Validationf("bad url %q", ref)
	}
	return b.ResolveReference(r).String(), nil
}
