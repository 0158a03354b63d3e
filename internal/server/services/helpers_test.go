package services

import (
	"context"
	"crypto/rsa"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/dmitrijs2005/fedinode/internal/federation/envelope"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/federation/webfinger"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/auth"
	"github.com/dmitrijs2005/fedinode/internal/server/config"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://local.example/"

var (
	keyPoolOnce sync.Once
	keyPool     []*rsa.PrivateKey
	keyPoolMu   sync.Mutex
	keyPoolNext int
)

// testKey hands out pre-generated 1024-bit keys; generation dominates test
// time otherwise.
func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyPoolOnce.Do(func() {
		for i := 0; i < 8; i++ {
			k, err := cryptox.GenerateKeyPairBits(1024)
			require.NoError(t, err)
			keyPool = append(keyPool, k)
		}
	})
	keyPoolMu.Lock()
	defer keyPoolMu.Unlock()
	k := keyPool[keyPoolNext%len(keyPool)]
	keyPoolNext++
	return k
}

type delivery struct {
	url  string
	body string
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []delivery
	fails map[string]error
}

func (f *fakeTransport) PostForm(_ context.Context, u string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fails[u]; ok {
		return err
	}
	f.sent = append(f.sent, delivery{url: u, body: body})
	return nil
}

func (f *fakeTransport) to(u string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.sent {
		if d.url == u {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type fetched struct {
	body        []byte
	contentType string
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fetched
	hits  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]fetched{}, hits: map[string]int{}}
}

func (f *fakeFetcher) set(u, contentType string, body []byte) {
	f.mu.Lock()
	f.pages[u] = fetched{body: body, contentType: contentType}
	f.mu.Unlock()
}

func (f *fakeFetcher) Get(_ context.Context, u string, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[u]++
	p, ok := f.pages[u]
	if !ok {
		return nil, "", common.ErrRemoteUnreachable
	}
	return p.body, p.contentType, nil
}

type fakeDiscoverer struct {
	remotes map[string]*webfinger.Remote
	cards   map[string]*webfinger.HCard
}

func (f *fakeDiscoverer) Lookup(_ context.Context, handle string) (*webfinger.Remote, error) {
	r, ok := f.remotes[handle]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func (f *fakeDiscoverer) HCard(_ context.Context, u string) (*webfinger.HCard, error) {
	c, ok := f.cards[u]
	if !ok {
		return nil, common.ErrRemoteUnreachable
	}
	return c, nil
}

type testNode struct {
	m          *repomanager.MemoryRepositoryManager
	store      *media.MemoryStore
	transport  *fakeTransport
	fetch      *fakeFetcher
	discover   *fakeDiscoverer
	guids      *GUIDs
	identity   *IdentityService
	resolver   *Resolver
	feed       *FeedService
	planner    *Planner
	publisher  *Publisher
	dispatcher *Dispatcher
	queue      *QueueService
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	l := logging.Discard()

	cfg := &config.Config{
		BaseURL:                     testBaseURL,
		SecretKey:                   "test-secret",
		RegistrationsOpen:           true,
		AccessTokenValidityDuration: time.Hour,
	}

	n := &testNode{
		m:         repomanager.NewMemoryRepositoryManager(),
		store:     media.NewMemoryStore(testBaseURL),
		transport: &fakeTransport{fails: map[string]error{}},
		fetch:     newFakeFetcher(),
		discover:  &fakeDiscoverer{remotes: map[string]*webfinger.Remote{}, cards: map[string]*webfinger.HCard{}},
		guids:     NewGUIDs(cfg.SecretKey),
	}

	n.identity = NewIdentityService(n.m, cfg, auth.NewKeyring(), n.guids, l)
	n.identity.keyBits = 1024
	n.feed = NewFeedService(n.m, n.fetch, n.store, l)

	var err error
	n.resolver, err = NewResolver(n.m, n.discover, n.fetch, n.store, n.feed, 16, l)
	require.NoError(t, err)

	n.planner = NewPlanner(n.m, n.transport, n.store, 4, l)
	n.publisher = NewPublisher(n.m, n.planner, n.resolver, n.guids, n.store, l)
	n.dispatcher = NewDispatcher(n.m, n.resolver, n.planner, n.feed, n.store, n.fetch, false, l)
	n.queue = NewQueueService(n.m, n.dispatcher, n.resolver, l)
	return n
}

// local signs up a local identity and returns it unlocked.
func (n *testNode) local(t *testing.T) *Actor {
	t.Helper()
	ctx := context.Background()
	id, err := n.identity.Signup(ctx, "pw")
	require.NoError(t, err)
	a, err := n.identity.Unlock(ctx, id.Handle, "pw")
	require.NoError(t, err)
	return a
}

// peer is a remote account known to the node.
type peer struct {
	contact *models.Contact
	key     *rsa.PrivateKey
}

func (p *peer) handle() string { return p.contact.Handle }

func (n *testNode) remote(t *testing.T, handle string) *peer {
	t.Helper()
	key := testKey(t)
	pub, err := cryptox.EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	host := handle[strings.IndexByte(handle, '@')+1:]
	c, err := n.m.Contacts(nil).Create(context.Background(), &models.Contact{
		Handle:    handle,
		GUID:      "guid-" + strings.ReplaceAll(handle, "@", "-"),
		ServerURL: "https://" + host + "/",
		PublicKey: pub,
	})
	require.NoError(t, err)
	return &peer{contact: c, key: key}
}

// envelopeTo wraps elem from p, encrypted for to (public when nil).
func (p *peer) envelopeTo(t *testing.T, elem any, to *Actor) []byte {
	t.Helper()
	payload, err := message.Encode(elem)
	require.NoError(t, err)

	var pub *rsa.PublicKey
	if to != nil {
		pub = &to.Key.PublicKey
	}
	env, err := envelope.Build(payload, envelope.Author{Handle: p.handle(), Key: p.key}, pub)
	require.NoError(t, err)
	return []byte(envelope.FormBody(env))
}

// deliver runs elem from p through the dispatcher directly.
func (n *testNode) deliver(t *testing.T, p *peer, elem any, to *Actor) Result {
	t.Helper()
	body := p.envelopeTo(t, elem, to)
	var key *rsa.PrivateKey
	if to != nil {
		key = to.Key
	}
	msg, err := envelope.Parse(context.Background(), body, key, n.resolver.PublicKey)
	require.NoError(t, err)
	return n.dispatcher.Dispatch(context.Background(), to, msg)
}

// openDelivery decodes a captured delivery with key (nil for public).
func openDelivery(t *testing.T, n *testNode, d delivery, key *rsa.PrivateKey) (*message.Payload, message.Kind, string) {
	t.Helper()
	vals, err := url.ParseQuery(d.body)
	require.NoError(t, err)
	msg, err := envelope.Parse(context.Background(), []byte(vals.Get(envelope.FormField)), key, n.resolver.PublicKey)
	require.NoError(t, err)
	payload, kind, err := message.Parse(msg.Payload)
	require.NoError(t, err)
	return payload, kind, msg.Sender
}
