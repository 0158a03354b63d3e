package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/webfinger"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://node.example/"

type fakeIdentities struct {
	identity *models.Identity
	contact  *models.Contact
	token    string
}

func (f *fakeIdentities) ByHandle(_ context.Context, handle string) (*models.Identity, *models.Contact, error) {
	if handle != f.identity.Handle {
		return nil, nil, common.ErrorNotFound
	}
	return f.identity, f.contact, nil
}

func (f *fakeIdentities) ByGUID(_ context.Context, guid string) (*models.Identity, *models.Contact, error) {
	if guid != f.identity.GUID {
		return nil, nil, common.ErrorNotFound
	}
	return f.identity, f.contact, nil
}

func (f *fakeIdentities) Authenticate(_ context.Context, token string) (*services.Actor, error) {
	if token != f.token {
		return nil, common.ErrInvalidToken
	}
	return &services.Actor{Identity: f.identity, Contact: f.contact}, nil
}

type fakeInbox struct {
	user    map[string][][]byte
	public  [][]byte
	failPub error
	budgets []time.Duration
	stats   services.DrainStats
}

func (f *fakeInbox) ReceiveUser(_ context.Context, guid string, body []byte) error {
	if guid != "g-alice" {
		return common.ErrorNotFound
	}
	f.user[guid] = append(f.user[guid], body)
	return nil
}

func (f *fakeInbox) ReceivePublic(_ context.Context, body []byte) error {
	f.public = append(f.public, body)
	return f.failPub
}

func (f *fakeInbox) Drain(_ context.Context, _ *services.Actor, budget time.Duration) (services.DrainStats, error) {
	f.budgets = append(f.budgets, budget)
	return f.stats, nil
}

type fakeFeeds struct{}

func (fakeFeeds) Export(_ context.Context, guid string) ([]services.FeedEntry, error) {
	if guid != "g-alice" {
		return nil, common.ErrorNotFound
	}
	return []services.FeedEntry{{
		Author:   services.FeedAuthor{DiasporaID: "1@node.example", Name: "Alice", GUID: "g-alice"},
		Text:     "hello",
		Public:   true,
		GUID:     "p-1",
		PostType: "StatusMessage",
	}}, nil
}

type fakeStats struct{}

func (fakeStats) Get(context.Context) (*services.Statistics, error) {
	return &services.Statistics{Name: "fedinode", Version: common.Version, RegistrationsOpen: true, TotalUsers: 3}, nil
}

type fixture struct {
	srv   *Server
	ids   *fakeIdentities
	inbox *fakeInbox
	store *media.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := media.NewMemoryStore(baseURL)
	require.NoError(t, store.Put(context.Background(), "avatars/g-alice", "image/png", []byte("png")))

	f := &fixture{
		ids: &fakeIdentities{
			identity: &models.Identity{ID: 1, ContactID: 1, Handle: "1@node.example", GUID: "g-alice", PublicKey: "PEM"},
			contact:  &models.Contact{ID: 1, Handle: "1@node.example", GUID: "g-alice", DisplayName: "Alice Liddell", AvatarKey: "avatars/g-alice", Local: true},
			token:    "good-token",
		},
		inbox: &fakeInbox{user: map[string][][]byte{}},
		store: store,
	}
	f.srv = NewServer(":0", Options{
		BaseURL:          baseURL,
		FirstBatchBudget: 3 * time.Second,
		BatchBudget:      10 * time.Second,
	}, f.ids, f.inbox, fakeFeeds{}, fakeStats{}, store, logging.Discard())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHostMeta(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/.well-known/host-meta", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), webfinger.ContentTypeXRD)

	x, err := webfinger.ParseXRD(rr.Body.Bytes())
	require.NoError(t, err)
	l, ok := x.Link(webfinger.RelLRDD)
	require.True(t, ok)
	assert.Equal(t, baseURL+"webfinger/{uri}", l.Template)
}

func TestWebfinger(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/webfinger/acct:1@node.example",
		"/.well-known/webfinger?resource=acct:1@node.example",
	} {
		rr := f.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, path)

		x, err := webfinger.ParseXRD(rr.Body.Bytes())
		require.NoError(t, err)
		assert.Equal(t, "acct:1@node.example", x.Subject)

		l, ok := x.Link(webfinger.RelGUID)
		require.True(t, ok)
		assert.Equal(t, "g-alice", l.Href)
		l, ok = x.Link(webfinger.RelPublicKey)
		require.True(t, ok)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PEM")), l.Href)
		l, ok = x.Link(webfinger.RelHCard)
		require.True(t, ok)
		assert.Equal(t, baseURL+"hcard/g-alice", l.Href)
	}

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/webfinger/acct:2@node.example", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/webfinger/nobody", "", nil).Code)
}

func TestHCard(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/hcard/g-alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	card, err := webfinger.ParseHCard(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", card.FullName)
	assert.Equal(t, "Alice", card.GivenName)
	assert.Equal(t, "Liddell", card.FamilyName)
	assert.Equal(t, baseURL+"media/avatars/g-alice", card.Photo())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/hcard/unknown", "", nil).Code)
}

func TestReceiveUser(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/receive/users/g-alice", "xml=payload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
	assert.Equal(t, [][]byte{[]byte("xml=payload")}, f.inbox.user["g-alice"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/receive/users/nobody", "xml=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/receive/users/g-alice", "", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/receive/users/g-alice", "", nil).Code)
}

func TestReceivePublic(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/receive/public", "xml=ok", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	f.inbox.failPub = common.Validationf("broken")
	rr = f.do(t, http.MethodPost, "/receive/public", "xml=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, f.inbox.public, 2)
}

func TestPeopleFeed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/people/g-alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "p-1", entries[0]["guid"])
	assert.Equal(t, "hello", entries[0]["text"])
	assert.Equal(t, true, entries[0]["public"])
	author := entries[0]["author"].(map[string]any)
	assert.Equal(t, "1@node.example", author["diaspora_id"])
	assert.Contains(t, entries[0], "interacted_at")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/people/nobody", "", nil).Code)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/statistics.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"name":"fedinode","version":"`+common.Version+`","registrations_open":true,"total_users":3,"local_posts":0,"local_comments":0}`,
		rr.Body.String())
}

func TestMedia(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/media/avatars/g-alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "png", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/media/avatars/none", "", nil).Code)
}

func TestQueueRun(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"Authorization": "Bearer good-token"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/queue/run", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(t, http.MethodPost, "/queue/run", "", map[string]string{"Authorization": "Bearer bad"}).Code)

	f.inbox.stats = services.DrainStats{Processed: 4, More: true}
	rr := f.do(t, http.MethodPost, "/queue/run", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":4,"more":true,"next":"/queue/run?processed=4"}`, rr.Body.String())

	f.inbox.stats = services.DrainStats{Processed: 2}
	rr = f.do(t, http.MethodPost, "/queue/run?processed=4", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":6,"more":false}`, rr.Body.String())

	assert.Equal(t, []time.Duration{3 * time.Second, 10 * time.Second}, f.inbox.budgets)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/queue/run?processed=x", "", auth).Code)
}
