package webfinger

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/netx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPEM = "-----BEGIN PUBLIC KEY-----\nMFwwDQYJKoZIhvcNAQEBBQADSwAwSAJBAL\n-----END PUBLIC KEY-----\n"

func TestAccountXRD_RoundTrip(t *testing.T) {
	a := Account{Handle: "1@a.example", GUID: "guid-1", BaseURL: "https://a.example/", PublicKeyPEM: testPEM}

	b, err := AccountXRD(a).Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), `<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">`)
	assert.Contains(t, string(b), "<Subject>acct:1@a.example</Subject>")

	x, err := ParseXRD(b)
	require.NoError(t, err)
	r, err := RemoteFromXRD(x)
	require.NoError(t, err)

	assert.Equal(t, &Remote{
		Handle:       "1@a.example",
		GUID:         "guid-1",
		ServerURL:    "https://a.example/",
		HCardURL:     "https://a.example/hcard/guid-1",
		PublicKeyPEM: testPEM,
	}, r)

	l, ok := x.Link(RelProfilePage)
	require.True(t, ok)
	assert.Equal(t, "https://a.example/people/guid-1", l.Href)
}

func TestRemoteFromXRD_MissingFields(t *testing.T) {
	_, err := RemoteFromXRD(&XRD{Subject: "acct:x@y"})
	var mf *MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, RelGUID, mf.Field)
}

func TestHostMeta(t *testing.T) {
	b, err := HostMeta("https://a.example/").Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), `template="https://a.example/webfinger/{uri}"`)
	assert.Contains(t, string(b), `rel="lrdd"`)
}

func TestHCard_RenderParse(t *testing.T) {
	in := HCard{
		FullName:    "Alice <A>",
		GivenName:   "Alice",
		FamilyName:  "<A>",
		Nickname:    "alice",
		URL:         "https://a.example/",
		Searchable:  true,
		PhotoLarge:  "https://a.example/l.png",
		PhotoMedium: "https://a.example/m.png",
		PhotoSmall:  "https://a.example/s.png",
	}

	var buf bytes.Buffer
	require.NoError(t, RenderHCard(&buf, in))
	assert.Contains(t, buf.String(), "Alice &lt;A&gt;")

	out, err := ParseHCard(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
	assert.Equal(t, "https://a.example/l.png", out.Photo())
}

func TestSplitHandle(t *testing.T) {
	user, host, err := SplitHandle("acct:Bob@B.Example")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user)
	assert.Equal(t, "b.example", host)

	for _, bad := range []string{"", "bob", "@b", "bob@", "bob@b/c"} {
		_, _, err := SplitHandle(bad)
		assert.ErrorIs(t, err, common.ErrValidation, bad)
	}
}

// peer serves host-meta, webfinger and hcard the way a remote pod would.
func peer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	var base string

	mux.HandleFunc("/.well-known/host-meta", func(w http.ResponseWriter, r *http.Request) {
		b, _ := HostMeta(base).Marshal()
		_, _ = w.Write(b)
	})
	mux.HandleFunc("/webfinger/", func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimPrefix(r.URL.Path, "/webfinger/")
		if q != "acct:carol@"+hostOf(base) {
			http.NotFound(w, r)
			return
		}
		b, _ := AccountXRD(Account{Handle: "carol@" + hostOf(base), GUID: "g-carol", BaseURL: base, PublicKeyPEM: testPEM}).Marshal()
		_, _ = w.Write(b)
	})
	mux.HandleFunc("/hcard/g-carol", func(w http.ResponseWriter, r *http.Request) {
		_ = RenderHCard(w, HCard{FullName: "Carol", URL: base, PhotoSmall: base + "s.png"})
	})

	ts := httptest.NewServer(mux)
	base = ts.URL + "/"
	t.Cleanup(ts.Close)
	return ts, hostOf(base)
}

func hostOf(base string) string {
	return strings.TrimSuffix(strings.TrimPrefix(base, "http://"), "/")
}

func TestClient_LookupFallsBackToHTTP(t *testing.T) {
	_, host := peer(t)
	c := NewClient(netx.NewClient(2*time.Second), logging.Discard())

	r, err := c.Lookup(context.Background(), "carol@"+host)
	require.NoError(t, err)
	assert.Equal(t, "g-carol", r.GUID)
	assert.Equal(t, testPEM, r.PublicKeyPEM)
	assert.Equal(t, fmt.Sprintf("http://%s/", host), r.ServerURL)

	card, err := c.HCard(context.Background(), r.HCardURL)
	require.NoError(t, err)
	assert.Equal(t, "Carol", card.FullName)
	assert.Equal(t, r.ServerURL+"s.png", card.Photo())
}

func TestClient_LookupUnknown(t *testing.T) {
	_, host := peer(t)
	c := NewClient(netx.NewClient(2*time.Second), logging.Discard())

	_, err := c.Lookup(context.Background(), "nobody@"+host)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestClient_HostUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	c := NewClient(netx.NewClient(time.Second), logging.Discard())
	_, err := c.Lookup(context.Background(), "x@"+host)
	assert.ErrorIs(t, err, common.ErrRemoteUnreachable)
}
