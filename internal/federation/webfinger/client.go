package webfinger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/logging"
)

// Fetcher is the HTTP GET the client needs. *netx.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, accept string) ([]byte, string, error)
}

// Client discovers remote accounts.
type Client struct {
	fetch Fetcher
	log   logging.Logger
}

func NewClient(fetch Fetcher, log logging.Logger) *Client {
	return &Client{fetch: fetch, log: log.With("module", "webfinger")}
}

// SplitHandle splits "user@host" and rejects anything else.
func SplitHandle(handle string) (user, host string, err error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "acct:")
	user, host, ok := strings.Cut(handle, "@")
	if !ok || user == "" || host == "" || strings.ContainsAny(host, "/@ ") {
		return "", "", common.Validationf("bad handle %q", handle)
	}
	return user, strings.ToLower(host), nil
}

// HostMeta fetches host-meta over https, falling back to http.
func (c *Client) HostMeta(ctx context.Context, host string) (*XRD, error) {
	var errs []error
	for _, scheme := range []string{"https", "http"} {
		u := scheme + "://" + host + "/.well-known/host-meta"
		body, _, err := c.fetch.Get(ctx, u, ContentTypeXRD)
		if err != nil {
			c.log.Debug(ctx, "host-meta fetch failed", "url", u, "error", err)
			errs = append(errs, err)
			continue
		}
		x, err := ParseXRD(body)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		return x, nil
	}
	return nil, fmt.Errorf("%w: host-meta of %s: %v", common.ErrRemoteUnreachable, host, errors.Join(errs...))
}

// Lookup resolves a handle to its webfinger account data.
func (c *Client) Lookup(ctx context.Context, handle string) (*Remote, error) {
	user, host, err := SplitHandle(handle)
	if err != nil {
		return nil, err
	}
	handle = user + "@" + host

	meta, err := c.HostMeta(ctx, host)
	if err != nil {
		return nil, err
	}
	lrdd, ok := meta.Link(RelLRDD)
	if !ok || lrdd.Template == "" {
		return nil, common.Validationf("host-meta of %s has no lrdd template", host)
	}

	u := strings.ReplaceAll(lrdd.Template, "{uri}", url.QueryEscape("acct:"+handle))
	body, _, err := c.fetch.Get(ctx, u, ContentTypeXRD)
	if err != nil {
		return nil, err
	}
	x, err := ParseXRD(body)
	if err != nil {
		return nil, common.Validationf("webfinger of %s: %v", handle, err)
	}

	r, err := RemoteFromXRD(x)
	if err != nil {
		return nil, common.Validationf("webfinger of %s: %v", handle, err)
	}
	if !strings.EqualFold(r.Handle, handle) {
		return nil, common.Validationf("webfinger subject %q does not match %q", r.Handle, handle)
	}
	r.Handle = handle
	return r, nil
}

// HCard fetches and parses the hCard at u.
func (c *Client) HCard(ctx context.Context, u string) (*HCard, error) {
	body, _, err := c.fetch.Get(ctx, u, "text/html")
	if err != nil {
		return nil, err
	}
	return ParseHCard(bytes.NewReader(body))
}
