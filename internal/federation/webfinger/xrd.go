// Package webfinger serves and consumes the discovery documents peers use
// to find each other: host-meta, the per-account XRD and the hCard.
package webfinger

import (
	"encoding/base64"
	"encoding/xml"
	"strings"
)

const (
	NamespaceXRD = "http://docs.oasis-open.org/ns/xri/xrd-1.0"

	RelLRDD         = "lrdd"
	RelHCard        = "http://microformats.org/profile/hcard"
	RelSeedLocation = "http://joindiaspora.com/seed_location"
	RelGUID         = "http://joindiaspora.com/guid"
	RelProfilePage  = "http://webfinger.net/rel/profile-page"
	RelPublicKey    = "diaspora-public-key"

	ContentTypeXRD = "application/xrd+xml"
)

// XRD is an extensible resource descriptor.
type XRD struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Subject string   `xml:"Subject,omitempty"`
	Aliases []string `xml:"Alias,omitempty"`
	Links   []Link   `xml:"Link"`
}

type Link struct {
	Rel      string `xml:"rel,attr"`
	Type     string `xml:"type,attr,omitempty"`
	Href     string `xml:"href,attr,omitempty"`
	Template string `xml:"template,attr,omitempty"`
}

// Link returns the first link with the given rel.
func (x *XRD) Link(rel string) (Link, bool) {
	for _, l := range x.Links {
		if l.Rel == rel {
			return l, true
		}
	}
	return Link{}, false
}

func (x *XRD) Marshal() ([]byte, error) {
	b, err := xml.MarshalIndent(x, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), b...), nil
}

func ParseXRD(b []byte) (*XRD, error) {
	var x XRD
	if err := xml.Unmarshal(b, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// Account is what this node publishes about a local identity.
type Account struct {
	Handle       string
	GUID         string
	BaseURL      string // with trailing slash
	PublicKeyPEM string
}

// HostMeta points peers at the webfinger template of baseURL.
func HostMeta(baseURL string) *XRD {
	return &XRD{
		Links: []Link{{
			Rel:      RelLRDD,
			Type:     ContentTypeXRD,
			Template: baseURL + "webfinger/{uri}",
		}},
	}
}

// AccountXRD is the webfinger document of a.
func AccountXRD(a Account) *XRD {
	return &XRD{
		Subject: "acct:" + a.Handle,
		Aliases: []string{a.BaseURL + "people/" + a.GUID},
		Links: []Link{
			{Rel: RelHCard, Type: "text/html", Href: a.BaseURL + "hcard/" + a.GUID},
			{Rel: RelSeedLocation, Type: "text/html", Href: a.BaseURL},
			{Rel: RelGUID, Type: "text/html", Href: a.GUID},
			{Rel: RelProfilePage, Type: "text/html", Href: a.BaseURL + "people/" + a.GUID},
			{Rel: RelPublicKey, Type: "RSA", Href: base64.StdEncoding.EncodeToString([]byte(a.PublicKeyPEM))},
		},
	}
}

// Remote is the account information read from a peer's XRD.
type Remote struct {
	Handle       string
	GUID         string
	ServerURL    string
	HCardURL     string
	PublicKeyPEM string
}

// RemoteFromXRD extracts and checks the fields needed to federate.
func RemoteFromXRD(x *XRD) (*Remote, error) {
	r := &Remote{Handle: strings.TrimPrefix(x.Subject, "acct:")}
	if l, ok := x.Link(RelGUID); ok {
		r.GUID = l.Href
	}
	if l, ok := x.Link(RelSeedLocation); ok {
		r.ServerURL = l.Href
	}
	if l, ok := x.Link(RelHCard); ok {
		r.HCardURL = l.Href
	}
	if l, ok := x.Link(RelPublicKey); ok {
		pem, err := base64.StdEncoding.DecodeString(l.Href)
		if err != nil {
			return nil, &MissingFieldError{Field: RelPublicKey}
		}
		r.PublicKeyPEM = string(pem)
	}

	switch {
	case r.Handle == "":
		return nil, &MissingFieldError{Field: "Subject"}
	case r.GUID == "":
		return nil, &MissingFieldError{Field: RelGUID}
	case r.ServerURL == "":
		return nil, &MissingFieldError{Field: RelSeedLocation}
	case r.PublicKeyPEM == "":
		return nil, &MissingFieldError{Field: RelPublicKey}
	}
	if !strings.HasSuffix(r.ServerURL, "/") {
		r.ServerURL += "/"
	}
	return r, nil
}

type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "webfinger document lacks " + e.Field
}
