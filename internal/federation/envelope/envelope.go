// Package envelope builds and parses Diaspora "magic envelopes": the signed,
// optionally encrypted container that carries one federation payload
// between servers.
//
// A private envelope is encrypt-then-sign: the payload is encrypted with a
// random inner AES key, the inner key travels in a header encrypted with a
// random outer AES key, and the outer key is RSA-encrypted to the recipient.
// A public envelope carries the author handle in clear and the payload
// base64-encoded. Both are signed by the author over the data element.
package envelope

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/xml"
	"strings"
)

const (
	NamespaceDiaspora = "https://joindiaspora.com/protocol"
	NamespaceMagicEnv = "http://salmon-protocol.org/ns/magic-env"

	DataType  = "application/xml"
	Encoding  = "base64url"
	Algorithm = "RSA-SHA256"

	// FormField is the form field carrying the envelope in POST bodies.
	FormField = "xml"

	lineWidth = 60
)

// Author is the signing side of an envelope.
type Author struct {
	Handle string
	Key    *rsa.PrivateKey
}

// KeyLookup resolves a sender handle to its public key, importing the
// contact on a cache miss.
type KeyLookup func(ctx context.Context, handle string) (*rsa.PublicKey, error)

// Message is the result of Parse.
type Message struct {
	// Payload is the wrapped <XML><post>..</post></XML> document.
	Payload []byte
	// Sender is the verified author handle.
	Sender string
	Public bool
}

// WrapPayload puts elem inside <XML><post>..</post></XML> unless it is
// already a complete payload document.
func WrapPayload(elem []byte) []byte {
	trimmed := bytes.TrimSpace(elem)
	if bytes.HasPrefix(trimmed, []byte("<XML")) || bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return trimmed
	}

	var b bytes.Buffer
	b.Grow(len(trimmed) + 26)
	b.WriteString("<XML><post>")
	b.Write(trimmed)
	b.WriteString("</post></XML>")
	return b.Bytes()
}

type document struct {
	XMLName         xml.Name      `xml:"diaspora"`
	EncryptedHeader string        `xml:"encrypted_header"`
	Header          *publicHeader `xml:"header"`
	Env             magicEnv      `xml:"http://salmon-protocol.org/ns/magic-env env"`
}

type publicHeader struct {
	AuthorID string `xml:"author_id"`
}

type magicEnv struct {
	Encoding string `xml:"encoding"`
	Alg      string `xml:"alg"`
	Data     struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"data"`
	Sig string `xml:"sig"`
}

// decryptedHeader is the plaintext of the private header ciphertext.
type decryptedHeader struct {
	XMLName  xml.Name `xml:"decrypted_header"`
	IV       string   `xml:"iv"`
	AESKey   string   `xml:"aes_key"`
	AuthorID string   `xml:"author_id"`
}

// encryptedHeader is the JSON carried (base64) in <encrypted_header>.
type encryptedHeader struct {
	AESKey     string `json:"aes_key"`
	Ciphertext string `json:"ciphertext"`
}

// keyBundle is the RSA-encrypted JSON with the outer key.
type keyBundle struct {
	IV  string `json:"iv"`
	Key string `json:"key"`
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func wrapLines(s string, width int) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/width + 1)
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
