package envelope

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
)

// DecodeForm accepts a raw POST body ("xml=..."), a bare URL-encoded
// envelope or envelope XML, and returns the envelope XML. Form values that
// were escaped once more before form encoding are unescaped again.
func DecodeForm(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return trimmed, nil
	}

	s := string(trimmed)
	if strings.HasPrefix(s, FormField+"=") {
		vals, err := url.ParseQuery(s)
		if err != nil {
			return nil, common.Validationf("form body: %v", err)
		}
		s = strings.TrimSpace(vals.Get(FormField))
		if strings.HasPrefix(s, "<") {
			return []byte(s), nil
		}
	}

	s, err := url.QueryUnescape(s)
	if err != nil {
		return nil, common.Validationf("url-encoded envelope: %v", err)
	}
	return []byte(strings.TrimSpace(s)), nil
}

// Parse opens an envelope. recipient is required for private envelopes and
// ignored for public ones. The signature is always checked, against the key
// returned by lookup, before the payload is decrypted.
func Parse(ctx context.Context, body []byte, recipient *rsa.PrivateKey, lookup KeyLookup) (*Message, error) {
	raw, err := DecodeForm(body)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, common.Validationf("envelope xml: %v", err)
	}
	if doc.XMLName.Space != "" && doc.XMLName.Space != NamespaceDiaspora {
		return nil, common.Validationf("unexpected envelope namespace %q", doc.XMLName.Space)
	}
	if doc.Env.Encoding != Encoding || doc.Env.Alg != Algorithm {
		return nil, common.Validationf("unsupported envelope encoding %q/%q", doc.Env.Encoding, doc.Env.Alg)
	}

	var (
		public bool
		sender string
		hdr    *decryptedHeader
	)
	switch {
	case strings.TrimSpace(doc.EncryptedHeader) != "":
		if recipient == nil {
			return nil, fmt.Errorf("%w: private envelope needs a recipient key", common.ErrDecryption)
		}
		hdr, err = openHeader(doc.EncryptedHeader, recipient)
		if err != nil {
			return nil, err
		}
		sender = hdr.AuthorID
	case doc.Header != nil:
		public = true
		sender = doc.Header.AuthorID
	default:
		return nil, common.Validationf("envelope has no header")
	}

	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, common.Validationf("envelope header has no author_id")
	}

	pub, err := lookup(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("resolve sender %s: %w", sender, err)
	}

	data := stripWhitespace(doc.Env.Data.Value)
	sig, err := decodeB64URL(stripWhitespace(doc.Env.Sig))
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", common.ErrSignatureInvalid)
	}
	if !cryptox.VerifySHA256(pub, signatureText(data), sig) {
		return nil, common.ErrSignatureInvalid
	}

	decoded, err := decodeB64URL(data)
	if err != nil {
		return nil, common.Validationf("envelope data: %v", err)
	}

	if public {
		return &Message{Payload: decoded, Sender: sender, Public: true}, nil
	}

	payload, err := openBody(decoded, hdr)
	if err != nil {
		return nil, err
	}
	return &Message{Payload: payload, Sender: sender}, nil
}

func openHeader(encoded string, recipient *rsa.PrivateKey) (*decryptedHeader, error) {
	js, err := base64.StdEncoding.DecodeString(stripWhitespace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: encrypted header encoding", common.ErrDecryption)
	}
	var eh encryptedHeader
	if err := json.Unmarshal(js, &eh); err != nil {
		return nil, fmt.Errorf("%w: encrypted header json", common.ErrDecryption)
	}

	encBundle, err := base64.StdEncoding.DecodeString(eh.AESKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key bundle encoding", common.ErrDecryption)
	}
	bundleJSON, err := cryptox.DecryptRSA(recipient, encBundle)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(bundleJSON)

	var kb keyBundle
	if err := json.Unmarshal(bundleJSON, &kb); err != nil {
		return nil, fmt.Errorf("%w: key bundle json", common.ErrDecryption)
	}
	outerKey, err1 := base64.StdEncoding.DecodeString(kb.Key)
	outerIV, err2 := base64.StdEncoding.DecodeString(kb.IV)
	headerCT, err3 := base64.StdEncoding.DecodeString(eh.Ciphertext)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, fmt.Errorf("%w: header key material encoding", common.ErrDecryption)
	}
	defer common.WipeByteArray(outerKey)

	headerXML, err := cryptox.DecryptCBC(outerKey, outerIV, headerCT)
	if err != nil {
		return nil, err
	}

	var hdr decryptedHeader
	if err := xml.Unmarshal(headerXML, &hdr); err != nil {
		return nil, fmt.Errorf("%w: decrypted header xml", common.ErrDecryption)
	}
	return &hdr, nil
}

func openBody(decoded []byte, hdr *decryptedHeader) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(stripWhitespace(string(decoded)))
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", common.ErrDecryption)
	}
	key, err1 := base64.StdEncoding.DecodeString(strings.TrimSpace(hdr.AESKey))
	iv, err2 := base64.StdEncoding.DecodeString(strings.TrimSpace(hdr.IV))
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: inner key encoding", common.ErrDecryption)
	}
	defer common.WipeByteArray(key)

	return cryptox.DecryptCBC(key, iv, ct)
}

// decodeB64URL accepts padded and unpadded base64url.
func decodeB64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
