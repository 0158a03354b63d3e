package envelope

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
)

// Build seals payload from author. A nil recipient produces a public
// envelope. The result is the envelope XML; see FormBody for the POST body.
func Build(payload []byte, author Author, recipient *rsa.PublicKey) ([]byte, error) {
	if author.Key == nil || author.Handle == "" {
		return nil, fmt.Errorf("%w: envelope author needs handle and key", common.ErrValidation)
	}

	wrapped := WrapPayload(payload)

	var (
		header string
		data   string
		err    error
	)
	if recipient == nil {
		header = "<header><author_id>" + escape(author.Handle) + "</author_id></header>"
		data = base64.URLEncoding.EncodeToString(wrapped)
	} else {
		header, data, err = sealPrivate(wrapped, author.Handle, recipient)
		if err != nil {
			return nil, err
		}
	}

	sig, err := cryptox.SignSHA256(author.Key, signatureText(data))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<diaspora xmlns="` + NamespaceDiaspora + `" xmlns:me="` + NamespaceMagicEnv + `">` + "\n")
	b.WriteString("  " + header + "\n")
	b.WriteString("  <me:env>\n")
	b.WriteString("    <me:encoding>" + Encoding + "</me:encoding>\n")
	b.WriteString("    <me:alg>" + Algorithm + "</me:alg>\n")
	b.WriteString(`    <me:data type="` + DataType + `">` + wrapLines(data, lineWidth) + "</me:data>\n")
	b.WriteString("    <me:sig>" + base64.URLEncoding.EncodeToString(sig) + "</me:sig>\n")
	b.WriteString("  </me:env>\n")
	b.WriteString("</diaspora>\n")

	return []byte(b.String()), nil
}

// FormBody URL-encodes an envelope as the "xml" form field.
func FormBody(env []byte) string {
	return url.Values{FormField: {string(env)}}.Encode()
}

// sealPrivate encrypts the payload under a fresh inner key and the header
// under a fresh outer key, RSA-encrypting the outer key to recipient.
func sealPrivate(wrapped []byte, handle string, recipient *rsa.PublicKey) (header, data string, err error) {
	innerKey, innerIV := cryptox.NewAESKey()
	outerKey, outerIV := cryptox.NewAESKey()
	defer common.WipeByteArray(innerKey)
	defer common.WipeByteArray(outerKey)

	body, err := cryptox.EncryptCBC(innerKey, innerIV, wrapped)
	if err != nil {
		return "", "", err
	}

	headerXML := "<decrypted_header><iv>" + base64.StdEncoding.EncodeToString(innerIV) +
		"</iv><aes_key>" + base64.StdEncoding.EncodeToString(innerKey) +
		"</aes_key><author_id>" + escape(handle) + "</author_id></decrypted_header>"

	headerCT, err := cryptox.EncryptCBC(outerKey, outerIV, []byte(headerXML))
	if err != nil {
		return "", "", err
	}

	bundle, err := json.Marshal(keyBundle{
		IV:  base64.StdEncoding.EncodeToString(outerIV),
		Key: base64.StdEncoding.EncodeToString(outerKey),
	})
	if err != nil {
		return "", "", err
	}
	encBundle, err := cryptox.EncryptRSA(recipient, bundle)
	if err != nil {
		return "", "", err
	}

	hdr, err := json.Marshal(encryptedHeader{
		AESKey:     base64.StdEncoding.EncodeToString(encBundle),
		Ciphertext: base64.StdEncoding.EncodeToString(headerCT),
	})
	if err != nil {
		return "", "", err
	}

	header = "<encrypted_header>" + base64.StdEncoding.EncodeToString(hdr) + "</encrypted_header>"
	data = base64.URLEncoding.EncodeToString([]byte(base64.StdEncoding.EncodeToString(body)))
	return header, data, nil
}

// signatureText is the signed string: data and the base64 of the type,
// encoding and algorithm names, joined by dots.
func signatureText(data string) []byte {
	enc := base64.StdEncoding.EncodeToString
	return []byte(strings.Join([]string{
		stripWhitespace(data),
		enc([]byte(DataType)),
		enc([]byte(Encoding)),
		enc([]byte(Algorithm)),
	}, "."))
}
