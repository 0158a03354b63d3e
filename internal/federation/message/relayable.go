package message

import (
	"crypto/rsa"
	"encoding/base64"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/cryptox"
)

// Relayable is a reply that can be forwarded by the thread owner. Its
// author signs the field values; the owner of the thread root countersigns
// them before relaying.
type Relayable interface {
	// SignedText is the ";"-joined field values the signatures cover.
	SignedText() string
	Author() string
	Parent() string
	Signatures() (author, parent *string)
}

func (c *Comment) SignedText() string {
	return strings.Join([]string{c.GUID, c.ParentGUID, c.Text, c.DiasporaHandle}, ";")
}
func (c *Comment) Author() string { return c.DiasporaHandle }
func (c *Comment) Parent() string { return c.ParentGUID }
func (c *Comment) Signatures() (*string, *string) {
	return &c.AuthorSignature, &c.ParentAuthorSignature
}

func (m *ConversationMessage) SignedText() string {
	return strings.Join([]string{m.GUID, m.ParentGUID, m.Text, m.CreatedAt, m.DiasporaHandle, m.ConversationGUID}, ";")
}
func (m *ConversationMessage) Author() string { return m.DiasporaHandle }
func (m *ConversationMessage) Parent() string { return m.ParentGUID }
func (m *ConversationMessage) Signatures() (*string, *string) {
	return &m.AuthorSignature, &m.ParentAuthorSignature
}

func (p *PollParticipation) SignedText() string {
	return strings.Join([]string{p.GUID, p.ParentGUID, p.DiasporaHandle, p.PollAnswerGUID}, ";")
}
func (p *PollParticipation) Author() string { return p.DiasporaHandle }
func (p *PollParticipation) Parent() string { return p.ParentGUID }
func (p *PollParticipation) Signatures() (*string, *string) {
	return &p.AuthorSignature, &p.ParentAuthorSignature
}

// SignAuthor sets the author signature.
func SignAuthor(r Relayable, key *rsa.PrivateKey) error {
	sig, err := sign(r.SignedText(), key)
	if err != nil {
		return err
	}
	a, _ := r.Signatures()
	*a = sig
	return nil
}

// SignParent sets the parent author (thread owner) signature.
func SignParent(r Relayable, key *rsa.PrivateKey) error {
	sig, err := sign(r.SignedText(), key)
	if err != nil {
		return err
	}
	_, p := r.Signatures()
	*p = sig
	return nil
}

// VerifyAuthor checks the author signature against pub.
func VerifyAuthor(r Relayable, pub *rsa.PublicKey) bool {
	a, _ := r.Signatures()
	return verify(r.SignedText(), *a, pub)
}

// VerifyParent checks the parent author signature against pub.
func VerifyParent(r Relayable, pub *rsa.PublicKey) bool {
	_, p := r.Signatures()
	return verify(r.SignedText(), *p, pub)
}

func sign(text string, key *rsa.PrivateKey) (string, error) {
	sig, err := cryptox.SignSHA256(key, []byte(text))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func verify(text, sig string, pub *rsa.PublicKey) bool {
	if sig == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	return cryptox.VerifySHA256(pub, []byte(text), raw)
}
