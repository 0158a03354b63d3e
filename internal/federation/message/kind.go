// Package message is the catalogue of federation payloads: the element
// types carried inside <XML><post>..</post></XML>, the ordered structural
// rules that classify a payload into a Kind, encoding of outbound elements
// and the relayable author/parent signatures.
package message

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindSubscribe
	KindUnsubscribe
	KindProfileUpdate
	KindPost
	KindPrivateMessage
	KindComment
	KindPrivateMessageReply
	KindReshare
	KindPhoto
	KindPollParticipation
	KindAccountDeletion
	KindLike
	KindRetraction
	KindParticipation
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindSubscribe:           "subscribe",
	KindUnsubscribe:         "unsubscribe",
	KindProfileUpdate:       "profile_update",
	KindPost:                "post",
	KindPrivateMessage:      "private_message",
	KindComment:             "comment",
	KindPrivateMessageReply: "private_message_reply",
	KindReshare:             "reshare",
	KindPhoto:               "photo",
	KindPollParticipation:   "poll_participation",
	KindAccountDeletion:     "account_deletion",
	KindLike:                "like",
	KindRetraction:          "retraction",
	KindParticipation:       "participation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Payload is a parsed <XML><post>..</post></XML> document. Exactly one
// element pointer is expected to be set.
type Payload struct {
	XMLName xml.Name `xml:"XML"`

	Request             *Request             `xml:"post>request"`
	Retraction          *Retraction          `xml:"post>retraction"`
	RelayableRetraction *RelayableRetraction `xml:"post>relayable_retraction"`
	SignedRetraction    *SignedRetraction    `xml:"post>signed_retraction"`
	Profile             *Profile             `xml:"post>profile"`
	StatusMessage       *StatusMessage       `xml:"post>status_message"`
	Conversation        *Conversation        `xml:"post>conversation"`
	Message             *ConversationMessage `xml:"post>message"`
	Comment             *Comment             `xml:"post>comment"`
	Reshare             *Reshare             `xml:"post>reshare"`
	Photo               *Photo               `xml:"post>photo"`
	PollParticipation   *PollParticipation   `xml:"post>poll_participation"`
	AccountDeletion     *AccountDeletion     `xml:"post>account_deletion"`
	Like                *Like                `xml:"post>like"`
	Participation       *Participation       `xml:"post>participation"`
}

type rule struct {
	kind  Kind
	match func(p *Payload) bool
}

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{KindSubscribe, func(p *Payload) bool { return p.Request != nil }},
	{KindUnsubscribe, func(p *Payload) bool { return p.Retraction != nil && p.Retraction.Type == "Person" }},
	{KindProfileUpdate, func(p *Payload) bool { return p.Profile != nil }},
	{KindPost, func(p *Payload) bool { return p.StatusMessage != nil }},
	{KindPrivateMessage, func(p *Payload) bool { return p.Conversation != nil }},
	{KindComment, func(p *Payload) bool { return p.Comment != nil }},
	{KindPrivateMessageReply, func(p *Payload) bool { return p.Message != nil }},
	{KindReshare, func(p *Payload) bool { return p.Reshare != nil }},
	{KindPhoto, func(p *Payload) bool { return p.Photo != nil }},
	{KindPollParticipation, func(p *Payload) bool { return p.PollParticipation != nil }},
	{KindAccountDeletion, func(p *Payload) bool { return p.AccountDeletion != nil }},
	{KindLike, func(p *Payload) bool { return p.Like != nil }},
	{KindRetraction, func(p *Payload) bool {
		return p.Retraction != nil || p.RelayableRetraction != nil || p.SignedRetraction != nil
	}},
	{KindParticipation, func(p *Payload) bool { return p.Participation != nil }},
}

// Classify returns the kind of the first rule p matches.
func Classify(p *Payload) (Kind, error) {
	for _, r := range rules {
		if r.match(p) {
			return r.kind, nil
		}
	}
	return KindUnknown, common.ErrUnknownMessageKind
}

// Parse decodes and classifies a wrapped payload.
func Parse(raw []byte) (*Payload, Kind, error) {
	var p Payload
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return nil, KindUnknown, common.Validationf("payload xml: %v", err)
	}

	kind, err := Classify(&p)
	if err != nil {
		return nil, KindUnknown, fmt.Errorf("%w: %s", err, rootElement(raw))
	}
	return &p, kind, nil
}

// rootElement names the first element inside <post>, for error messages.
func rootElement(raw []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "?"
		}
		if se, ok := tok.(xml.StartElement); ok {
			depth++
			if depth == 3 {
				return se.Name.Local
			}
		}
	}
}
