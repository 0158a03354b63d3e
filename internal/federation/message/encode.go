package message

import (
	"encoding/xml"
	"fmt"
)

// Wrap places a single element in a Payload.
func Wrap(elem any) (*Payload, error) {
	p := &Payload{}
	switch e := elem.(type) {
	case *Request:
		p.Request = e
	case *Retraction:
		p.Retraction = e
	case *RelayableRetraction:
		p.RelayableRetraction = e
	case *SignedRetraction:
		p.SignedRetraction = e
	case *Profile:
		p.Profile = e
	case *StatusMessage:
		p.StatusMessage = e
	case *Conversation:
		p.Conversation = e
	case *ConversationMessage:
		p.Message = e
	case *Comment:
		p.Comment = e
	case *Reshare:
		p.Reshare = e
	case *Photo:
		p.Photo = e
	case *PollParticipation:
		p.PollParticipation = e
	case *AccountDeletion:
		p.AccountDeletion = e
	case *Like:
		p.Like = e
	case *Participation:
		p.Participation = e
	default:
		return nil, fmt.Errorf("message: cannot encode %T", elem)
	}
	return p, nil
}

// Encode renders elem as a complete <XML><post>..</post></XML> payload.
func Encode(elem any) ([]byte, error) {
	p, err := Wrap(elem)
	if err != nil {
		return nil, err
	}
	return xml.Marshal(p)
}
