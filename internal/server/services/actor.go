package services

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/envelope"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

// Actor is a local identity with its key unlocked for the current session.
type Actor struct {
	Identity *models.Identity
	Contact  *models.Contact
	Key      *rsa.PrivateKey
}

func (a *Actor) author() envelope.Author {
	return envelope.Author{Handle: a.Identity.Handle, Key: a.Key}
}

// Outcome is the three-way result of handling one inbound message.
type Outcome int

const (
	Done Outcome = iota
	Deferred
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Deferred:
		return "deferred"
	default:
		return "failed"
	}
}

type Result struct {
	Outcome Outcome
	Reason  error
	// HandOff names the local identity whose queue takes the message
	// over. Only set on Done.
	HandOff *int64
}

// handOff is returned by a handler that cannot finish without the key of
// another local identity.
type handOff struct {
	identityID int64
}

func (h *handOff) Error() string {
	return fmt.Sprintf("handed to the queue of identity %d", h.identityID)
}

// resultOf maps a handler error onto an outcome.
func resultOf(err error) Result {
	var h *handOff
	switch {
	case err == nil:
		return Result{Outcome: Done}
	case errors.As(err, &h):
		id := h.identityID
		return Result{Outcome: Done, HandOff: &id}
	case errors.Is(err, common.ErrPendingReference):
		return Result{Outcome: Deferred, Reason: err}
	default:
		return Result{Outcome: Failed, Reason: err}
	}
}
