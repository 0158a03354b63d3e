package services

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/envelope"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

// inbound is one parsed message on its way through a handler. recipient
// is nil for messages received on the public endpoint.
type inbound struct {
	recipient *Actor
	sender    *models.Contact
	public    bool
	payload   *message.Payload
}

type handler func(d *Dispatcher, ctx context.Context, in *inbound) error

// handlers maps every kind to its receive function.
var handlers = map[message.Kind]handler{
	message.KindSubscribe:           (*Dispatcher).onSubscribe,
	message.KindUnsubscribe:         (*Dispatcher).onUnsubscribe,
	message.KindProfileUpdate:       (*Dispatcher).onProfile,
	message.KindPost:                (*Dispatcher).onPost,
	message.KindPrivateMessage:      (*Dispatcher).onConversation,
	message.KindComment:             (*Dispatcher).onComment,
	message.KindPrivateMessageReply: (*Dispatcher).onConversationMessage,
	message.KindReshare:             (*Dispatcher).onReshare,
	message.KindPhoto:               (*Dispatcher).onPhoto,
	message.KindPollParticipation:   (*Dispatcher).onPollParticipation,
	message.KindAccountDeletion:     (*Dispatcher).onAccountDeletion,
	message.KindLike:                (*Dispatcher).ignore,
	message.KindRetraction:          (*Dispatcher).ignore,
	message.KindParticipation:       (*Dispatcher).onParticipation,
}

// Dispatcher applies verified inbound messages to local state.
type Dispatcher struct {
	repomanager    repomanager.RepositoryManager
	resolver       *Resolver
	planner        *Planner
	feed           *FeedService
	media          media.Store
	fetch          Fetcher
	log            logging.Logger
	insecureCompat bool
}

func NewDispatcher(m repomanager.RepositoryManager, resolver *Resolver, planner *Planner, feed *FeedService,
	store media.Store, fetch Fetcher, insecureCompat bool, l logging.Logger) *Dispatcher {
	return &Dispatcher{
		repomanager:    m,
		resolver:       resolver,
		planner:        planner,
		feed:           feed,
		media:          store,
		fetch:          fetch,
		log:            l.With("module", "dispatch"),
		insecureCompat: insecureCompat,
	}
}

// Dispatch classifies msg and runs its handler. recipient is nil for
// public receipt.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient *Actor, msg *envelope.Message) Result {
	payload, kind, err := message.Parse(msg.Payload)
	if err != nil {
		d.log.Warn(ctx, "unparseable payload", "sender", msg.Sender, "error", err)
		return Result{Outcome: Failed, Reason: err}
	}

	sender, err := d.resolver.Resolve(ctx, msg.Sender)
	if err != nil {
		return Result{Outcome: Failed, Reason: err}
	}

	in := &inbound{recipient: recipient, sender: sender, public: msg.Public, payload: payload}
	res := resultOf(handlers[kind](d, ctx, in))

	args := []any{"kind", kind, "sender", sender.Handle, "outcome", res.Outcome}
	if recipient != nil {
		args = append(args, "recipient", recipient.Identity.Handle)
	}
	switch res.Outcome {
	case Done:
		d.log.Debug(ctx, "message handled", args...)
	case Deferred:
		d.log.Info(ctx, "message deferred", append(args, "reason", res.Reason)...)
	default:
		d.log.Warn(ctx, "message failed", append(args, "error", res.Reason)...)
	}
	return res
}

func checkSender(claimed string, sender *models.Contact) error {
	if !strings.EqualFold(strings.TrimSpace(claimed), sender.Handle) {
		return common.Validationf("claimed author %q is not sender %q", claimed, sender.Handle)
	}
	return nil
}

func requireRecipient(in *inbound, what string) error {
	if in.recipient == nil {
		return common.Validationf("%s received without a recipient", what)
	}
	return nil
}

func pending(kind, guid string) error {
	return &common.PendingReferenceError{Kind: kind, GUID: guid}
}
