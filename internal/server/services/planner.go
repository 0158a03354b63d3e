package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/dmitrijs2005/fedinode/internal/federation/envelope"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"
)

// Transport posts a form body. *netx.Client satisfies it.
type Transport interface {
	PostForm(ctx context.Context, url string, body string) error
}

// target is one physical delivery. A nil key means a public envelope.
type target struct {
	url    string
	key    *rsa.PublicKey
	handle string
}

// Planner decides who receives a local event and delivers it.
type Planner struct {
	repomanager repomanager.RepositoryManager
	transport   Transport
	media       media.Store
	log         logging.Logger
	concurrency int
}

func NewPlanner(m repomanager.RepositoryManager, t Transport, store media.Store, concurrency int, l logging.Logger) *Planner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Planner{
		repomanager: m,
		transport:   t,
		media:       store,
		log:         l.With("module", "planner"),
		concurrency: concurrency,
	}
}

// Class returns the thread root of p and its visibility. Replies always
// follow their root.
func (p *Planner) Class(ctx context.Context, post *models.Post) (*models.Post, models.Visibility, error) {
	root, err := threadRoot(ctx, p.repomanager, p.repomanager.Conn(), post)
	if err != nil {
		return nil, models.VisibilityUnset, err
	}
	if root.Visibility == models.VisibilityUnset {
		return nil, models.VisibilityUnset, common.Validationf("thread %d has no visibility", root.ID)
	}
	return root, root.Visibility, nil
}

// Recipients lists the remote contacts a thread goes to: followers of the
// author for public threads, existing shares otherwise.
func (p *Planner) Recipients(ctx context.Context, authorID int64, root *models.Post, class models.Visibility) ([]*models.Contact, error) {
	conn := p.repomanager.Conn()

	var all []*models.Contact
	if class == models.VisibilityPublic {
		followers, err := p.repomanager.Follows(conn).Followers(ctx, authorID)
		if err != nil {
			return nil, err
		}
		all = followers
	} else {
		shares, err := p.repomanager.Posts(conn).Shares(ctx, root.ID)
		if err != nil {
			return nil, err
		}
		for _, sh := range shares {
			c, err := p.repomanager.Contacts(conn).GetByID(ctx, sh.ContactID)
			if err != nil {
				return nil, err
			}
			all = append(all, c)
		}
	}

	out := all[:0]
	for _, c := range all {
		if c.Local || c.ID == authorID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// withContact appends c to list unless it is local or already there.
func withContact(list []*models.Contact, c *models.Contact) []*models.Contact {
	if c.Local {
		return list
	}
	for _, x := range list {
		if x.ID == c.ID {
			return list
		}
	}
	return append(list, c)
}

// targets turns contacts into deliveries. Public deliveries collapse to
// one per server.
func targets(contacts []*models.Contact, public bool) ([]target, error) {
	var out []target
	seen := map[string]bool{}
	for _, c := range contacts {
		if c.Local {
			continue
		}
		if public {
			if seen[c.ServerURL] {
				continue
			}
			seen[c.ServerURL] = true
			out = append(out, target{url: c.ServerURL + "receive/public", handle: c.Handle})
			continue
		}
		key, err := cryptox.ParsePublicKeyPEM(c.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("contact %s: %w", c.Handle, err)
		}
		out = append(out, target{url: c.ServerURL + "receive/users/" + c.GUID, key: key, handle: c.Handle})
	}
	return out, nil
}

// send delivers payloads in order to each target; targets run in
// parallel. Every failure is reported.
func (p *Planner) send(ctx context.Context, author envelope.Author, payloads [][]byte, ts []target) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, t := range ts {
		g.Go(func() error {
			for _, payload := range payloads {
				env, err := envelope.Build(payload, author, t.key)
				if err == nil {
					err = p.transport.PostForm(ctx, t.url, envelope.FormBody(env))
				}
				if err != nil {
					p.log.Error(ctx, "delivery failed", "target", t.url, "error", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("deliver to %s: %w", t.url, err))
					mu.Unlock()
					return nil
				}
			}
			p.log.Debug(ctx, "delivered", "target", t.url, "payloads", len(payloads))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DeliverPost federates a local post or reply to its thread's audience.
func (p *Planner) DeliverPost(ctx context.Context, actor *Actor, post *models.Post) error {
	root, class, err := p.Class(ctx, post)
	if err != nil {
		return err
	}

	payloads, err := p.payloadsFor(ctx, actor, post, root, class)
	if err != nil {
		return err
	}

	recipients, err := p.Recipients(ctx, actor.Contact.ID, root, class)
	if err != nil {
		return err
	}
	// A remote thread owner relays replies, so it always gets them even
	// when it does not follow the replier.
	if post.ParentID != nil && root.AuthorID != actor.Contact.ID {
		owner, err := p.repomanager.Contacts(p.repomanager.Conn()).GetByID(ctx, root.AuthorID)
		if err != nil {
			return err
		}
		recipients = withContact(recipients, owner)
	}
	ts, err := targets(recipients, class == models.VisibilityPublic)
	if err != nil {
		return err
	}
	return p.send(ctx, actor.author(), payloads, ts)
}

// DeliverTo sends one element privately to each contact.
func (p *Planner) DeliverTo(ctx context.Context, actor *Actor, elem any, contacts ...*models.Contact) error {
	payload, err := message.Encode(elem)
	if err != nil {
		return err
	}
	ts, err := targets(contacts, false)
	if err != nil {
		return err
	}
	return p.send(ctx, actor.author(), [][]byte{payload}, ts)
}

// DeliverPublic sends one element publicly to the servers of contacts.
func (p *Planner) DeliverPublic(ctx context.Context, actor *Actor, elem any, contacts ...*models.Contact) error {
	payload, err := message.Encode(elem)
	if err != nil {
		return err
	}
	ts, err := targets(contacts, true)
	if err != nil {
		return err
	}
	return p.send(ctx, actor.author(), [][]byte{payload}, ts)
}

// Relay forwards a reply received from elsewhere to the rest of the
// thread's audience. exclude lists contacts that already have it.
func (p *Planner) Relay(ctx context.Context, owner *Actor, elem any, root *models.Post, replyAuthor *models.Contact, exclude ...int64) error {
	class := root.Visibility
	recipients, err := p.Recipients(ctx, owner.Contact.ID, root, class)
	if err != nil {
		return err
	}
	if class == models.VisibilityPublic {
		more, err := p.repomanager.Follows(p.repomanager.Conn()).Followers(ctx, replyAuthor.ID)
		if err != nil {
			return err
		}
		recipients = append(recipients, more...)
	}

	skip := map[int64]bool{owner.Contact.ID: true, replyAuthor.ID: true}
	for _, id := range exclude {
		skip[id] = true
	}
	seen := map[int64]bool{}
	var list []*models.Contact
	for _, c := range recipients {
		if skip[c.ID] || seen[c.ID] || c.Local {
			continue
		}
		seen[c.ID] = true
		list = append(list, c)
	}
	if len(list) == 0 {
		return nil
	}

	payload, err := message.Encode(elem)
	if err != nil {
		return err
	}
	ts, err := targets(list, class == models.VisibilityPublic)
	if err != nil {
		return err
	}
	// Replies to our own public server would loop back.
	ts = dropServer(ts, replyAuthor.ServerURL, class == models.VisibilityPublic)
	return p.send(ctx, owner.author(), [][]byte{payload}, ts)
}

func dropServer(ts []target, server string, public bool) []target {
	if !public {
		return ts
	}
	out := ts[:0]
	for _, t := range ts {
		if !strings.HasPrefix(t.url, server) {
			out = append(out, t)
		}
	}
	return out
}

// payloadsFor builds the wire elements for post. The kind follows the
// thread class, not anything the caller asked for.
func (p *Planner) payloadsFor(ctx context.Context, actor *Actor, post, root *models.Post, class models.Visibility) ([][]byte, error) {
	conn := p.repomanager.Conn()
	repo := p.repomanager.Posts(conn)

	parts, err := repo.Parts(ctx, post.ID)
	if err != nil {
		return nil, err
	}

	var elems []any
	switch {
	case post.ParentID == nil && class == models.VisibilityPrivate:
		conv, err := p.conversation(ctx, actor, post, parts)
		if err != nil {
			return nil, err
		}
		elems = append(elems, conv)

	case post.ParentID == nil:
		sm := &message.StatusMessage{
			RawMessage:     bodyText(parts),
			GUID:           post.GUID,
			DiasporaHandle: actor.Identity.Handle,
			Public:         class == models.VisibilityPublic,
			CreatedAt:      message.FormatTime(post.CreatedAt),
			Poll:           pollOf(parts),
		}
		elems = append(elems, sm)
		for _, part := range parts {
			if part.Type != models.PartImage {
				continue
			}
			ph, err := p.photo(ctx, actor, post, part, class)
			if err != nil {
				return nil, err
			}
			elems = append(elems, ph)
		}

	default:
		parent, err := repo.GetByID(ctx, *post.ParentID)
		if err != nil {
			return nil, err
		}
		r := replyElement(actor, post, parent, root, parts, class)
		if err := message.SignAuthor(r, actor.Key); err != nil {
			return nil, err
		}
		if root.AuthorID == actor.Contact.ID {
			if err := message.SignParent(r, actor.Key); err != nil {
				return nil, err
			}
		}
		elems = append(elems, r)
	}

	out := make([][]byte, 0, len(elems))
	for _, e := range elems {
		b, err := message.Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func replyElement(actor *Actor, post, parent, root *models.Post, parts []*models.Part, class models.Visibility) message.Relayable {
	if class == models.VisibilityPrivate {
		return &message.ConversationMessage{
			GUID:             post.GUID,
			ParentGUID:       root.GUID,
			Text:             bodyText(parts),
			CreatedAt:        message.FormatTime(post.CreatedAt),
			DiasporaHandle:   actor.Identity.Handle,
			ConversationGUID: root.GUID,
		}
	}
	return &message.Comment{
		GUID:           post.GUID,
		ParentGUID:     parent.GUID,
		Text:           bodyText(parts),
		DiasporaHandle: actor.Identity.Handle,
	}
}

func pollOf(parts []*models.Part) *message.Poll {
	var poll *message.Poll
	for _, part := range parts {
		switch part.Type {
		case models.PartPollQuestion:
			poll = &message.Poll{GUID: part.GUID, Question: string(part.Body)}
		case models.PartPollAnswer:
			if poll != nil {
				poll.Answers = append(poll.Answers, message.PollAnswer{GUID: part.GUID, Answer: string(part.Body)})
			}
		}
	}
	return poll
}

func (p *Planner) photo(ctx context.Context, actor *Actor, post *models.Post, part *models.Part, class models.Visibility) (*message.Photo, error) {
	u := string(part.Body)
	if part.MediaKey != "" {
		var err error
		u, err = p.media.URL(ctx, part.MediaKey)
		if err != nil {
			return nil, err
		}
	}
	path, name := u, ""
	if i := strings.LastIndex(u, "/"); i >= 0 {
		path, name = u[:i+1], u[i+1:]
	}
	return &message.Photo{
		GUID:              part.GUID,
		DiasporaHandle:    actor.Identity.Handle,
		Public:            class == models.VisibilityPublic,
		CreatedAt:         message.FormatTime(post.CreatedAt),
		RemotePhotoPath:   path,
		RemotePhotoName:   name,
		Text:              part.TextPreview,
		StatusMessageGUID: post.GUID,
	}, nil
}

// conversation builds a PrivateMessage element with every message of the
// thread, each signed by the actor.
func (p *Planner) conversation(ctx context.Context, actor *Actor, root *models.Post, parts []*models.Part) (*message.Conversation, error) {
	conn := p.repomanager.Conn()

	handles := []string{actor.Identity.Handle}
	shares, err := p.repomanager.Posts(conn).Shares(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	for _, sh := range shares {
		if sh.ContactID == actor.Contact.ID {
			continue
		}
		c, err := p.repomanager.Contacts(conn).GetByID(ctx, sh.ContactID)
		if err != nil {
			return nil, err
		}
		handles = append(handles, c.Handle)
	}

	conv := &message.Conversation{
		GUID:               root.GUID,
		Subject:            bodyText(parts),
		CreatedAt:          message.FormatTime(root.CreatedAt),
		DiasporaHandle:     actor.Identity.Handle,
		ParticipantHandles: strings.Join(handles, ";"),
	}

	replies, err := p.repomanager.Posts(conn).Replies(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		if r.AuthorID != actor.Contact.ID {
			continue
		}
		rparts, err := p.repomanager.Posts(conn).Parts(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		m := message.ConversationMessage{
			GUID:             r.GUID,
			ParentGUID:       root.GUID,
			Text:             bodyText(rparts),
			CreatedAt:        message.FormatTime(r.CreatedAt),
			DiasporaHandle:   actor.Identity.Handle,
			ConversationGUID: root.GUID,
		}
		if err := message.SignAuthor(&m, actor.Key); err != nil {
			return nil, err
		}
		if err := message.SignParent(&m, actor.Key); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, nil
}
