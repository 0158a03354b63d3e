package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/cryptox"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
)

func (d *Dispatcher) onSubscribe(ctx context.Context, in *inbound) error {
	r := in.payload.Request
	if err := checkSender(r.SenderHandle, in.sender); err != nil {
		return err
	}
	if err := requireRecipient(in, "subscription"); err != nil {
		return err
	}
	if !strings.EqualFold(r.RecipientHandle, in.recipient.Identity.Handle) {
		return common.Validationf("subscription for %q delivered to %q", r.RecipientHandle, in.recipient.Identity.Handle)
	}

	created, err := d.repomanager.Follows(d.repomanager.Conn()).Add(ctx, in.sender.ID, in.recipient.Contact.ID)
	if err != nil {
		return err
	}
	if created {
		d.log.Info(ctx, "new follower", "follower", in.sender.Handle, "followed", in.recipient.Identity.Handle)
	}
	return nil
}

func (d *Dispatcher) onUnsubscribe(ctx context.Context, in *inbound) error {
	r := in.payload.Retraction
	if err := checkSender(r.DiasporaHandle, in.sender); err != nil {
		return err
	}
	if r.PostGUID != in.sender.GUID {
		return common.Validationf("unsubscribe names guid %q, sender is %q", r.PostGUID, in.sender.GUID)
	}
	if err := requireRecipient(in, "unsubscribe"); err != nil {
		return err
	}
	return d.repomanager.Follows(d.repomanager.Conn()).Remove(ctx, in.sender.ID, in.recipient.Contact.ID)
}

func (d *Dispatcher) onProfile(ctx context.Context, in *inbound) error {
	p := in.payload.Profile
	if err := checkSender(p.DiasporaHandle, in.sender); err != nil {
		return err
	}

	c := *in.sender
	c.DisplayName = p.DisplayName()
	c.Bio = p.Bio
	c.Tags = message.Tags(p.TagString)

	if src := firstNonEmpty(p.ImageURL, p.ImageURLMedium, p.ImageURLSmall); src != "" {
		key, err := d.resolver.ImportAvatar(ctx, &c, src)
		if err != nil {
			d.log.Warn(ctx, "avatar import failed", "handle", c.Handle, "error", err)
		} else {
			c.AvatarKey = key
		}
	}

	if err := d.repomanager.Contacts(d.repomanager.Conn()).Update(ctx, &c); err != nil {
		return err
	}
	d.resolver.Invalidate(c.Handle)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// shareWith records a share unless it already exists.
func (d *Dispatcher) shareWith(ctx context.Context, tx dbx.DBTX, postID int64, c *models.Contact, public bool) error {
	_, err := d.repomanager.Posts(tx).Share(ctx, &models.Share{PostID: postID, ContactID: c.ID, Public: public})
	return err
}

func (d *Dispatcher) onPost(ctx context.Context, in *inbound) error {
	sm := in.payload.StatusMessage
	if err := checkSender(sm.DiasporaHandle, in.sender); err != nil {
		return err
	}
	if sm.GUID == "" {
		return common.Validationf("post without guid")
	}
	if !sm.Public && in.recipient == nil {
		return common.Validationf("non-public post %s received publicly", sm.GUID)
	}

	if p, ok, err := knownGUID(ctx, d.repomanager, sm.GUID); err != nil {
		return err
	} else if ok {
		if p.AuthorID != in.sender.ID {
			return common.Validationf("post %s belongs to someone else", sm.GUID)
		}
		if in.recipient == nil {
			return nil
		}
		return d.shareWith(ctx, d.repomanager.Conn(), p.ID, in.recipient.Contact, false)
	}

	parts := []*models.Part{textPart(sm.RawMessage)}
	if sm.Poll != nil {
		parts = append(parts, &models.Part{Type: models.PartPollQuestion, GUID: sm.Poll.GUID, Body: []byte(sm.Poll.Question)})
		for _, a := range sm.Poll.Answers {
			parts = append(parts, &models.Part{Type: models.PartPollAnswer, GUID: a.GUID, Body: []byte(a.Answer)})
		}
	}

	class := models.VisibilityLimited
	if sm.Public {
		class = models.VisibilityPublic
	}
	shares := []*models.Share{{ContactID: in.sender.ID, Public: sm.Public}}
	if in.recipient != nil {
		shares = append(shares, &models.Share{ContactID: in.recipient.Contact.ID})
	}

	err := d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := insertPost(ctx, d.repomanager, tx,
			&models.Post{AuthorID: in.sender.ID, GUID: sm.GUID, Visibility: class}, parts, shares...)
		return err
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (d *Dispatcher) onConversation(ctx context.Context, in *inbound) error {
	conv := in.payload.Conversation
	if err := checkSender(conv.DiasporaHandle, in.sender); err != nil {
		return err
	}
	if err := requireRecipient(in, "private message"); err != nil {
		return err
	}
	if conv.GUID == "" {
		return common.Validationf("conversation without guid")
	}

	var participants []*models.Contact
	found := false
	for _, h := range strings.Split(conv.ParticipantHandles, ";") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if strings.EqualFold(h, in.recipient.Identity.Handle) {
			found = true
			continue
		}
		c, err := d.resolver.Resolve(ctx, h)
		if err != nil {
			return fmt.Errorf("participant %s: %w", h, err)
		}
		participants = append(participants, c)
	}
	if !found {
		return common.Validationf("conversation %s does not include %s", conv.GUID, in.recipient.Identity.Handle)
	}

	authors := make([]*models.Contact, len(conv.Messages))
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if m.ParentGUID != conv.GUID {
			return common.Validationf("message %s is not part of conversation %s", m.GUID, conv.GUID)
		}
		author, err := d.resolver.Resolve(ctx, m.DiasporaHandle)
		if err != nil {
			return err
		}
		if err := d.verifyRelayable(ctx, m, author, in.sender); err != nil {
			return err
		}
		authors[i] = author
	}

	root, known, err := knownGUID(ctx, d.repomanager, conv.GUID)
	if err != nil {
		return err
	}

	err = d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if !known {
			shares := []*models.Share{{ContactID: in.sender.ID}, {ContactID: in.recipient.Contact.ID}}
			for _, c := range participants {
				if c.ID != in.sender.ID {
					shares = append(shares, &models.Share{ContactID: c.ID})
				}
			}
			root, err = insertPost(ctx, d.repomanager, tx,
				&models.Post{AuthorID: in.sender.ID, GUID: conv.GUID, Visibility: models.VisibilityPrivate},
				[]*models.Part{textPart(conv.Subject)}, shares...)
			if err != nil {
				return err
			}
		} else {
			if root.AuthorID != in.sender.ID {
				return common.Validationf("conversation %s belongs to someone else", conv.GUID)
			}
			if err := d.shareWith(ctx, tx, root.ID, in.recipient.Contact, false); err != nil {
				return err
			}
		}

		for i := range conv.Messages {
			m := &conv.Messages[i]
			if _, err := d.repomanager.Posts(tx).GetByGUID(ctx, m.GUID); err == nil {
				continue
			}
			if _, err := d.insertReply(ctx, tx, root, root, authors[i], m.GUID, m.Text, in.recipient); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	return err
}

// insertReply stores a reply by author under parent and bumps the thread.
func (d *Dispatcher) insertReply(ctx context.Context, tx dbx.DBTX, parent, root *models.Post, author *models.Contact,
	guid, text string, recipient *Actor) (*models.Post, error) {
	parentID := parent.ID
	shares := []*models.Share{{ContactID: author.ID}}
	if recipient != nil && recipient.Contact.ID != author.ID {
		shares = append(shares, &models.Share{ContactID: recipient.Contact.ID})
	}
	reply, err := insertPost(ctx, d.repomanager, tx,
		&models.Post{AuthorID: author.ID, ParentID: &parentID, GUID: guid},
		[]*models.Part{textPart(text)}, shares...)
	if err != nil {
		return nil, err
	}
	if err := d.repomanager.Posts(tx).TouchThread(ctx, root.ID, reply.CreatedAt); err != nil {
		return nil, err
	}
	return reply, nil
}

// verifyRelayable checks the author signature and, when the message was
// relayed by someone else, the thread owner's signature. sender must then
// be the thread owner.
func (d *Dispatcher) verifyRelayable(ctx context.Context, r message.Relayable, author, sender *models.Contact) error {
	authorKey, err := cryptox.ParsePublicKeyPEM(author.PublicKey)
	if err != nil {
		return err
	}
	if !message.VerifyAuthor(r, authorKey) {
		if !d.insecureCompat {
			return fmt.Errorf("author signature of %s: %w", author.Handle, common.ErrSignatureInvalid)
		}
		d.log.Warn(ctx, "accepting bad author signature in compat mode", "author", author.Handle)
	}

	if sender.ID == author.ID {
		return nil
	}
	senderKey, err := cryptox.ParsePublicKeyPEM(sender.PublicKey)
	if err != nil {
		return err
	}
	if !message.VerifyParent(r, senderKey) {
		if !d.insecureCompat {
			return fmt.Errorf("parent author signature of %s: %w", sender.Handle, common.ErrSignatureInvalid)
		}
		d.log.Warn(ctx, "accepting bad parent signature in compat mode", "sender", sender.Handle)
	}
	return nil
}

// replyContext is what a reply handler learns before storing anything.
type replyContext struct {
	parent *models.Post
	root   *models.Post
	author *models.Contact
}

// prepareReply resolves the parent, checks visibility consistency and
// verifies signatures. ok is false when the reply is already stored.
func (d *Dispatcher) prepareReply(ctx context.Context, in *inbound, r message.Relayable, guid string,
	private bool) (*replyContext, bool, error) {
	if guid == "" {
		return nil, false, common.Validationf("reply without guid")
	}
	if _, ok, err := knownGUID(ctx, d.repomanager, guid); err != nil || ok {
		return nil, false, err
	}

	parent, ok, err := knownGUID(ctx, d.repomanager, r.Parent())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, pending("parent", r.Parent())
	}
	root, err := threadRoot(ctx, d.repomanager, d.repomanager.Conn(), parent)
	if err != nil {
		return nil, false, err
	}

	switch {
	case private && root.Visibility != models.VisibilityPrivate:
		return nil, false, common.Validationf("private reply to %s thread %s", root.Visibility, root.GUID)
	case !private && root.Visibility == models.VisibilityPrivate:
		return nil, false, common.Validationf("comment on private thread %s", root.GUID)
	}

	if root.Visibility != models.VisibilityPublic {
		if in.recipient == nil {
			return nil, false, common.Validationf("reply to non-public thread %s received publicly", root.GUID)
		}
		if _, err := d.repomanager.Posts(d.repomanager.Conn()).GetShare(ctx, root.ID, in.recipient.Contact.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, false, common.Validationf("thread %s is not shared with %s", root.GUID, in.recipient.Identity.Handle)
			}
			return nil, false, err
		}
	}

	author, err := d.resolver.Resolve(ctx, r.Author())
	if err != nil {
		return nil, false, err
	}
	if author.ID != in.sender.ID && root.AuthorID != in.sender.ID {
		return nil, false, common.Validationf("%s relayed a reply to a thread it does not own", in.sender.Handle)
	}
	if err := d.verifyRelayable(ctx, r, author, in.sender); err != nil {
		return nil, false, err
	}
	return &replyContext{parent: parent, root: root, author: author}, true, nil
}

// toOwner hands a publicly received reply over to the local owner of its
// thread. Only the owner's unlocked key can countersign and relay it, so
// the reply is stored when the owner's queue runs.
func (d *Dispatcher) toOwner(ctx context.Context, in *inbound, root *models.Post) error {
	if in.recipient != nil {
		return nil
	}
	conn := d.repomanager.Conn()
	owner, err := d.repomanager.Contacts(conn).GetByID(ctx, root.AuthorID)
	if err != nil {
		return err
	}
	if !owner.Local {
		return nil
	}
	identity, err := d.repomanager.Identities(conn).GetByContactID(ctx, owner.ID)
	if err != nil {
		return err
	}
	d.log.Info(ctx, "public reply handed to thread owner", "thread", root.GUID, "owner", identity.Handle)
	return &handOff{identityID: identity.ID}
}

// relay forwards r when the recipient owns the thread root.
func (d *Dispatcher) relay(ctx context.Context, in *inbound, r message.Relayable, rc *replyContext) {
	if in.recipient == nil || rc.root.AuthorID != in.recipient.Contact.ID {
		return
	}
	if err := message.SignParent(r, in.recipient.Key); err != nil {
		d.log.Error(ctx, "sign relay", "error", err)
		return
	}
	if err := d.planner.Relay(ctx, in.recipient, r, rc.root, rc.author, in.sender.ID); err != nil {
		d.log.Warn(ctx, "relay incomplete", "thread", rc.root.GUID, "error", err)
	}
}

func (d *Dispatcher) onComment(ctx context.Context, in *inbound) error {
	c := in.payload.Comment
	rc, ok, err := d.prepareReply(ctx, in, c, c.GUID, false)
	if err != nil || !ok {
		return err
	}
	if err := d.toOwner(ctx, in, rc.root); err != nil {
		return err
	}

	err = d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := d.insertReply(ctx, tx, rc.parent, rc.root, rc.author, c.GUID, c.Text, in.recipient)
		return err
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	d.relay(ctx, in, c, rc)
	return nil
}

func (d *Dispatcher) onConversationMessage(ctx context.Context, in *inbound) error {
	m := in.payload.Message
	if m.ConversationGUID != "" && m.ConversationGUID != m.ParentGUID {
		return common.Validationf("message %s names conversation %s but parent %s", m.GUID, m.ConversationGUID, m.ParentGUID)
	}
	rc, ok, err := d.prepareReply(ctx, in, m, m.GUID, true)
	if err != nil || !ok {
		return err
	}

	err = d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := d.insertReply(ctx, tx, rc.root, rc.root, rc.author, m.GUID, m.Text, in.recipient)
		return err
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	d.relay(ctx, in, m, rc)
	return nil
}

func (d *Dispatcher) onPollParticipation(ctx context.Context, in *inbound) error {
	pp := in.payload.PollParticipation
	if pp.GUID == "" {
		return common.Validationf("poll participation without guid")
	}
	if _, ok, err := knownGUID(ctx, d.repomanager, pp.GUID); err != nil || ok {
		return err
	}

	conn := d.repomanager.Conn()
	questions, err := d.repomanager.Posts(conn).FindPartsByGUID(ctx, pp.ParentGUID)
	if err != nil {
		return err
	}
	answers, err := d.repomanager.Posts(conn).FindPartsByGUID(ctx, pp.PollAnswerGUID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return pending("poll", pp.ParentGUID)
	}
	if len(answers) == 0 {
		return pending("poll answer", pp.PollAnswerGUID)
	}

	author, err := d.resolver.Resolve(ctx, pp.DiasporaHandle)
	if err != nil {
		return err
	}
	if err := d.verifyRelayable(ctx, pp, author, in.sender); err != nil {
		return err
	}

	type target struct{ post, root *models.Post }
	var targets []target
	seen := map[int64]bool{}
	for _, q := range questions {
		if q.Type != models.PartPollQuestion || seen[q.PostID] {
			continue
		}
		seen[q.PostID] = true
		post, err := d.repomanager.Posts(conn).GetByID(ctx, q.PostID)
		if err != nil {
			return err
		}
		root, err := threadRoot(ctx, d.repomanager, conn, post)
		if err != nil {
			return err
		}
		if author.ID != in.sender.ID && root.AuthorID != in.sender.ID {
			continue
		}
		targets = append(targets, target{post: post, root: root})
	}
	if len(targets) == 0 {
		return common.Validationf("no thread carrying poll %s accepts %s", pp.ParentGUID, in.sender.Handle)
	}
	for _, t := range targets {
		if err := d.toOwner(ctx, in, t.root); err != nil {
			return err
		}
	}

	text := "Voted: " + string(answers[0].Body)
	err = d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		for i, t := range targets {
			guid := ""
			if i == 0 {
				guid = pp.GUID
			}
			if _, err := d.insertReply(ctx, tx, t.post, t.root, author, guid, text, in.recipient); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, t := range targets {
		d.relay(ctx, in, pp, &replyContext{parent: t.post, root: t.root, author: author})
	}
	return nil
}

func (d *Dispatcher) onPhoto(ctx context.Context, in *inbound) error {
	ph := in.payload.Photo
	if err := checkSender(ph.DiasporaHandle, in.sender); err != nil {
		return err
	}

	target, ok, err := knownGUID(ctx, d.repomanager, ph.StatusMessageGUID)
	if err != nil {
		return err
	}
	if !ok {
		return pending("photo target", ph.StatusMessageGUID)
	}

	conn := d.repomanager.Conn()
	if target.AuthorID != in.sender.ID {
		if _, err := d.repomanager.Posts(conn).GetShare(ctx, target.ID, in.sender.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.Validationf("post %s is not shared with %s", target.GUID, in.sender.Handle)
			}
			return err
		}
	}

	if ph.GUID != "" {
		existing, err := d.repomanager.Posts(conn).FindPartsByGUID(ctx, ph.GUID)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if p.PostID == target.ID {
				return nil
			}
		}
	}

	src, err := absoluteURL(in.sender.ServerURL, ph.URL())
	if err != nil {
		return err
	}
	body, contentType, err := d.fetch.Get(ctx, src, "image/*")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return common.Validationf("photo %s has content type %q", src, contentType)
	}
	key := media.NewKey("photos")
	if err := d.media.Put(ctx, key, contentType, body); err != nil {
		return err
	}

	return d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		parts, err := d.repomanager.Posts(tx).Parts(ctx, target.ID)
		if err != nil {
			return err
		}
		_, err = d.repomanager.Posts(tx).AddPart(ctx, &models.Part{
			PostID:      target.ID,
			GUID:        ph.GUID,
			Type:        models.PartImage,
			MediaKey:    key,
			TextPreview: ph.Text,
			Order:       len(parts),
		})
		return err
	})
}

func (d *Dispatcher) onReshare(ctx context.Context, in *inbound) error {
	rs := in.payload.Reshare
	if err := checkSender(rs.DiasporaHandle, in.sender); err != nil {
		return err
	}
	if rs.GUID == "" {
		return common.Validationf("reshare without guid")
	}
	if _, ok, err := knownGUID(ctx, d.repomanager, rs.GUID); err != nil || ok {
		return err
	}

	root, ok, err := knownGUID(ctx, d.repomanager, rs.RootGUID)
	if err != nil {
		return err
	}
	if !ok {
		d.importRootFeed(ctx, rs.RootDiasporaID)
		if root, ok, err = knownGUID(ctx, d.repomanager, rs.RootGUID); err != nil {
			return err
		}
	}
	if !ok {
		return pending("reshare root", rs.RootGUID)
	}

	conn := d.repomanager.Conn()
	rootAuthor, err := d.repomanager.Contacts(conn).GetByID(ctx, root.AuthorID)
	if err != nil {
		return err
	}
	rootParts, err := d.repomanager.Posts(conn).Parts(ctx, root.ID)
	if err != nil {
		return err
	}

	shares := []*models.Share{{ContactID: in.sender.ID, Public: true}}
	if in.recipient != nil {
		shares = append(shares, &models.Share{ContactID: in.recipient.Contact.ID})
	}
	err = d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := insertPost(ctx, d.repomanager, tx,
			&models.Post{AuthorID: in.sender.ID, GUID: rs.GUID, Visibility: models.VisibilityPublic},
			reshareParts(root, rootAuthor, rootParts), shares...)
		return err
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		return nil
	}
	return err
}

// importRootFeed makes one attempt to pull the public feed of a reshared
// post's author. A first-time contact gets its feed during import.
func (d *Dispatcher) importRootFeed(ctx context.Context, handle string) {
	if d.feed == nil || handle == "" {
		return
	}
	h, err := normalizeHandle(handle)
	if err != nil {
		return
	}
	c, err := d.repomanager.Contacts(d.repomanager.Conn()).GetByHandle(ctx, h)
	if errors.Is(err, common.ErrorNotFound) {
		if _, err := d.resolver.Resolve(ctx, h); err != nil {
			d.log.Warn(ctx, "reshare root author unresolved", "handle", h, "error", err)
		}
		return
	}
	if err != nil || c.Local {
		return
	}
	if _, err := d.feed.Import(ctx, c); err != nil {
		d.log.Warn(ctx, "feed import for reshare failed", "handle", h, "error", err)
	}
}

func (d *Dispatcher) onAccountDeletion(ctx context.Context, in *inbound) error {
	ad := in.payload.AccountDeletion
	if err := checkSender(ad.DiasporaHandle, in.sender); err != nil {
		return err
	}

	err := d.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		c, err := d.repomanager.Contacts(tx).GetByID(ctx, in.sender.ID)
		if err != nil {
			return err
		}
		c.Bio = common.DeletedAccountBio
		if err := d.repomanager.Contacts(tx).Update(ctx, c); err != nil {
			return err
		}
		_, err = d.repomanager.Follows(tx).RemoveByFollower(ctx, c.ID)
		return err
	})
	if err != nil {
		return err
	}
	d.resolver.Invalidate(in.sender.Handle)
	d.log.Info(ctx, "remote account deleted", "handle", in.sender.Handle)
	return nil
}

// onParticipation backfills the share a participation implies.
func (d *Dispatcher) onParticipation(ctx context.Context, in *inbound) error {
	p := in.payload.Participation
	if err := checkSender(p.DiasporaHandle, in.sender); err != nil {
		return err
	}
	post, ok, err := knownGUID(ctx, d.repomanager, p.ParentGUID)
	if err != nil || !ok {
		return err
	}
	if post.Visibility != models.VisibilityPublic && post.AuthorID != in.sender.ID {
		return nil
	}
	return d.shareWith(ctx, d.repomanager.Conn(), post.ID, in.sender, false)
}

func (d *Dispatcher) ignore(ctx context.Context, in *inbound) error {
	d.log.Debug(ctx, "unsupported message ignored", "sender", in.sender.Handle)
	return nil
}
