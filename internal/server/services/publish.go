package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/federation/message"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

type PollDraft struct {
	Question string
	Answers  []string
}

type ImageDraft struct {
	ContentType string
	Data        []byte
	Caption     string
}

// Draft is a new top-level post. Subject is only used by private threads.
type Draft struct {
	Text       string
	Subject    string
	Visibility models.Visibility
	Recipients []string
	Poll       *PollDraft
	Image      *ImageDraft
}

type ProfileDraft struct {
	DisplayName string
	Bio         string
	Tags        []string
	Avatar      *ImageDraft
}

// Publisher turns local actions into stored content and outbound
// deliveries.
type Publisher struct {
	repomanager repomanager.RepositoryManager
	planner     *Planner
	resolver    *Resolver
	guids       *GUIDs
	media       media.Store
	log         logging.Logger
}

func NewPublisher(m repomanager.RepositoryManager, planner *Planner, resolver *Resolver, guids *GUIDs,
	store media.Store, l logging.Logger) *Publisher {
	return &Publisher{
		repomanager: m,
		planner:     planner,
		resolver:    resolver,
		guids:       guids,
		media:       store,
		log:         l.With("module", "publisher"),
	}
}

// Publish stores a new thread and delivers it. The post is returned even
// when some deliveries failed; the error then lists them.
func (p *Publisher) Publish(ctx context.Context, actor *Actor, d Draft) (*models.Post, error) {
	switch d.Visibility {
	case models.VisibilityPublic, models.VisibilityLimited, models.VisibilityPrivate:
	default:
		return nil, common.Validationf("unknown visibility %q", d.Visibility)
	}
	if d.Visibility != models.VisibilityPublic && len(d.Recipients) == 0 {
		return nil, common.Validationf("%s post without recipients", d.Visibility)
	}
	if d.Visibility == models.VisibilityPrivate && (d.Poll != nil || d.Image != nil) {
		return nil, common.Validationf("private threads carry text only")
	}

	// Recipients are resolved up front; resolving may hit the network.
	var recipients []*models.Contact
	for _, h := range d.Recipients {
		c, err := p.resolver.Resolve(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", h, err)
		}
		recipients = append(recipients, c)
	}

	parts, err := p.draftParts(ctx, d)
	if err != nil {
		return nil, err
	}

	var post *models.Post
	err = p.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		shares := []*models.Share{{ContactID: actor.Contact.ID, Public: d.Visibility == models.VisibilityPublic}}
		for _, c := range recipients {
			shares = append(shares, &models.Share{ContactID: c.ID})
		}

		created, err := insertPost(ctx, p.repomanager, tx, &models.Post{AuthorID: actor.Contact.ID}, parts, shares...)
		if err != nil {
			return err
		}
		if err := p.assign(ctx, tx, created, d.Visibility); err != nil {
			return err
		}
		post = created

		// A private thread's root holds the subject; the text is its first
		// message.
		if d.Visibility == models.VisibilityPrivate && strings.TrimSpace(d.Text) != "" {
			_, err = p.insertReply(ctx, tx, actor, created, d.Text)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Info(ctx, "post published", "guid", post.GUID, "visibility", post.Visibility)

	if err := p.planner.DeliverPost(ctx, actor, post); err != nil {
		return post, err
	}
	return post, nil
}

func (p *Publisher) draftParts(ctx context.Context, d Draft) ([]*models.Part, error) {
	text := d.Text
	if d.Visibility == models.VisibilityPrivate {
		text = d.Subject
		if strings.TrimSpace(text) == "" {
			return nil, common.Validationf("private thread without subject")
		}
	}
	parts := []*models.Part{textPart(text)}

	if d.Poll != nil {
		if d.Poll.Question == "" || len(d.Poll.Answers) < 2 {
			return nil, common.Validationf("poll needs a question and two answers")
		}
		parts = append(parts, &models.Part{Type: models.PartPollQuestion, GUID: p.guids.New(), Body: []byte(d.Poll.Question)})
		for _, a := range d.Poll.Answers {
			parts = append(parts, &models.Part{Type: models.PartPollAnswer, GUID: p.guids.New(), Body: []byte(a)})
		}
	}

	if d.Image != nil {
		if !strings.HasPrefix(d.Image.ContentType, "image/") {
			return nil, common.Validationf("content type %q is not an image", d.Image.ContentType)
		}
		key := media.NewKey("photos")
		if err := p.media.Put(ctx, key, d.Image.ContentType, d.Image.Data); err != nil {
			return nil, err
		}
		parts = append(parts, &models.Part{
			Type:        models.PartImage,
			GUID:        p.guids.New(),
			MediaKey:    key,
			TextPreview: d.Image.Caption,
		})
	}
	return parts, nil
}

// assign gives a fresh local post its GUID and, for roots, its class.
func (p *Publisher) assign(ctx context.Context, tx dbx.DBTX, post *models.Post, v models.Visibility) error {
	repo := p.repomanager.Posts(tx)
	post.GUID = p.guids.Post(post.ID)
	if err := repo.SetGUID(ctx, post.ID, post.GUID); err != nil {
		return err
	}
	if v == models.VisibilityUnset {
		return nil
	}
	if _, err := repo.SetVisibility(ctx, post.ID, v); err != nil {
		return err
	}
	post.Visibility = v
	return nil
}

func (p *Publisher) insertReply(ctx context.Context, tx dbx.DBTX, actor *Actor, parent *models.Post, text string) (*models.Post, error) {
	parentID := parent.ID
	reply, err := insertPost(ctx, p.repomanager, tx,
		&models.Post{AuthorID: actor.Contact.ID, ParentID: &parentID},
		[]*models.Part{textPart(text)},
		&models.Share{ContactID: actor.Contact.ID})
	if err != nil {
		return nil, err
	}
	if err := p.assign(ctx, tx, reply, models.VisibilityUnset); err != nil {
		return nil, err
	}
	root, err := threadRoot(ctx, p.repomanager, tx, parent)
	if err != nil {
		return nil, err
	}
	if err := p.repomanager.Posts(tx).TouchThread(ctx, root.ID, reply.CreatedAt); err != nil {
		return nil, err
	}
	return reply, nil
}

// Reply answers parentGUID. The thread's class always wins over the
// requested one.
func (p *Publisher) Reply(ctx context.Context, actor *Actor, parentGUID, text string, requested models.Visibility) (*models.Post, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.Validationf("empty reply")
	}
	parent, err := p.repomanager.Posts(p.repomanager.Conn()).GetByGUID(ctx, parentGUID)
	if err != nil {
		return nil, err
	}
	root, class, err := p.planner.Class(ctx, parent)
	if err != nil {
		return nil, err
	}
	if requested != models.VisibilityUnset && requested != class {
		p.log.Debug(ctx, "reply visibility follows thread", "thread", root.GUID, "requested", requested, "class", class)
	}
	if err := p.canSee(ctx, actor, root, class); err != nil {
		return nil, err
	}

	var reply *models.Post
	err = p.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		reply, err = p.insertReply(ctx, tx, actor, parent, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.log.Info(ctx, "reply published", "guid", reply.GUID, "thread", root.GUID)

	if err := p.planner.DeliverPost(ctx, actor, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

func (p *Publisher) canSee(ctx context.Context, actor *Actor, root *models.Post, class models.Visibility) error {
	if class == models.VisibilityPublic || root.AuthorID == actor.Contact.ID {
		return nil
	}
	_, err := p.repomanager.Posts(p.repomanager.Conn()).GetShare(ctx, root.ID, actor.Contact.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorUnauthorized
	}
	return err
}

// Subscribe follows handle and sends it a request.
func (p *Publisher) Subscribe(ctx context.Context, actor *Actor, handle string) error {
	c, err := p.resolver.Resolve(ctx, handle)
	if err != nil {
		return err
	}
	if c.ID == actor.Contact.ID {
		return common.Validationf("cannot follow yourself")
	}
	created, err := p.repomanager.Follows(p.repomanager.Conn()).Add(ctx, actor.Contact.ID, c.ID)
	if err != nil {
		return err
	}
	if created {
		p.log.Info(ctx, "following", "handle", c.Handle)
	}
	if c.Local {
		return nil
	}
	return p.planner.DeliverTo(ctx, actor, &message.Request{
		SenderHandle:    actor.Identity.Handle,
		RecipientHandle: c.Handle,
	}, c)
}

// Unsubscribe stops following handle and tells it so.
func (p *Publisher) Unsubscribe(ctx context.Context, actor *Actor, handle string) error {
	c, err := p.resolver.Resolve(ctx, handle)
	if err != nil {
		return err
	}
	if err := p.repomanager.Follows(p.repomanager.Conn()).Remove(ctx, actor.Contact.ID, c.ID); err != nil {
		return err
	}
	if c.Local {
		return nil
	}
	return p.planner.DeliverTo(ctx, actor, &message.Retraction{
		PostGUID:       actor.Identity.GUID,
		DiasporaHandle: actor.Identity.Handle,
		Type:           "Person",
	}, c)
}

// UpdateProfile stores the actor's profile and sends it to every remote
// follower.
func (p *Publisher) UpdateProfile(ctx context.Context, actor *Actor, d ProfileDraft) error {
	contacts := p.repomanager.Contacts(p.repomanager.Conn())
	c, err := contacts.GetByID(ctx, actor.Contact.ID)
	if err != nil {
		return err
	}

	if d.Avatar != nil {
		if !strings.HasPrefix(d.Avatar.ContentType, "image/") {
			return common.Validationf("content type %q is not an image", d.Avatar.ContentType)
		}
		key := "avatars/" + c.GUID
		if err := p.media.Put(ctx, key, d.Avatar.ContentType, d.Avatar.Data); err != nil {
			return err
		}
		c.AvatarKey = key
	}
	c.DisplayName = d.DisplayName
	c.Bio = d.Bio
	c.Tags = d.Tags
	if err := contacts.Update(ctx, c); err != nil {
		return err
	}
	actor.Contact = c
	p.resolver.Invalidate(c.Handle)

	first, last := splitName(c.DisplayName)
	prof := &message.Profile{
		DiasporaHandle: c.Handle,
		FirstName:      first,
		LastName:       last,
		Bio:            c.Bio,
		Searchable:     true,
		TagString:      message.TagString(c.Tags),
	}
	if c.AvatarKey != "" {
		u, err := p.media.URL(ctx, c.AvatarKey)
		if err != nil {
			return err
		}
		prof.ImageURL, prof.ImageURLMedium, prof.ImageURLSmall = u, u, u
	}

	followers, err := p.repomanager.Follows(p.repomanager.Conn()).Followers(ctx, c.ID)
	if err != nil {
		return err
	}
	return p.planner.DeliverTo(ctx, actor, prof, followers...)
}

// Reshare copies a public post onto the actor's wall and announces it to
// the actor's followers.
func (p *Publisher) Reshare(ctx context.Context, actor *Actor, guid string) (*models.Post, error) {
	conn := p.repomanager.Conn()
	orig, err := p.repomanager.Posts(conn).GetByGUID(ctx, guid)
	if err != nil {
		return nil, err
	}
	if orig.ParentID != nil || orig.Visibility != models.VisibilityPublic {
		return nil, common.Validationf("only public top-level posts can be reshared")
	}
	origAuthor, err := p.repomanager.Contacts(conn).GetByID(ctx, orig.AuthorID)
	if err != nil {
		return nil, err
	}
	origParts, err := p.repomanager.Posts(conn).Parts(ctx, orig.ID)
	if err != nil {
		return nil, err
	}

	parts := reshareParts(orig, origAuthor, origParts)
	var post *models.Post
	err = p.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := insertPost(ctx, p.repomanager, tx, &models.Post{AuthorID: actor.Contact.ID}, parts,
			&models.Share{ContactID: actor.Contact.ID, Public: true})
		if err != nil {
			return err
		}
		post = created
		return p.assign(ctx, tx, created, models.VisibilityPublic)
	})
	if err != nil {
		return nil, err
	}

	followers, err := p.repomanager.Follows(conn).Followers(ctx, actor.Contact.ID)
	if err != nil {
		return post, err
	}
	return post, p.planner.DeliverPublic(ctx, actor, &message.Reshare{
		RootDiasporaID: origAuthor.Handle,
		RootGUID:       orig.GUID,
		GUID:           post.GUID,
		DiasporaHandle: actor.Identity.Handle,
		Public:         true,
		CreatedAt:      message.FormatTime(post.CreatedAt),
	}, followers...)
}

// reshareParts is the card pointing at orig followed by copies of its parts.
func reshareParts(orig *models.Post, author *models.Contact, origParts []*models.Part) []*models.Part {
	parts := []*models.Part{{
		Type:        models.PartReshareCard,
		Body:        []byte(orig.GUID),
		TextPreview: author.Handle,
	}}
	for _, op := range origParts {
		if op.Type == models.PartReshareCard {
			continue
		}
		cp := *op
		cp.ID, cp.PostID = 0, 0
		parts = append(parts, &cp)
	}
	return parts
}

// DeleteAccount tombstones the actor's profile, drops its follows and
// tells its followers.
func (p *Publisher) DeleteAccount(ctx context.Context, actor *Actor) error {
	conn := p.repomanager.Conn()
	followers, err := p.repomanager.Follows(conn).Followers(ctx, actor.Contact.ID)
	if err != nil {
		return err
	}

	err = p.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		contacts := p.repomanager.Contacts(tx)
		c, err := contacts.GetByID(ctx, actor.Contact.ID)
		if err != nil {
			return err
		}
		c.Bio = common.DeletedAccountBio
		c.DisplayName = ""
		c.Tags = nil
		c.UpdatedAt = time.Now()
		if err := contacts.Update(ctx, c); err != nil {
			return err
		}
		_, err = p.repomanager.Follows(tx).RemoveByFollower(ctx, c.ID)
		return err
	})
	if err != nil {
		return err
	}
	p.resolver.Invalidate(actor.Identity.Handle)
	p.log.Info(ctx, "account deleted", "handle", actor.Identity.Handle)

	return p.planner.DeliverPublic(ctx, actor, &message.AccountDeletion{DiasporaHandle: actor.Identity.Handle}, followers...)
}
