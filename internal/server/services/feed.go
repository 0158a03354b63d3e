package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

// FeedSize is how many public posts /people/{guid} lists.
const FeedSize = 30

type FeedAuthor struct {
	DiasporaID string `json:"diaspora_id"`
	Name       string `json:"name"`
	GUID       string `json:"guid"`
	Avatar     string `json:"avatar,omitempty"`
}

type FeedRoot struct {
	GUID       string `json:"guid"`
	DiasporaID string `json:"diaspora_id"`
}

// FeedEntry is one element of the public feed JSON array.
type FeedEntry struct {
	Author       FeedAuthor `json:"author"`
	CreatedAt    time.Time  `json:"created_at"`
	InteractedAt time.Time  `json:"interacted_at"`
	Text         string     `json:"text"`
	Public       bool       `json:"public"`
	GUID         string     `json:"guid"`
	PostType     string     `json:"post_type"`
	Root         *FeedRoot  `json:"root,omitempty"`
}

const (
	postTypeStatus  = "StatusMessage"
	postTypeReshare = "Reshare"
)

// FeedService serves local public feeds and imports remote ones.
type FeedService struct {
	repomanager repomanager.RepositoryManager
	fetch       Fetcher
	media       media.Store
	log         logging.Logger
}

func NewFeedService(m repomanager.RepositoryManager, fetch Fetcher, store media.Store, l logging.Logger) *FeedService {
	return &FeedService{repomanager: m, fetch: fetch, media: store, log: l.With("module", "feed")}
}

// Export lists the public top-level posts of the local identity guid.
func (s *FeedService) Export(ctx context.Context, guid string) ([]FeedEntry, error) {
	conn := s.repomanager.Conn()

	identity, err := s.repomanager.Identities(conn).GetByGUID(ctx, guid)
	if err != nil {
		return nil, err
	}
	author, err := s.repomanager.Contacts(conn).GetByID(ctx, identity.ContactID)
	if err != nil {
		return nil, err
	}

	fa := FeedAuthor{DiasporaID: author.Handle, Name: author.DisplayName, GUID: author.GUID}
	if author.AvatarKey != "" {
		if u, err := s.media.URL(ctx, author.AvatarKey); err == nil {
			fa.Avatar = u
		}
	}

	posts, err := s.repomanager.Posts(conn).PublicByAuthor(ctx, author.ID, FeedSize)
	if err != nil {
		return nil, err
	}

	entries := make([]FeedEntry, 0, len(posts))
	for _, p := range posts {
		if p.GUID == "" {
			continue
		}
		parts, err := s.repomanager.Posts(conn).Parts(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		e := FeedEntry{
			Author:       fa,
			CreatedAt:    p.CreatedAt.UTC(),
			InteractedAt: p.ThreadModifiedAt.UTC(),
			Text:         bodyText(parts),
			Public:       true,
			GUID:         p.GUID,
			PostType:     postTypeStatus,
		}
		for _, part := range parts {
			if part.Type == models.PartReshareCard {
				e.PostType = postTypeReshare
				e.Root = &FeedRoot{GUID: string(part.Body), DiasporaID: part.TextPreview}
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Import pulls the public feed of a remote contact and stores the posts
// not seen before. It returns how many were created.
func (s *FeedService) Import(ctx context.Context, c *models.Contact) (int, error) {
	body, _, err := s.fetch.Get(ctx, c.ServerURL+"people/"+c.GUID, "application/json")
	if err != nil {
		return 0, err
	}

	var entries []FeedEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, common.Validationf("feed of %s: %v", c.Handle, err)
	}

	n := 0
	for _, e := range entries {
		switch {
		case !e.Public || e.GUID == "":
			continue
		case !strings.EqualFold(e.Author.DiasporaID, c.Handle):
			s.log.Debug(ctx, "feed entry author mismatch", "guid", e.GUID, "author", e.Author.DiasporaID)
			continue
		}

		if _, ok, err := knownGUID(ctx, s.repomanager, e.GUID); err != nil {
			return n, err
		} else if ok {
			continue
		}

		parts := []*models.Part{textPart(e.Text)}
		if e.Root != nil {
			if _, ok, err := knownGUID(ctx, s.repomanager, e.Root.GUID); err != nil {
				return n, err
			} else if !ok {
				continue
			}
			parts = append(parts, &models.Part{
				Type:        models.PartReshareCard,
				Body:        []byte(e.Root.GUID),
				TextPreview: e.Root.DiasporaID,
			})
		}

		err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			_, err := insertPost(ctx, s.repomanager, tx,
				&models.Post{AuthorID: c.ID, GUID: e.GUID, Visibility: models.VisibilityPublic},
				parts,
				&models.Share{ContactID: c.ID, Public: true})
			return err
		})
		if errors.Is(err, common.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
