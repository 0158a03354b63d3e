package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

const previewLen = 140

func textPart(text string) *models.Part {
	preview := text
	if utf8.RuneCountInString(preview) > previewLen {
		preview = string([]rune(preview)[:previewLen])
	}
	return &models.Part{Type: models.PartText, Body: []byte(text), TextPreview: preview, Inline: true}
}

// insertPost writes p with its parts and shares using the repositories
// bound to tx. Part order follows the slice.
func insertPost(ctx context.Context, m repomanager.RepositoryManager, tx dbx.DBTX, p *models.Post,
	parts []*models.Part, shares ...*models.Share) (*models.Post, error) {
	repo := m.Posts(tx)

	created, err := repo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	for i, part := range parts {
		part.PostID = created.ID
		part.Order = i
		if _, err := repo.AddPart(ctx, part); err != nil {
			return nil, err
		}
	}
	for _, sh := range shares {
		sh.PostID = created.ID
		if _, err := repo.Share(ctx, sh); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// threadRoot walks parent links up to the top-level post.
func threadRoot(ctx context.Context, m repomanager.RepositoryManager, tx dbx.DBTX, p *models.Post) (*models.Post, error) {
	repo := m.Posts(tx)
	for seen := 0; p.ParentID != nil; seen++ {
		if seen > 64 {
			return nil, common.Validationf("post %d: thread too deep", p.ID)
		}
		parent, err := repo.GetByID(ctx, *p.ParentID)
		if err != nil {
			return nil, err
		}
		p = parent
	}
	return p, nil
}

// knownGUID reports whether a post with guid exists.
func knownGUID(ctx context.Context, m repomanager.RepositoryManager, guid string) (*models.Post, bool, error) {
	p, err := m.Posts(m.Conn()).GetByGUID(ctx, guid)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

// bodyText returns the text of the first text part.
func bodyText(parts []*models.Part) string {
	for _, p := range parts {
		if p.Type == models.PartText {
			return string(p.Body)
		}
	}
	return ""
}

// splitName breaks a display name into the first/last pair profiles carry.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i >= 0 {
		return name[:i], strings.TrimSpace(name[i+1:])
	}
	return name, ""
}
