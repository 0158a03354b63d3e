package services

import (
	"context"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

// Statistics is the body of /statistics.json.
type Statistics struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	RegistrationsOpen bool   `json:"registrations_open"`
	TotalUsers        int64  `json:"total_users"`
	LocalPosts        int64  `json:"local_posts"`
	LocalComments     int64  `json:"local_comments"`
}

type StatsService struct {
	repomanager       repomanager.RepositoryManager
	name              string
	registrationsOpen bool
}

func NewStatsService(m repomanager.RepositoryManager, name string, registrationsOpen bool) *StatsService {
	return &StatsService{repomanager: m, name: name, registrationsOpen: registrationsOpen}
}

func (s *StatsService) Get(ctx context.Context) (*Statistics, error) {
	conn := s.repomanager.Conn()

	users, err := s.repomanager.Identities(conn).Count(ctx)
	if err != nil {
		return nil, err
	}
	posts, err := s.repomanager.Posts(conn).CountLocal(ctx, false)
	if err != nil {
		return nil, err
	}
	comments, err := s.repomanager.Posts(conn).CountLocal(ctx, true)
	if err != nil {
		return nil, err
	}
	return &Statistics{
		Name:              s.name,
		Version:           common.Version,
		RegistrationsOpen: s.registrationsOpen,
		TotalUsers:        users,
		LocalPosts:        posts,
		LocalComments:     comments,
	}, nil
}
