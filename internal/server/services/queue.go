package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/envelope"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
)

// DrainStats reports one pass over a queue.
type DrainStats struct {
	Processed int  `json:"processed"`
	Deferred  int  `json:"deferred"`
	Blocked   bool `json:"blocked"`
	More      bool `json:"more"`
}

// QueueService persists received envelopes and processes them strictly in
// arrival order. The first failing item blocks its queue until cleared.
type QueueService struct {
	repomanager repomanager.RepositoryManager
	dispatcher  *Dispatcher
	resolver    *Resolver
	log         logging.Logger
	now         func() time.Time
}

func NewQueueService(m repomanager.RepositoryManager, dispatcher *Dispatcher, resolver *Resolver, l logging.Logger) *QueueService {
	return &QueueService{
		repomanager: m,
		dispatcher:  dispatcher,
		resolver:    resolver,
		log:         l.With("module", "queue"),
		now:         time.Now,
	}
}

// Enqueue stores body on the queue of identityID (nil for public).
func (s *QueueService) Enqueue(ctx context.Context, identityID *int64, body []byte) (*models.QueueItem, error) {
	item, err := s.repomanager.Queue(s.repomanager.Conn()).Enqueue(ctx, &models.QueueItem{
		IdentityID: identityID,
		Format:     models.QueueFormatDiaspora,
		Body:       body,
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "envelope queued", "item", item.ID, "size", len(body))
	return item, nil
}

// ReceiveUser queues an envelope for the local identity guid. Processing
// waits until the owner's key is unlocked.
func (s *QueueService) ReceiveUser(ctx context.Context, guid string, body []byte) error {
	identity, err := s.repomanager.Identities(s.repomanager.Conn()).GetByGUID(ctx, guid)
	if err != nil {
		return err
	}
	id := identity.ID
	_, err = s.Enqueue(ctx, &id, body)
	return err
}

// ReceivePublic processes a public envelope right away. Deferred messages
// are queued for a later pass; failed ones are queued with their error and
// the error is returned.
func (s *QueueService) ReceivePublic(ctx context.Context, body []byte) error {
	res := s.process(ctx, nil, body)
	switch res.Outcome {
	case Done:
		return nil
	case Deferred:
		_, err := s.Enqueue(ctx, nil, body)
		return err
	}

	item, err := s.Enqueue(ctx, nil, body)
	if err != nil {
		return errors.Join(res.Reason, err)
	}
	if err := s.repomanager.Queue(s.repomanager.Conn()).SetError(ctx, item.ID, res.Reason.Error()); err != nil {
		return errors.Join(res.Reason, err)
	}
	return res.Reason
}

func (s *QueueService) process(ctx context.Context, actor *Actor, body []byte) Result {
	msg, err := s.open(ctx, actor, body)
	if err != nil {
		return resultOf(err)
	}
	res := s.dispatcher.Dispatch(ctx, actor, msg)
	if res.Outcome == Done && res.HandOff != nil {
		if _, err := s.Enqueue(ctx, res.HandOff, body); err != nil {
			return resultOf(err)
		}
	}
	return res
}

func (s *QueueService) open(ctx context.Context, actor *Actor, body []byte) (*envelope.Message, error) {
	if actor == nil {
		return envelope.Parse(ctx, body, nil, s.resolver.PublicKey)
	}
	return envelope.Parse(ctx, body, actor.Key, s.resolver.PublicKey)
}

// ProcessNextBatch handles up to max items of the actor's queue.
func (s *QueueService) ProcessNextBatch(ctx context.Context, actor *Actor, max int) (DrainStats, error) {
	id := actor.Identity.ID
	return s.drain(ctx, &id, actor, max, time.Time{})
}

// Drain handles the actor's queue until it is empty or blocked, or until
// budget elapses. More reports that items are left for another call.
func (s *QueueService) Drain(ctx context.Context, actor *Actor, budget time.Duration) (DrainStats, error) {
	id := actor.Identity.ID
	return s.drain(ctx, &id, actor, 0, s.now().Add(budget))
}

// ProcessPublicQueue retries the public queue with the same halt policy.
func (s *QueueService) ProcessPublicQueue(ctx context.Context, budget time.Duration) (DrainStats, error) {
	return s.drain(ctx, nil, nil, 0, s.now().Add(budget))
}

func (s *QueueService) drain(ctx context.Context, identityID *int64, actor *Actor, max int, deadline time.Time) (DrainStats, error) {
	var st DrainStats
	repo := s.repomanager.Queue(s.repomanager.Conn())

	items, err := repo.List(ctx, identityID)
	if err != nil {
		return st, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if max > 0 && st.Processed+st.Deferred >= max {
			st.More = true
			break
		}
		if !deadline.IsZero() && st.Processed+st.Deferred > 0 && s.now().After(deadline) {
			st.More = true
			break
		}
		if it.Error != nil {
			st.Blocked = true
			break
		}

		res := s.process(ctx, actor, it.Body)
		switch res.Outcome {
		case Done:
			if err := repo.Delete(ctx, it.ID); err != nil {
				return st, err
			}
			st.Processed++
		case Deferred:
			s.log.Info(ctx, "queue item deferred", "item", it.ID, "reason", res.Reason)
			st.Deferred++
		default:
			s.log.Error(ctx, "queue blocked", "item", it.ID, "error", res.Reason)
			if err := repo.SetError(ctx, it.ID, res.Reason.Error()); err != nil {
				return st, err
			}
			st.Blocked = true
		}
		if st.Blocked {
			break
		}
	}

	if st.Processed > 0 || st.Blocked {
		s.log.Info(ctx, "queue pass", "processed", st.Processed, "deferred", st.Deferred, "blocked", st.Blocked, "more", st.More)
	}
	return st, nil
}

// HasPendingItems reports whether the actor's queue holds anything.
func (s *QueueService) HasPendingItems(ctx context.Context, actor *Actor) (bool, error) {
	id := actor.Identity.ID
	return s.repomanager.Queue(s.repomanager.Conn()).Has(ctx, &id)
}

// Items lists the actor's queue, or the public one for a nil actor.
func (s *QueueService) Items(ctx context.Context, actor *Actor) ([]*models.QueueItem, error) {
	var id *int64
	if actor != nil {
		v := actor.Identity.ID
		id = &v
	}
	return s.repomanager.Queue(s.repomanager.Conn()).List(ctx, id)
}

// item loads itemID and checks that actor may manage it. Public items are
// open to any signed-in identity.
func (s *QueueService) item(ctx context.Context, actor *Actor, itemID int64) (*models.QueueItem, error) {
	it, err := s.repomanager.Queue(s.repomanager.Conn()).Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.IdentityID != nil && *it.IdentityID != actor.Identity.ID {
		return nil, common.ErrorUnauthorized
	}
	return it, nil
}

// ClearError drops the error of itemID so it is retried on the next pass.
// Other stuck items of the same queue keep theirs.
func (s *QueueService) ClearError(ctx context.Context, actor *Actor, itemID int64) error {
	it, err := s.item(ctx, actor, itemID)
	if err != nil {
		return err
	}
	if it.Error == nil {
		return nil
	}
	if err := s.repomanager.Queue(s.repomanager.Conn()).ClearError(ctx, itemID); err != nil {
		return err
	}
	s.log.Info(ctx, "queue error cleared", "item", itemID)
	return nil
}

// Discard drops itemID from its queue.
func (s *QueueService) Discard(ctx context.Context, actor *Actor, itemID int64) error {
	if _, err := s.item(ctx, actor, itemID); err != nil {
		return err
	}
	if err := s.repomanager.Queue(s.repomanager.Conn()).Delete(ctx, itemID); err != nil {
		return err
	}
	s.log.Info(ctx, "queue item discarded", "item", itemID)
	return nil
}
