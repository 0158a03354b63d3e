package repomanager

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/dbx"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/follows"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/posts"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/queue"
)

type pair struct{ a, b int64 }

type memState struct {
	seq        int64
	contacts   map[int64]models.Contact
	identities map[int64]models.Identity
	follows    map[pair]time.Time
	posts      map[int64]models.Post
	parts      map[int64]models.Part
	shares     map[pair]models.Share
	queue      map[int64]models.QueueItem
}

func newMemState() *memState {
	return &memState{
		contacts:   map[int64]models.Contact{},
		identities: map[int64]models.Identity{},
		follows:    map[pair]time.Time{},
		posts:      map[int64]models.Post{},
		parts:      map[int64]models.Part{},
		shares:     map[pair]models.Share{},
		queue:      map[int64]models.QueueItem{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{seq: s.seq}
	c.contacts = cloneMap(s.contacts)
	c.identities = cloneMap(s.identities)
	c.follows = cloneMap(s.follows)
	c.posts = cloneMap(s.posts)
	c.parts = cloneMap(s.parts)
	c.shares = cloneMap(s.shares)
	c.queue = cloneMap(s.queue)
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

// MemoryRepositoryManager keeps everything in process memory. Transactions
// are serialized and roll back by restoring a snapshot, so callers see the
// same all-or-nothing behavior as with PostgreSQL.
type MemoryRepositoryManager struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *memState
	now  func() time.Time
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{st: newMemState(), now: time.Now}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Conn() dbx.DBTX { return nil }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.st.clone()
	m.mu.Unlock()

	defer func() {
		p := recover()
		if err != nil || p != nil {
			m.mu.Lock()
			m.st = snap
			m.mu.Unlock()
		}
		if p != nil {
			panic(p)
		}
	}()

	return fn(ctx, nil)
}

func (m *MemoryRepositoryManager) Identities(dbx.DBTX) identities.Repository { return memIdentities{m} }
func (m *MemoryRepositoryManager) Contacts(dbx.DBTX) contacts.Repository     { return memContacts{m} }
func (m *MemoryRepositoryManager) Follows(dbx.DBTX) follows.Repository       { return memFollows{m} }
func (m *MemoryRepositoryManager) Posts(dbx.DBTX) posts.Repository           { return memPosts{m} }
func (m *MemoryRepositoryManager) Queue(dbx.DBTX) queue.Repository           { return memQueue{m} }

func (m *MemoryRepositoryManager) locked(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

type memContacts struct{ m *MemoryRepositoryManager }

func (r memContacts) Create(_ context.Context, c *models.Contact) (*models.Contact, error) {
	err := r.m.locked(func(s *memState) error {
		for _, o := range s.contacts {
			if o.Handle == c.Handle || o.GUID == c.GUID {
				return common.ErrAlreadyExists
			}
		}
		c.ID = s.next()
		c.CreatedAt = r.m.now()
		c.UpdatedAt = c.CreatedAt
		v := *c
		v.Tags = slices.Clone(c.Tags)
		s.contacts[c.ID] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r memContacts) Update(_ context.Context, c *models.Contact) error {
	return r.m.locked(func(s *memState) error {
		cur, ok := s.contacts[c.ID]
		if !ok {
			return common.ErrorNotFound
		}
		cur.Handle = c.Handle
		cur.ServerURL = c.ServerURL
		cur.PublicKey = c.PublicKey
		cur.DisplayName = c.DisplayName
		cur.Bio = c.Bio
		cur.AvatarKey = c.AvatarKey
		cur.Tags = slices.Clone(c.Tags)
		cur.UpdatedAt = r.m.now()
		s.contacts[c.ID] = cur
		return nil
	})
}

func (r memContacts) find(match func(models.Contact) bool) (*models.Contact, error) {
	var out *models.Contact
	err := r.m.locked(func(s *memState) error {
		for _, c := range s.contacts {
			if match(c) {
				v := c
				v.Tags = slices.Clone(c.Tags)
				out = &v
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r memContacts) GetByID(_ context.Context, id int64) (*models.Contact, error) {
	return r.find(func(c models.Contact) bool { return c.ID == id })
}

func (r memContacts) GetByHandle(_ context.Context, handle string) (*models.Contact, error) {
	return r.find(func(c models.Contact) bool { return c.Handle == handle })
}

func (r memContacts) GetByGUID(_ context.Context, guid string) (*models.Contact, error) {
	return r.find(func(c models.Contact) bool { return c.GUID == guid })
}

type memIdentities struct{ m *MemoryRepositoryManager }

func (r memIdentities) Create(_ context.Context, i *models.Identity) (*models.Identity, error) {
	err := r.m.locked(func(s *memState) error {
		for _, o := range s.identities {
			if o.Handle == i.Handle || o.GUID == i.GUID || o.ContactID == i.ContactID {
				return common.ErrAlreadyExists
			}
		}
		i.ID = s.next()
		i.CreatedAt = r.m.now()
		s.identities[i.ID] = *i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r memIdentities) SetHandle(_ context.Context, id int64, handle string) error {
	return r.m.locked(func(s *memState) error {
		cur, ok := s.identities[id]
		if !ok {
			return common.ErrorNotFound
		}
		for _, o := range s.identities {
			if o.ID != id && o.Handle == handle {
				return common.ErrAlreadyExists
			}
		}
		cur.Handle = handle
		s.identities[id] = cur
		return nil
	})
}

func (r memIdentities) find(match func(models.Identity) bool) (*models.Identity, error) {
	var out *models.Identity
	err := r.m.locked(func(s *memState) error {
		for _, i := range s.identities {
			if match(i) {
				v := i
				out = &v
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r memIdentities) GetByID(_ context.Context, id int64) (*models.Identity, error) {
	return r.find(func(i models.Identity) bool { return i.ID == id })
}

func (r memIdentities) GetByHandle(_ context.Context, handle string) (*models.Identity, error) {
	return r.find(func(i models.Identity) bool { return i.Handle == handle })
}

func (r memIdentities) GetByGUID(_ context.Context, guid string) (*models.Identity, error) {
	return r.find(func(i models.Identity) bool { return i.GUID == guid })
}

func (r memIdentities) GetByContactID(_ context.Context, contactID int64) (*models.Identity, error) {
	return r.find(func(i models.Identity) bool { return i.ContactID == contactID })
}

func (r memIdentities) Count(context.Context) (int64, error) {
	var n int64
	_ = r.m.locked(func(s *memState) error {
		n = int64(len(s.identities))
		return nil
	})
	return n, nil
}

type memFollows struct{ m *MemoryRepositoryManager }

func (r memFollows) Add(_ context.Context, followerID, followedID int64) (bool, error) {
	var created bool
	err := r.m.locked(func(s *memState) error {
		k := pair{followerID, followedID}
		if _, ok := s.follows[k]; ok {
			return nil
		}
		s.follows[k] = r.m.now()
		created = true
		return nil
	})
	return created, err
}

func (r memFollows) Remove(_ context.Context, followerID, followedID int64) error {
	return r.m.locked(func(s *memState) error {
		delete(s.follows, pair{followerID, followedID})
		return nil
	})
}

func (r memFollows) RemoveByFollower(_ context.Context, followerID int64) (int64, error) {
	var n int64
	err := r.m.locked(func(s *memState) error {
		for k := range s.follows {
			if k.a == followerID {
				delete(s.follows, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memFollows) Exists(_ context.Context, followerID, followedID int64) (bool, error) {
	var ok bool
	err := r.m.locked(func(s *memState) error {
		_, ok = s.follows[pair{followerID, followedID}]
		return nil
	})
	return ok, err
}

func (r memFollows) Followers(_ context.Context, followedID int64) ([]*models.Contact, error) {
	var out []*models.Contact
	err := r.m.locked(func(s *memState) error {
		for k := range s.follows {
			if k.b != followedID {
				continue
			}
			c, ok := s.contacts[k.a]
			if !ok {
				continue
			}
			c.Tags = slices.Clone(c.Tags)
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type memPosts struct{ m *MemoryRepositoryManager }

func (r memPosts) Create(_ context.Context, p *models.Post) (*models.Post, error) {
	err := r.m.locked(func(s *memState) error {
		if p.GUID != "" {
			for _, o := range s.posts {
				if o.GUID == p.GUID {
					return common.ErrAlreadyExists
				}
			}
		}
		p.ID = s.next()
		p.CreatedAt = r.m.now()
		p.ThreadModifiedAt = p.CreatedAt
		s.posts[p.ID] = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r memPosts) find(match func(models.Post) bool) (*models.Post, error) {
	var out *models.Post
	err := r.m.locked(func(s *memState) error {
		for _, p := range s.posts {
			if match(p) {
				v := p
				out = &v
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r memPosts) GetByID(_ context.Context, id int64) (*models.Post, error) {
	return r.find(func(p models.Post) bool { return p.ID == id })
}

func (r memPosts) GetByGUID(_ context.Context, guid string) (*models.Post, error) {
	if guid == "" {
		return nil, common.ErrorNotFound
	}
	return r.find(func(p models.Post) bool { return p.GUID == guid })
}

func (r memPosts) update(id int64, fn func(p *models.Post) error) error {
	return r.m.locked(func(s *memState) error {
		p, ok := s.posts[id]
		if !ok {
			return common.ErrorNotFound
		}
		if err := fn(&p); err != nil {
			return err
		}
		s.posts[id] = p
		return nil
	})
}

func (r memPosts) SetGUID(_ context.Context, id int64, guid string) error {
	return r.m.locked(func(s *memState) error {
		p, ok := s.posts[id]
		if !ok {
			return common.ErrorNotFound
		}
		for _, o := range s.posts {
			if o.ID != id && guid != "" && o.GUID == guid {
				return common.ErrAlreadyExists
			}
		}
		p.GUID = guid
		s.posts[id] = p
		return nil
	})
}

func (r memPosts) SetVisibility(_ context.Context, id int64, v models.Visibility) (bool, error) {
	var set bool
	err := r.m.locked(func(s *memState) error {
		p, ok := s.posts[id]
		if !ok || p.Visibility != models.VisibilityUnset {
			return nil
		}
		p.Visibility = v
		s.posts[id] = p
		set = true
		return nil
	})
	return set, err
}

func (r memPosts) TouchThread(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(p *models.Post) error {
		p.ThreadModifiedAt = at
		return nil
	})
}

func (r memPosts) filter(match func(models.Post) bool) []*models.Post {
	var out []*models.Post
	_ = r.m.locked(func(s *memState) error {
		for _, p := range s.posts {
			if match(p) {
				v := p
				out = append(out, &v)
			}
		}
		return nil
	})
	return out
}

func (r memPosts) Replies(_ context.Context, parentID int64) ([]*models.Post, error) {
	out := r.filter(func(p models.Post) bool { return p.ParentID != nil && *p.ParentID == parentID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memPosts) PublicByAuthor(_ context.Context, authorID int64, limit int) ([]*models.Post, error) {
	out := r.filter(func(p models.Post) bool {
		return p.AuthorID == authorID && p.ParentID == nil && p.Visibility == models.VisibilityPublic
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memPosts) CountLocal(_ context.Context, replies bool) (int64, error) {
	var n int64
	_ = r.m.locked(func(s *memState) error {
		for _, p := range s.posts {
			if (p.ParentID != nil) != replies {
				continue
			}
			if c, ok := s.contacts[p.AuthorID]; ok && c.Local {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (r memPosts) AddPart(_ context.Context, part *models.Part) (*models.Part, error) {
	err := r.m.locked(func(s *memState) error {
		if _, ok := s.posts[part.PostID]; !ok {
			return common.ErrorNotFound
		}
		part.ID = s.next()
		v := *part
		v.Body = slices.Clone(part.Body)
		s.parts[part.ID] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}

func (r memPosts) parts(match func(models.Part) bool) []*models.Part {
	var out []*models.Part
	_ = r.m.locked(func(s *memState) error {
		for _, p := range s.parts {
			if match(p) {
				v := p
				v.Body = slices.Clone(p.Body)
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r memPosts) Parts(_ context.Context, postID int64) ([]*models.Part, error) {
	return r.parts(func(p models.Part) bool { return p.PostID == postID }), nil
}

func (r memPosts) FindPartsByGUID(_ context.Context, guid string) ([]*models.Part, error) {
	if guid == "" {
		return nil, nil
	}
	out := r.parts(func(p models.Part) bool { return p.GUID == guid })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memPosts) Share(_ context.Context, sh *models.Share) (bool, error) {
	var created bool
	err := r.m.locked(func(s *memState) error {
		k := pair{sh.PostID, sh.ContactID}
		if _, ok := s.shares[k]; ok {
			return nil
		}
		sh.SharedAt = r.m.now()
		s.shares[k] = *sh
		created = true
		return nil
	})
	return created, err
}

func (r memPosts) GetShare(_ context.Context, postID, contactID int64) (*models.Share, error) {
	var out *models.Share
	err := r.m.locked(func(s *memState) error {
		sh, ok := s.shares[pair{postID, contactID}]
		if !ok {
			return common.ErrorNotFound
		}
		out = &sh
		return nil
	})
	return out, err
}

func (r memPosts) Shares(_ context.Context, postID int64) ([]*models.Share, error) {
	var out []*models.Share
	_ = r.m.locked(func(s *memState) error {
		for k, sh := range s.shares {
			if k.a == postID {
				v := sh
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

type memQueue struct{ m *MemoryRepositoryManager }

func sameOwner(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r memQueue) Enqueue(_ context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	_ = r.m.locked(func(s *memState) error {
		item.ID = s.next()
		item.ReceivedAt = r.m.now()
		v := *item
		v.Body = slices.Clone(item.Body)
		s.queue[item.ID] = v
		return nil
	})
	return item, nil
}

func (r memQueue) List(_ context.Context, identityID *int64) ([]*models.QueueItem, error) {
	var out []*models.QueueItem
	_ = r.m.locked(func(s *memState) error {
		for _, it := range s.queue {
			if sameOwner(it.IdentityID, identityID) {
				v := it
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memQueue) Next(ctx context.Context, identityID *int64) (*models.QueueItem, error) {
	items, _ := r.List(ctx, identityID)
	if len(items) == 0 {
		return nil, common.ErrorNotFound
	}
	return items[0], nil
}

func (r memQueue) Get(_ context.Context, id int64) (*models.QueueItem, error) {
	var out *models.QueueItem
	err := r.m.locked(func(s *memState) error {
		it, ok := s.queue[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &it
		return nil
	})
	return out, err
}

func (r memQueue) Delete(_ context.Context, id int64) error {
	return r.m.locked(func(s *memState) error {
		if _, ok := s.queue[id]; !ok {
			return common.ErrorNotFound
		}
		delete(s.queue, id)
		return nil
	})
}

func (r memQueue) SetError(_ context.Context, id int64, msg string) error {
	return r.m.locked(func(s *memState) error {
		it, ok := s.queue[id]
		if !ok {
			return nil
		}
		it.Error = &msg
		s.queue[id] = it
		return nil
	})
}

func (r memQueue) ClearError(_ context.Context, id int64) error {
	return r.m.locked(func(s *memState) error {
		it, ok := s.queue[id]
		if !ok {
			return common.ErrorNotFound
		}
		it.Error = nil
		s.queue[id] = it
		return nil
	})
}

func (r memQueue) Has(ctx context.Context, identityID *int64) (bool, error) {
	items, _ := r.List(ctx, identityID)
	return len(items) > 0, nil
}
