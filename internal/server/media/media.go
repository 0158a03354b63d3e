// Package media stores binary attachments (avatars and photos) behind a
// small key/value interface. The production backend is S3 compatible
// object storage; an in-memory backend serves tests and demos.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/google/uuid"
)

type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	// URL returns a link peers and browsers can fetch the object from.
	URL(ctx context.Context, key string) (string, error)
}

// NewKey returns a fresh storage key under prefix, bucketed by date.
func NewKey(prefix string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("%s/%d/%d/%d/%v", prefix, d.Year(), d.Month(), d.Day(), uuid.New())
}

type object struct {
	contentType string
	body        []byte
}

// MemoryStore keeps objects in a map and serves them under BaseURL.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{objects: map[string]object{}, baseURL: baseURL}
}

func (m *MemoryStore) Put(_ context.Context, key, contentType string, body []byte) error {
	b := make([]byte, len(body))
	copy(b, body)
	m.mu.Lock()
	m.objects[key] = object{contentType: contentType, body: b}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, "", common.ErrorNotFound
	}
	return o.body, o.contentType, nil
}

func (m *MemoryStore) URL(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", common.ErrorNotFound
	}
	return m.baseURL + "media/" + key, nil
}
