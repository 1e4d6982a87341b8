// Package inmem holds in-process implementations of the gateway ports, used
// when no database is configured and in tests.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	gw "authgate/internal/gateway"
)

// IdentityStore is a map-backed IdentityLookup.
type IdentityStore struct {
	mu  sync.RWMutex
	ids map[string]uuid.UUID
}

var _ gw.IdentityLookup = (*IdentityStore)(nil)

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{ids: make(map[string]uuid.UUID)}
}

// Put records the internal id for externalID, replacing any previous one.
func (s *IdentityStore) Put(externalID string, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[externalID] = id
}

// Delete removes externalID.
func (s *IdentityStore) Delete(externalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, externalID)
}

func (s *IdentityStore) FindInternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[externalID]
	return id, ok, nil
}

// Ping always succeeds.
func (s *IdentityStore) Ping(context.Context) error {
	return nil
}
