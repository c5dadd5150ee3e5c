package store

import (
	"context"
	"sync"
)

// Favorites answers whether a user has favorited an event.
type Favorites interface {
	IsFavorite(ctx context.Context, userID string, eventID int64) bool
}

// MemoryFavorites keeps favorites per user in process memory.
type MemoryFavorites struct {
	mu  sync.RWMutex
	set map[string]map[int64]struct{}
}

func NewMemoryFavorites() *MemoryFavorites {
	return &MemoryFavorites{set: make(map[string]map[int64]struct{})}
}

func (f *MemoryFavorites) IsFavorite(_ context.Context, userID string, eventID int64) bool {
	if userID == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[userID][eventID]
	return ok
}

// Toggle flips the favorite flag and returns the new state.
func (f *MemoryFavorites) Toggle(_ context.Context, userID string, eventID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, ok := f.set[userID]
	if !ok {
		ids = make(map[int64]struct{})
		f.set[userID] = ids
	}
	if _, fav := ids[eventID]; fav {
		delete(ids, eventID)
		return false
	}
	ids[eventID] = struct{}{}
	return true
}
