package assistant

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"pdfchat/internal/models"
	"pdfchat/internal/service/ai"
)

type registryEntry struct {
	session *models.Session
	chat    ai.Chat
}

// Registry maps a user to the single document conversation they have open.
type Registry struct {
	items *cache.Cache
	idle  time.Duration
}

// NewRegistry builds a registry. A positive idle duration drops sessions that
// have not been used for that long; zero keeps them until reset.
func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		return &Registry{items: cache.New(cache.NoExpiration, 0)}
	}
	cleanup := idle / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Registry{items: cache.New(idle, cleanup), idle: idle}
}

func registryKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Put stores the session, replacing whatever the user had before.
func (r *Registry) Put(session *models.Session, chat ai.Chat) {
	r.items.Set(registryKey(session.UserID), &registryEntry{session: session, chat: chat}, cache.DefaultExpiration)
}

// Get returns the user's session and refreshes its idle timer.
func (r *Registry) Get(userID int64) (*models.Session, ai.Chat, bool) {
	key := registryKey(userID)
	v, ok := r.items.Get(key)
	if !ok {
		return nil, nil, false
	}
	entry := v.(*registryEntry)
	if r.idle > 0 {
		r.items.Set(key, entry, cache.DefaultExpiration)
	}
	return entry.session, entry.chat, true
}

// Delete removes the user's session and returns it, if any.
func (r *Registry) Delete(userID int64) (*models.Session, bool) {
	key := registryKey(userID)
	v, ok := r.items.Get(key)
	r.items.Delete(key)
	if !ok {
		return nil, false
	}
	return v.(*registryEntry).session, true
}

// Len counts live sessions.
func (r *Registry) Len() int {
	return r.items.ItemCount()
}
