package telegram

import (
	"context"
	"sort"
	"sync"
)

// LinkStore maps Telegram chats to actor identities.
type LinkStore interface {
	// Actor returns the actor linked to chatID.
	Actor(ctx context.Context, chatID string) (string, bool, error)
	// Chats returns the chats linked to actor.
	Chats(ctx context.Context, actor string) ([]string, error)
}

// Links is an in-memory LinkStore.
type Links struct {
	mux    sync.RWMutex
	actors map[string]string
}

// NewLinks creates an empty link store.
func NewLinks() *Links {
	return &Links{actors: map[string]string{}}
}

// Link binds chatID to actor, replacing an earlier binding of the chat.
func (l *Links) Link(chatID, actor string) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.actors[chatID] = actor
}

// Unlink removes the binding of chatID.
func (l *Links) Unlink(chatID string) {
	l.mux.Lock()
	defer l.mux.Unlock()
	delete(l.actors, chatID)
}

// Actor implements LinkStore.
func (l *Links) Actor(_ context.Context, chatID string) (string, bool, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	actor, ok := l.actors[chatID]
	return actor, ok, nil
}

// Chats implements LinkStore.
func (l *Links) Chats(_ context.Context, actor string) ([]string, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	var chats []string
	for chat, linked := range l.actors {
		if linked == actor {
			chats = append(chats, chat)
		}
	}
	sort.Strings(chats)
	return chats, nil
}
