package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"roastchat/internal/id"
	"roastchat/internal/models"
	"roastchat/internal/storage"
)

const (
	// DefaultTitle is shown until the first user message names the conversation.
	DefaultTitle = "New Chat"

	conversationsKey = "conversations"
	titleLimit       = 50
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrEmptyTitle  = errors.New("title cannot be empty")
	ErrInvalidRole = errors.New("invalid message role")
)

// MessagesKey is the key-value entry holding one conversation's message log.
func MessagesKey(conversationID string) string {
	return "conversation_" + conversationID + "_messages"
}

// Store keeps the ordered conversation list and the per-conversation message
// logs in memory and writes both through to a key-value store on every
// mutation.
type Store struct {
	kv    storage.KeyValue
	newID func() string
	now   func() time.Time

	mu            sync.RWMutex
	conversations []models.Conversation // most recently created first
	messages      map[string][]models.Message
	current       string
}

type Option func(*Store)

// WithIDFunc replaces the snowflake id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock replaces time.Now for createdAt stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// Open builds a store and eagerly loads every persisted conversation and
// message log. The front conversation, if any, becomes current.
func Open(ctx context.Context, kv storage.KeyValue, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("key-value store is required")
	}
	s := &Store{
		kv:       kv,
		newID:    id.New,
		now:      time.Now,
		messages: make(map[string][]models.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, conversationsKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load conversations: %w", err)
	}
	var list []models.Conversation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return fmt.Errorf("decode conversations: %w", err)
	}
	for _, c := range list {
		if c.ID == "" {
			continue
		}
		if _, dup := s.messages[c.ID]; dup {
			continue
		}
		log, err := s.loadMessages(ctx, c.ID)
		if err != nil {
			return err
		}
		s.conversations = append(s.conversations, c)
		s.messages[c.ID] = log
	}
	if len(s.conversations) > 0 {
		s.current = s.conversations[0].ID
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	raw, err := s.kv.Get(ctx, MessagesKey(conversationID))
	if err != nil {
		// a listed conversation without a stored log is simply empty
		if errors.Is(err, storage.ErrNotFound) {
			return []models.Message{}, nil
		}
		return nil, fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	var log []models.Message
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", conversationID, err)
	}
	if log == nil {
		log = []models.Message{}
	}
	return log, nil
}

// CreateConversation inserts a new conversation at the front, marks it
// current and persists.
func (s *Store) CreateConversation(ctx context.Context) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	c := s.createLocked()
	if err := s.commitLocked(ctx, snap); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

func (s *Store) createLocked() models.Conversation {
	convID := s.newID()
	for {
		if _, taken := s.messages[convID]; !taken {
			break
		}
		convID = s.newID()
	}
	c := models.Conversation{
		ID:        convID,
		Title:     DefaultTitle,
		CreatedAt: s.now().UTC(),
	}
	s.conversations = append([]models.Conversation{c}, s.conversations...)
	s.messages[c.ID] = []models.Message{}
	s.current = c.ID
	return c
}

// EnsureCurrent returns the current conversation, creating one when the store
// is empty.
func (s *Store) EnsureCurrent(ctx context.Context) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(s.current); idx >= 0 {
		return s.conversations[idx], nil
	}
	snap := s.snapshotLocked()
	c := s.createLocked()
	if err := s.commitLocked(ctx, snap); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// SelectConversation makes id the current conversation.
func (s *Store) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return ErrNotFound
	}
	s.current = id
	return nil
}

// Current returns the current conversation; ok is false before the first one
// exists.
func (s *Store) Current() (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return models.Conversation{}, false
	}
	return s.conversations[idx], true
}

// DeleteConversation removes a conversation and its log. When it was current
// the new front becomes current, or a fresh conversation is created if none
// remain.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	snap := s.snapshotLocked()
	s.conversations = append(s.conversations[:idx:idx], s.conversations[idx+1:]...)
	delete(s.messages, id)

	if s.current == id {
		if len(s.conversations) > 0 {
			s.current = s.conversations[0].ID
		} else {
			s.createLocked()
		}
	}
	if err := s.commitLocked(ctx, snap); err != nil {
		return err
	}
	// the list no longer names id, so a leftover log is unreachable
	if err := s.kv.Del(ctx, MessagesKey(id)); err != nil {
		return fmt.Errorf("delete messages for %s: %w", id, err)
	}
	return nil
}

// AppendMessage adds a message to the end of a conversation's log. When the
// log holds no user message yet, a user message also sets the title; assistant
// messages never do. The updated conversation is returned.
func (s *Store) AppendMessage(ctx context.Context, id string, role models.Role, content string) (models.Conversation, error) {
	if !role.Valid() {
		return models.Conversation{}, ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Conversation{}, ErrNotFound
	}
	snap := s.snapshotLocked()
	log := s.messages[id]
	if role == models.RoleUser && !hasUserMessage(log) {
		s.conversations[idx].Title = DeriveTitle(content)
	}
	s.messages[id] = append(log[:len(log):len(log)], models.Message{Role: role, Content: content})
	if err := s.commitLocked(ctx, snap); err != nil {
		return models.Conversation{}, err
	}
	return s.conversations[idx], nil
}

// RenameConversation overwrites the title.
func (s *Store) RenameConversation(ctx context.Context, id, title string) (models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Conversation{}, ErrEmptyTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Conversation{}, ErrNotFound
	}
	snap := s.snapshotLocked()
	s.conversations[idx].Title = title
	if err := s.commitLocked(ctx, snap); err != nil {
		return models.Conversation{}, err
	}
	return s.conversations[idx], nil
}

// ListConversations returns a copy of the ordered conversation list.
func (s *Store) ListConversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// GetMessages returns a copy of a conversation's log in append order.
func (s *Store) GetMessages(id string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Message, len(log))
	copy(out, log)
	return out, nil
}

// DeriveTitle keeps up to 50 characters of the message, marking a cut with "...".
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}

func hasUserMessage(log []models.Message) bool {
	for _, m := range log {
		if m.Role == models.RoleUser {
			return true
		}
	}
	return false
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

type snapshot struct {
	conversations []models.Conversation
	messages      map[string][]models.Message
	current       string
}

// snapshotLocked captures the in-memory state. Logs are shared, so mutators
// must replace a log slice rather than write into its backing array.
func (s *Store) snapshotLocked() snapshot {
	convs := make([]models.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	msgs := make(map[string][]models.Message, len(s.messages))
	for k, v := range s.messages {
		msgs[k] = v
	}
	return snapshot{conversations: convs, messages: msgs, current: s.current}
}

// commitLocked persists the mutated state, restoring snap when the write
// fails so memory never runs ahead of the store.
func (s *Store) commitLocked(ctx context.Context, snap snapshot) error {
	if err := s.persistLocked(ctx); err != nil {
		s.conversations = snap.conversations
		s.messages = snap.messages
		s.current = snap.current
		return err
	}
	return nil
}

// persistLocked writes the full list and every in-memory log.
func (s *Store) persistLocked(ctx context.Context) error {
	list := s.conversations
	if list == nil {
		list = []models.Conversation{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}
	if err := s.kv.Set(ctx, conversationsKey, string(data)); err != nil {
		return fmt.Errorf("persist conversations: %w", err)
	}
	for convID, log := range s.messages {
		data, err := json.Marshal(log)
		if err != nil {
			return fmt.Errorf("encode messages for %s: %w", convID, err)
		}
		if err := s.kv.Set(ctx, MessagesKey(convID), string(data)); err != nil {
			return fmt.Errorf("persist messages for %s: %w", convID, err)
		}
	}
	return nil
}
