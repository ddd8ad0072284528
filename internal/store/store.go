// Package store keeps the ordered collection of conversations and persists it.
//
// The collection (newest first) and the selected conversation id form one unit
// of persistence. Every mutation builds a new snapshot, swaps it in under the
// store mutex and flushes it synchronously, so a reader always observes its
// own writes.
package store

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"researchshell/internal/logger"
	"researchshell/internal/testutils"
	"researchshell/pkg/researchtypes"
)

// titleLength is how many characters of the first question become the title.
const titleLength = 30

// Option configures a Store.
type Option func(*Store)

// WithTestMode makes generated IDs and timestamps deterministic.
func WithTestMode(p researchtypes.TestModeProvider) Option {
	return func(s *Store) {
		s.testMode = p
	}
}

// Store is the conversation collection.
type Store struct {
	mu            sync.RWMutex
	conversations []researchtypes.Conversation // Newest first; never mutated in place
	selectedID    string

	persister Persister
	testMode  researchtypes.TestModeProvider
	logger    *log.Logger
}

// Open loads persisted state. An empty collection gets a fresh conversation,
// and a missing or stale selection falls back to the newest conversation.
func Open(persister Persister, opts ...Option) (*Store, error) {
	s := &Store{
		persister: persister,
		logger:    logger.NewStyledLogger("Store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory state with what is persisted. It is also the
// storage-sync callback used when another process changes the files. The read
// happens under the store mutex so no local mutation can land between the
// read and the swap.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	convs := make([]researchtypes.Conversation, 0, len(state.Conversations))
	for _, conv := range state.Conversations {
		if conv.ID == "" {
			continue
		}
		if conv.Messages == nil {
			conv.Messages = []researchtypes.Message{}
		}
		convs = append(convs, conv)
	}
	s.conversations = convs
	s.selectedID = state.SelectedID

	if len(s.conversations) == 0 {
		s.conversations = []researchtypes.Conversation{s.newConversation()}
		s.selectedID = s.conversations[0].ID
		logger.StoreOperation("create", s.selectedID, "reason", "empty collection")
		return s.flushLocked("create")
	}

	if s.indexLocked(s.selectedID) < 0 {
		s.selectedID = s.conversations[0].ID
	}
	return nil
}

// Create prepends a new empty conversation and selects it.
func (s *Store) Create() (researchtypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.newConversation()
	next := make([]researchtypes.Conversation, 0, len(s.conversations)+1)
	next = append(next, conv)
	next = append(next, s.conversations...)

	s.conversations = next
	s.selectedID = conv.ID
	logger.StoreOperation("create", conv.ID)
	return conv.Clone(), s.flushLocked("create")
}

// Select makes id the selected conversation.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return notFound("select", id)
	}
	s.selectedID = id
	return s.flushLocked("select")
}

// SelectedID returns the id of the selected conversation.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// Selected returns a copy of the selected conversation.
func (s *Store) Selected() (researchtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked("selected", s.selectedID)
}

// Get returns a copy of a conversation.
func (s *Store) Get(id string) (researchtypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked("get", id)
}

// List returns copies of all conversations, newest first.
func (s *Store) List() []researchtypes.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]researchtypes.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = conv.Clone()
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// AppendUserMessage appends a question to an open conversation. It fails with
// a StateError, leaving the log untouched, when the conversation does not
// exist or is already completed. The first question also fixes the title.
func (s *Store) AppendUserMessage(id, text string) (researchtypes.Message, error) {
	const op = "append user message"

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return researchtypes.Message{}, notFound(op, id)
	}
	if s.conversations[idx].Completed {
		return researchtypes.Message{}, researchtypes.NewStateError(op, id,
			"conversation is completed; start a new question", nil)
	}

	now := testutils.GetCurrentTime(s.testMode)
	msg := researchtypes.Message{
		ID:        testutils.GenerateUUID(s.testMode),
		Kind:      researchtypes.MessageKindUser,
		Text:      text,
		Timestamp: now,
	}

	conv := s.withMessageLocked(idx, msg)
	if !hasUserMessage(s.conversations[idx]) {
		conv.Title = DeriveTitle(text)
	}
	conv.UpdatedAt = now
	s.replaceLocked(idx, conv)

	logger.StoreOperation("append_user", id, "messages", len(conv.Messages))
	return msg.Clone(), s.flushLocked(op)
}

// AppendBotMessage appends the terminal bot message and closes the conversation.
// It implements researchtypes.ConversationSink.
func (s *Store) AppendBotMessage(id string, msg researchtypes.Message) error {
	const op = "append bot message"

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return notFound(op, id)
	}
	if s.conversations[idx].Completed {
		return researchtypes.NewStateError(op, id, "conversation is already completed", nil)
	}

	msg = msg.Clone()
	msg.Kind = researchtypes.MessageKindBot
	if msg.ID == "" {
		msg.ID = testutils.GenerateUUID(s.testMode)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = testutils.GetCurrentTime(s.testMode)
	}

	conv := s.withMessageLocked(idx, msg)
	conv.Completed = true
	conv.UpdatedAt = msg.Timestamp
	s.replaceLocked(idx, conv)

	logger.StoreOperation("append_bot", id, "messages", len(conv.Messages))
	return s.flushLocked(op)
}

// Delete removes a conversation. When it was selected, selection falls back to
// the most recent remaining conversation, or to a freshly created one when
// none remain. Confirmation is the caller's responsibility.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return notFound("delete", id)
	}

	next := make([]researchtypes.Conversation, 0, len(s.conversations))
	next = append(next, s.conversations[:idx]...)
	next = append(next, s.conversations[idx+1:]...)

	if len(next) == 0 {
		next = append(next, s.newConversation())
		s.selectedID = next[0].ID
		logger.StoreOperation("create", s.selectedID, "reason", "last conversation deleted")
	} else if s.selectedID == id {
		s.selectedID = next[0].ID
	}
	s.conversations = next

	logger.StoreOperation("delete", id, "remaining", len(next))
	return s.flushLocked("delete")
}

// DeriveTitle builds a conversation title from its first question.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > titleLength {
		runes := []rune(text)
		text = string(runes[:titleLength])
	}
	return text + "..."
}

func (s *Store) newConversation() researchtypes.Conversation {
	now := testutils.GetCurrentTime(s.testMode)
	return researchtypes.Conversation{
		ID:        testutils.GenerateUUID(s.testMode),
		Title:     researchtypes.DefaultConversationTitle,
		Messages:  []researchtypes.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, conv := range s.conversations {
		if conv.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) getLocked(op, id string) (researchtypes.Conversation, error) {
	idx := s.indexLocked(id)
	if idx < 0 {
		return researchtypes.Conversation{}, notFound(op, id)
	}
	return s.conversations[idx].Clone(), nil
}

// withMessageLocked returns a copy of conversation idx with msg appended,
// leaving the current snapshot untouched.
func (s *Store) withMessageLocked(idx int, msg researchtypes.Message) researchtypes.Conversation {
	conv := s.conversations[idx]
	messages := make([]researchtypes.Message, 0, len(conv.Messages)+1)
	messages = append(messages, conv.Messages...)
	conv.Messages = append(messages, msg)
	return conv
}

// replaceLocked swaps in a new collection with conversation idx replaced.
func (s *Store) replaceLocked(idx int, conv researchtypes.Conversation) {
	next := make([]researchtypes.Conversation, len(s.conversations))
	copy(next, s.conversations)
	next[idx] = conv
	s.conversations = next
}

func (s *Store) flushLocked(op string) error {
	err := s.persister.Save(State{
		Conversations: s.conversations,
		SelectedID:    s.selectedID,
	})
	if err != nil {
		s.logger.Error("Failed to persist conversations", "operation", op, "error", err)
		return fmt.Errorf("%s: %w: %w", op, researchtypes.ErrPersistence, err)
	}
	return nil
}

func hasUserMessage(conv researchtypes.Conversation) bool {
	for _, msg := range conv.Messages {
		if msg.Kind == researchtypes.MessageKindUser {
			return true
		}
	}
	return false
}

func notFound(op, id string) error {
	return researchtypes.NewStateError(op, id, "conversation does not exist", researchtypes.ErrNotFound)
}
