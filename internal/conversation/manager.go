// Package conversation keeps the transient per-user chat state: conversations,
// their transcripts, the active selection and the connected database target.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/probe"
)

// UserState holds one signed-in user's conversations. The active
// conversation always exists once the state has been opened.
type UserState struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	order         []string
	activeID      string
	target        *probe.Target
}

func newUserState() *UserState {
	return &UserState{conversations: make(map[string]*Conversation)}
}

// Manager is the session store of UserState keyed by user id. Turn locks are
// kept apart from the states so they outlive a sign-out.
type Manager struct {
	mu    sync.RWMutex
	users map[int64]*UserState
	turns map[int64]*sync.Mutex
	now   func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		users: make(map[int64]*UserState),
		turns: make(map[int64]*sync.Mutex),
		now:   time.Now,
	}
}

func (m *Manager) GetOrCreateUserState(userID int64) *UserState {
	m.mu.RLock()
	st, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.users[userID]; !ok {
		st = newUserState()
		m.users[userID] = st
	}
	return st
}

// Open prepares the state at sign-in and returns the active conversation id.
func (m *Manager) Open(userID int64) string {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.ensureActive(st)
}

// Close drops everything held for the user, including the database target.
func (m *Manager) Close(userID int64) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
	logrus.WithField("user_id", userID).Debug("Conversation state closed")
}

// LockTurn serializes a user's chat turns and returns the unlock function.
// Reads of the state are not blocked while a turn is in flight, and a turn
// still holds the lock if the user signs out and back in meanwhile.
func (m *Manager) LockTurn(userID int64) func() {
	m.mu.Lock()
	mu, ok := m.turns[userID]
	if !ok {
		mu = &sync.Mutex{}
		m.turns[userID] = mu
	}
	m.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// StartConversation creates a conversation, titled from firstMessage, and
// makes it active.
func (m *Manager) StartConversation(userID int64, firstMessage string) string {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.start(st, GenerateTitle(firstMessage))
}

// EnsureActive returns the active conversation id, starting one if needed.
func (m *Manager) EnsureActive(userID int64) string {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.ensureActive(st)
}

// AppendMessage adds msg to a conversation. The first user message of an
// empty conversation also sets its title.
func (m *Manager) AppendMessage(userID int64, conversationID string, msg Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, msg.Role)
	}
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	conv, ok := st.conversations[conversationID]
	if !ok {
		return apperr.ErrNotFound
	}
	if len(conv.Messages) == 0 && msg.Role == RoleUser {
		conv.Title = GenerateTitle(msg.Content)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (m *Manager) RenameConversation(userID int64, conversationID, title string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	conv, ok := st.conversations[conversationID]
	if !ok {
		return apperr.ErrNotFound
	}
	conv.Title = title
	return nil
}

// DeleteConversation removes a conversation. Deleting the active one starts a
// fresh replacement, so the user is never left without a conversation.
func (m *Manager) DeleteConversation(userID int64, conversationID string) error {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.conversations[conversationID]; !ok {
		return apperr.ErrNotFound
	}
	delete(st.conversations, conversationID)
	for i, id := range st.order {
		if id == conversationID {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	if st.activeID == conversationID {
		st.activeID = ""
		m.start(st, DefaultTitle)
	}
	return nil
}

// ClearConversations drops every conversation and starts a new one.
func (m *Manager) ClearConversations(userID int64) string {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.conversations = make(map[string]*Conversation)
	st.order = nil
	st.activeID = ""
	return m.start(st, DefaultTitle)
}

func (m *Manager) SetActive(userID int64, conversationID string) error {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.conversations[conversationID]; !ok {
		return apperr.ErrNotFound
	}
	st.activeID = conversationID
	return nil
}

// Active returns a copy of the active conversation, starting one if needed.
func (m *Manager) Active(userID int64) Conversation {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conversations[m.ensureActive(st)].clone()
}

// List returns summaries in creation order.
func (m *Manager) List(userID int64) []Summary {
	st := m.GetOrCreateUserState(userID)
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]Summary, 0, len(st.order))
	for _, id := range st.order {
		c := st.conversations[id]
		out = append(out, Summary{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: len(c.Messages),
			CreatedAt:    c.CreatedAt,
			Active:       id == st.activeID,
		})
	}
	return out
}

// Get returns a copy of one conversation.
func (m *Manager) Get(userID int64, conversationID string) (Conversation, error) {
	st := m.GetOrCreateUserState(userID)
	st.mu.RLock()
	defer st.mu.RUnlock()

	c, ok := st.conversations[conversationID]
	if !ok {
		return Conversation{}, apperr.ErrNotFound
	}
	return c.clone(), nil
}

// Export renders a conversation as a plain-text transcript and names the
// download after its title.
func (m *Manager) Export(userID int64, conversationID string) (filename, text string, err error) {
	c, err := m.Get(userID, conversationID)
	if err != nil {
		return "", "", err
	}
	return ExportFileName(c.Title), ExportTranscript(c.Messages), nil
}

// SetTarget remembers the database the user connected to for this session.
func (m *Manager) SetTarget(userID int64, target probe.Target) {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	st.target = &target
	st.mu.Unlock()
}

func (m *Manager) Target(userID int64) (probe.Target, bool) {
	st := m.GetOrCreateUserState(userID)
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.target == nil {
		return probe.Target{}, false
	}
	return *st.target, true
}

func (m *Manager) ClearTarget(userID int64) {
	st := m.GetOrCreateUserState(userID)
	st.mu.Lock()
	st.target = nil
	st.mu.Unlock()
}

// start must be called with st.mu held.
func (m *Manager) start(st *UserState, title string) string {
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: m.now().UTC(),
	}
	st.conversations[conv.ID] = conv
	st.order = append(st.order, conv.ID)
	st.activeID = conv.ID
	return conv.ID
}

// ensureActive must be called with st.mu held.
func (m *Manager) ensureActive(st *UserState) string {
	if _, ok := st.conversations[st.activeID]; ok {
		return st.activeID
	}
	return m.start(st, DefaultTitle)
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
