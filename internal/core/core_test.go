package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/auth"
	"gwi.com/chat-ledger/internal/conversation"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
)

type fakeAgent struct {
	answer  string
	sources []conversation.Source
	err     error
	reqs    []AgentRequest
}

func (a *fakeAgent) RunAgent(_ context.Context, req AgentRequest) (string, []conversation.Source, error) {
	a.reqs = append(a.reqs, req)
	if a.err != nil {
		return "", nil, a.err
	}
	return a.answer, a.sources, nil
}

type fakeProber struct {
	err error
}

func (p *fakeProber) TestConnection(_ context.Context, target probe.Target) (*probe.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &probe.Result{OK: true, TableCount: 2, Tables: []string{"orders", "customers"}}, nil
}

type fakeReloader struct {
	n    int
	err  error
	dirs []string
}

func (r *fakeReloader) ReloadDocuments(_ context.Context, dir string) (int, error) {
	r.dirs = append(r.dirs, dir)
	return r.n, r.err
}

type failingStore struct {
	*store.SQLStore
	failPrediction bool
	failResult     bool
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) InsertPrediction(ctx context.Context, p *store.Prediction) error {
	if f.failPrediction {
		return fmt.Errorf("%w: failed to insert prediction: %w", apperr.ErrDbFailure, errDiskFull)
	}
	return f.SQLStore.InsertPrediction(ctx, p)
}

func (f *failingStore) InsertExecutionResult(ctx context.Context, r *store.ExecutionResult) error {
	if f.failResult {
		return fmt.Errorf("%w: failed to insert execution result: %w", apperr.ErrDbFailure, errDiskFull)
	}
	return f.SQLStore.InsertExecutionResult(ctx, r)
}

type testEnv struct {
	svc      *ChatService
	db       *store.SQLStore
	agent    *fakeAgent
	prober   *fakeProber
	reloader *fakeReloader
	docsDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(store.DriverSQLite, filepath.Join(dir, "core.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		agent:    &fakeAgent{answer: "42"},
		prober:   &fakeProber{},
		reloader: &fakeReloader{n: 3},
		docsDir:  filepath.Join(dir, "docs"),
	}
	env.svc = NewChatService(db, env.agent, env.reloader, env.prober, ChatServiceConfig{DocsDir: env.docsDir})
	return env
}

func (e *testEnv) signUp(t *testing.T, email string) *store.User {
	t.Helper()
	user, _, err := e.svc.SignUp(context.Background(), "Ada", email, "s3cret", auth.ClientMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	return user
}

func eventTypes(t *testing.T, db *store.SQLStore, userID int64) []string {
	t.Helper()
	events, err := db.ListSecurityEvents(context.Background(), userID)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.EventType)
	}
	return kinds
}

func TestSignUpSignInSignOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, session, err := env.svc.SignUp(ctx, "Ada", "ada@example.com", "s3cret", auth.ClientMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	id, err := env.svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
	assert.Len(t, env.svc.ListConversations(user.ID), 1)

	_, _, err = env.svc.SignUp(ctx, "Ada", "ada@example.com", "x", auth.ClientMeta{})
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)

	_, _, err = env.svc.SignIn(ctx, "ada@example.com", "wrong", auth.ClientMeta{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	signedIn, second, err := env.svc.SignIn(ctx, "ADA@example.com", "s3cret", auth.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)
	assert.NotEqual(t, session.Token, second.Token)

	env.svc.SignOut(ctx, user.ID, "127.0.0.1")

	assert.Equal(t, []string{
		auth.EventAccountCreated,
		auth.EventLoginFailed,
		auth.EventLoginSuccess,
		auth.EventLogout,
	}, eventTypes(t, env.db, user.ID))
}

func TestSendMessageRecordsFullChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")

	res, err := env.svc.SendMessage(ctx, user.ID, "", "What is machine learning about?")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Answer)
	assert.NotZero(t, res.PredictionID)

	it, err := env.svc.GetInteraction(ctx, user.ID, res.InputID)
	require.NoError(t, err)
	assert.Equal(t, store.InputText, it.Input.Type)
	assert.Equal(t, "What is machine learning about?", *it.Input.Text)
	require.NotNil(t, it.Prediction)
	assert.Equal(t, res.PredictionID, it.Prediction.ID)
	require.NotNil(t, it.Result)
	assert.True(t, it.Result.Success)
	assert.JSONEq(t, `{"result":"42"}`, it.Result.ResultJSON)

	conv := env.svc.ActiveConversation(user.ID)
	assert.Equal(t, res.ConversationID, conv.ID)
	assert.Equal(t, "Machine Learning", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, res.PredictionID, conv.Messages[1].PredictionID)

	_, err = env.svc.SendMessage(ctx, user.ID, "", "And deep learning?")
	require.NoError(t, err)
	require.Len(t, env.agent.reqs, 2)
	assert.Empty(t, env.agent.reqs[0].History)
	assert.Equal(t, []HistoryTurn{
		{Role: conversation.RoleUser, Content: "What is machine learning about?"},
		{Role: conversation.RoleBot, Content: "42"},
	}, env.agent.reqs[1].History)
	assert.Nil(t, env.agent.reqs[1].Target)
}

func TestSendMessageToNamedConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	first := env.svc.ActiveConversation(user.ID).ID
	env.svc.NewConversation(user.ID)

	res, err := env.svc.SendMessage(ctx, user.ID, first, "hello there")
	require.NoError(t, err)
	assert.Equal(t, first, res.ConversationID)
	assert.Equal(t, first, env.svc.ActiveConversation(user.ID).ID)

	_, err = env.svc.SendMessage(ctx, user.ID, "missing", "hello")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)
	user := env.signUp(t, "ada@example.com")

	_, err := env.svc.SendMessage(context.Background(), user.ID, "", "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Empty(t, env.svc.ActiveConversation(user.ID).Messages)
	assert.Empty(t, env.agent.reqs)
}

func TestSendMessageAgentFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	env.agent.err = errors.New("model unavailable")

	res, err := env.svc.SendMessage(ctx, user.ID, "", "Summarize sales")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, apologyAnswer, res.Answer)

	it, err := env.svc.GetInteraction(ctx, user.ID, res.InputID)
	require.NoError(t, err)
	require.NotNil(t, it.Result)
	assert.False(t, it.Result.Success)
	require.NotNil(t, it.Result.ErrorMessage)
	assert.Equal(t, "model unavailable", *it.Result.ErrorMessage)
}

func TestSendMessagePartialChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	env.svc.recorder = NewRecorder(&failingStore{SQLStore: env.db, failPrediction: true})

	res, err := env.svc.SendMessage(ctx, user.ID, "", "Summarize sales")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPartialChain)
	assert.ErrorIs(t, err, apperr.ErrDbFailure)
	var pce *apperr.PartialChainError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, apperr.StepPrediction, pce.Step)
	assert.Equal(t, res.InputID, pce.InputID)

	msgs := env.svc.ActiveConversation(user.ID).Messages
	require.Len(t, msgs, 2)
	assert.Zero(t, msgs[1].PredictionID)

	it, err := env.svc.GetInteraction(ctx, user.ID, res.InputID)
	require.NoError(t, err)
	assert.Nil(t, it.Prediction)
}

func TestSendMessageResultFailureKeepsPredictionID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	env.svc.recorder = NewRecorder(&failingStore{SQLStore: env.db, failResult: true})

	res, err := env.svc.SendMessage(ctx, user.ID, "", "Summarize sales")
	var pce *apperr.PartialChainError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, apperr.StepExecutionResult, pce.Step)
	assert.Equal(t, res.PredictionID, pce.PredictionID)

	msgs := env.svc.ActiveConversation(user.ID).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, res.PredictionID, msgs[1].PredictionID)
}

func TestConnectDatabasePassesTargetToAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	target := probe.Target{Host: "db.local", Port: 3306, User: "u", Password: "p", Database: "sales"}

	res, err := env.svc.ConnectDatabase(ctx, user.ID, target, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TableCount)

	_, err = env.svc.SendMessage(ctx, user.ID, "", "How many orders?")
	require.NoError(t, err)
	require.NotNil(t, env.agent.reqs[0].Target)
	assert.Equal(t, "sales", env.agent.reqs[0].Target.Database)

	env.svc.DisconnectDatabase(user.ID)
	_, ok := env.svc.ConnectedDatabase(user.ID)
	assert.False(t, ok)

	env.prober.err = fmt.Errorf("%w: refused", apperr.ErrConnectionFailed)
	_, err = env.svc.ConnectDatabase(ctx, user.ID, target, "")
	assert.ErrorIs(t, err, apperr.ErrConnectionFailed)
	_, ok = env.svc.ConnectedDatabase(user.ID)
	assert.False(t, ok)

	assert.Contains(t, eventTypes(t, env.db, user.ID), auth.EventDatabaseConnected)
}

func TestSubmitFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	other := env.signUp(t, "bob@example.com")

	res, err := env.svc.SendMessage(ctx, user.ID, "", "Summarize sales")
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.SubmitFeedback(ctx, user.ID, res.PredictionID, 0, ""), apperr.ErrInvalidRating)
	assert.ErrorIs(t, env.svc.SubmitFeedback(ctx, user.ID, res.PredictionID, 6, ""), apperr.ErrInvalidRating)
	require.NoError(t, env.svc.SubmitFeedback(ctx, user.ID, res.PredictionID, 1, ""))
	require.NoError(t, env.svc.SubmitFeedback(ctx, user.ID, res.PredictionID, 5, "great"))

	assert.ErrorIs(t, env.svc.SubmitFeedback(ctx, other.ID, res.PredictionID, 3, ""), apperr.ErrNotFound)
	assert.ErrorIs(t, env.svc.SubmitFeedback(ctx, user.ID, res.PredictionID+99, 3, ""), apperr.ErrNotFound)

	fb, err := env.db.ListFeedback(ctx, res.PredictionID)
	require.NoError(t, err)
	require.Len(t, fb, 2)
	assert.Nil(t, fb[0].Comment)
	assert.Equal(t, "great", *fb[1].Comment)
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")

	res, err := env.svc.UploadDocument(ctx, user.ID, "notes.txt", []byte("Revenue grew in Q3."))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.docsDir, "notes.txt"), res.Path)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 3, res.Chunks)
	assert.Empty(t, res.ReloadError)
	assert.Equal(t, []string{env.docsDir}, env.reloader.dirs)

	it, err := env.svc.GetInteraction(ctx, user.ID, res.InputID)
	require.NoError(t, err)
	assert.Equal(t, store.InputFile, it.Input.Type)
	assert.Equal(t, res.Path, *it.Input.FilePath)
	require.Len(t, it.Documents, 1)
	assert.Equal(t, "Revenue grew in Q3.", it.Documents[0].Content)

	env.reloader.err = errors.New("embedding quota exceeded")
	res, err = env.svc.UploadDocument(ctx, user.ID, "more.txt", []byte("More text."))
	require.NoError(t, err)
	assert.Equal(t, "embedding quota exceeded", res.ReloadError)

	_, err = env.svc.UploadDocument(ctx, user.ID, "", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestGetInteractionOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	other := env.signUp(t, "bob@example.com")

	res, err := env.svc.SendMessage(ctx, user.ID, "", "Summarize sales")
	require.NoError(t, err)

	_, err = env.svc.GetInteraction(ctx, other.ID, res.InputID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = env.svc.GetInteraction(ctx, user.ID, res.InputID+99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConversationOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")

	_, err := env.svc.SendMessage(ctx, user.ID, "", "hi")
	require.NoError(t, err)
	first := env.svc.ActiveConversation(user.ID).ID

	name, text, err := env.svc.ExportConversation(user.ID, first)
	require.NoError(t, err)
	assert.Equal(t, "New Chat.txt", name)
	assert.Equal(t, "You: hi\nBot: 42", text)

	second := env.svc.NewConversation(user.ID)
	require.NoError(t, env.svc.RenameConversation(user.ID, second.ID, "  Budget  "))
	opened, err := env.svc.OpenConversation(user.ID, first)
	require.NoError(t, err)
	assert.Len(t, opened.Messages, 2)

	require.NoError(t, env.svc.DeleteConversation(user.ID, first))
	list := env.svc.ListConversations(user.ID)
	require.Len(t, list, 2)
	assert.Equal(t, "Budget", list[0].Title)

	fresh := env.svc.ClearHistory(user.ID)
	list = env.svc.ListConversations(user.ID)
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, conversation.DefaultTitle, fresh.Title)
}

func TestRecorderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "ada@example.com")
	r := NewRecorder(env.db)

	_, err := r.RecordInput(ctx, user.ID, store.InputText, "q", "/tmp/a")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = r.RecordInput(ctx, user.ID, store.InputText, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = r.RecordInput(ctx, user.ID, store.InputFile, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = r.RecordInput(ctx, user.ID, "audio", "q", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	inputID, err := r.RecordInput(ctx, user.ID, store.InputText, "q", "")
	require.NoError(t, err)
	predID, err := r.RecordPrediction(ctx, inputID, "a")
	require.NoError(t, err)

	err = r.RecordExecutionResult(ctx, predID, `{}`, time.Second, false, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.NoError(t, r.RecordExecutionResult(ctx, predID, `{"result":"a"}`, time.Second, true, ""))

	assert.ErrorIs(t, r.RecordFeedback(ctx, predID, 0, ""), apperr.ErrInvalidRating)
	assert.ErrorIs(t, r.RecordFeedback(ctx, predID, 6, ""), apperr.ErrInvalidRating)
	assert.NoError(t, r.RecordFeedback(ctx, predID, 1, ""))
	assert.NoError(t, r.RecordFeedback(ctx, predID, 5, ""))
}
