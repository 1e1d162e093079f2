package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/auth"
	"gwi.com/chat-ledger/internal/conversation"
	"gwi.com/chat-ledger/internal/ingest"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
)

const apologyAnswer = "I'm sorry, I encountered an error while processing your request."

type ConnectionTester interface {
	TestConnection(ctx context.Context, target probe.Target) (*probe.Result, error)
}

// ChatService drives a user's session: sign-in, chat turns, uploads, feedback
// and the connected database.
type ChatService struct {
	credentials *auth.Credentials
	ledger      *auth.Ledger
	recorder    *Recorder
	sessions    *conversation.Manager
	agent       Agent
	reloader    DocumentReloader
	prober      ConnectionTester
	docsDir     string
	now         func() time.Time
}

type ChatServiceConfig struct {
	DocsDir    string
	SessionTTL time.Duration
}

// NewChatService wires the service over the application store. reloader may
// be nil, in which case uploads are recorded but not indexed.
func NewChatService(db *store.SQLStore, agent Agent, reloader DocumentReloader, prober ConnectionTester, cfg ChatServiceConfig) *ChatService {
	ledger := auth.NewLedger(db, cfg.SessionTTL)
	return &ChatService{
		credentials: auth.NewCredentials(db, ledger),
		ledger:      ledger,
		recorder:    NewRecorder(db),
		sessions:    conversation.NewManager(),
		agent:       agent,
		reloader:    reloader,
		prober:      prober,
		docsDir:     cfg.DocsDir,
		now:         time.Now,
	}
}

// SignUp creates the account and signs the new user straight in.
func (s *ChatService) SignUp(ctx context.Context, name, email, password string, meta auth.ClientMeta) (*store.User, *store.Session, error) {
	user, err := s.credentials.CreateUser(ctx, name, email, password, meta.IP)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.ledger.IssueSession(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	s.sessions.Open(user.ID)
	return user, session, nil
}

func (s *ChatService) SignIn(ctx context.Context, email, password string, meta auth.ClientMeta) (*store.User, *store.Session, error) {
	user, err := s.credentials.Authenticate(ctx, email, password, meta.IP)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.ledger.Login(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	s.sessions.Open(user.ID)
	return user, session, nil
}

// SignOut drops the user's in-memory state. The session token itself stays
// valid until it expires.
func (s *ChatService) SignOut(ctx context.Context, userID int64, ip string) {
	s.sessions.Close(userID)
	s.ledger.LogSecurityEvent(ctx, userID, auth.EventLogout, "User logged out", ip)
}

// Authenticate resolves a bearer token to a user id.
func (s *ChatService) Authenticate(ctx context.Context, token string) (int64, error) {
	return s.ledger.Validate(ctx, token)
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	ConversationID string                `json:"conversation_id"`
	InputID        int64                 `json:"input_id"`
	PredictionID   int64                 `json:"prediction_id,omitempty"`
	Answer         string                `json:"answer"`
	Sources        []conversation.Source `json:"sources,omitempty"`
	Success        bool                  `json:"success"`
}

type resultPayload struct {
	Result string `json:"result"`
}

// SendMessage runs one turn in conversationID, or in the active conversation
// when it is empty. If the chain breaks after the input was stored, the result
// is returned together with a *apperr.PartialChainError.
func (s *ChatService) SendMessage(ctx context.Context, userID int64, conversationID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", apperr.ErrInvalidInput)
	}

	unlock := s.sessions.LockTurn(userID)
	defer unlock()

	if conversationID != "" {
		if err := s.sessions.SetActive(userID, conversationID); err != nil {
			return nil, err
		}
	} else {
		conversationID = s.sessions.EnsureActive(userID)
	}
	conv, err := s.sessions.Get(userID, conversationID)
	if err != nil {
		return nil, err
	}

	inputID, err := s.recorder.RecordInput(ctx, userID, store.InputText, text, "")
	if err != nil {
		return nil, err
	}
	if err := s.sessions.AppendMessage(userID, conversationID, conversation.Message{
		Role:    conversation.RoleUser,
		Content: text,
	}); err != nil {
		return nil, err
	}

	req := AgentRequest{Message: text, History: historyOf(conv.Messages)}
	if target, ok := s.sessions.Target(userID); ok {
		req.Target = &target
	}

	log := logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"input_id": inputID,
	})

	start := s.now()
	answer, sources, agentErr := s.agent.RunAgent(ctx, req)
	elapsed := s.now().Sub(start)

	result := &TurnResult{
		ConversationID: conversationID,
		InputID:        inputID,
		Answer:         answer,
		Sources:        sources,
		Success:        agentErr == nil,
	}
	var errMsg string
	if agentErr != nil {
		log.WithError(agentErr).Error("Agent failed to answer")
		errMsg = agentErr.Error()
		result.Answer = apologyAnswer
		result.Sources = nil
	}

	predictionID, err := s.recorder.RecordPrediction(ctx, inputID, result.Answer)
	if err != nil {
		s.appendBot(userID, conversationID, result)
		return result, &apperr.PartialChainError{Step: apperr.StepPrediction, InputID: inputID, Err: err}
	}
	result.PredictionID = predictionID

	payload, _ := json.Marshal(resultPayload{Result: result.Answer})
	if err := s.recorder.RecordExecutionResult(ctx, predictionID, string(payload), elapsed, result.Success, errMsg); err != nil {
		s.appendBot(userID, conversationID, result)
		return result, &apperr.PartialChainError{Step: apperr.StepExecutionResult, InputID: inputID, PredictionID: predictionID, Err: err}
	}

	s.appendBot(userID, conversationID, result)
	log.WithFields(logrus.Fields{
		"prediction_id": predictionID,
		"elapsed":       elapsed,
		"success":       result.Success,
	}).Info("Chat turn recorded")
	return result, nil
}

func (s *ChatService) appendBot(userID int64, conversationID string, r *TurnResult) {
	err := s.sessions.AppendMessage(userID, conversationID, conversation.Message{
		Role:         conversation.RoleBot,
		Content:      r.Answer,
		Sources:      r.Sources,
		PredictionID: r.PredictionID,
	})
	if err != nil {
		// The conversation was deleted while the agent was running.
		logrus.WithError(err).WithField("conversation_id", conversationID).Warn("Could not append bot message")
	}
}

func historyOf(messages []conversation.Message) []HistoryTurn {
	history := make([]HistoryTurn, 0, len(messages))
	for _, m := range messages {
		history = append(history, HistoryTurn{Role: m.Role, Content: m.Content})
	}
	return history
}

type UploadResult struct {
	InputID     int64       `json:"input_id"`
	Path        string      `json:"path"`
	Kind        ingest.Kind `json:"kind"`
	Documents   int         `json:"documents"`
	Chunks      int         `json:"chunks"`
	ReloadError string      `json:"reload_error,omitempty"`
}

// UploadDocument stores the file, records it as a file input with its
// extracted documents and then rebuilds the retrieval index. A failed reload
// is reported in the result and does not fail the upload.
func (s *ChatService) UploadDocument(ctx context.Context, userID int64, filename string, data []byte) (*UploadResult, error) {
	path, err := ingest.Save(s.docsDir, filename, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}

	inputID, err := s.recorder.RecordInput(ctx, userID, store.InputFile, "", path)
	if err != nil {
		return nil, err
	}

	kind, docs := ingest.Extract(path)
	for _, doc := range docs {
		if err := s.recorder.RecordDocument(ctx, inputID, doc.Content, doc.Page); err != nil {
			return nil, &apperr.PartialChainError{Step: apperr.StepDocument, InputID: inputID, Err: err}
		}
	}

	result := &UploadResult{InputID: inputID, Path: path, Kind: kind, Documents: len(docs)}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "input_id": inputID, "path": path})
	if s.reloader != nil {
		n, err := s.reloader.ReloadDocuments(ctx, s.docsDir)
		if err != nil {
			log.WithError(err).Error("Document reload failed")
			result.ReloadError = err.Error()
		} else {
			result.Chunks = n
		}
	}
	log.WithField("documents", len(docs)).Info("Upload recorded")
	return result, nil
}

// SubmitFeedback rates a prediction the user owns. Storage failures are logged
// and not returned.
func (s *ChatService) SubmitFeedback(ctx context.Context, userID, predictionID int64, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return apperr.ErrInvalidRating
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "prediction_id": predictionID})

	owner, err := s.recorder.PredictionOwner(ctx, predictionID)
	if err != nil {
		log.WithError(err).Error("Failed to look up prediction for feedback")
		return nil
	}
	if owner != userID {
		return apperr.ErrNotFound
	}
	if err := s.recorder.RecordFeedback(ctx, predictionID, rating, comment); err != nil {
		if errors.Is(err, apperr.ErrInvalidRating) {
			return err
		}
		log.WithError(err).Error("Failed to save feedback")
	}
	return nil
}

// ConnectDatabase probes the target and, on success, keeps it for the rest of
// the session. The target is never written to the application store.
func (s *ChatService) ConnectDatabase(ctx context.Context, userID int64, target probe.Target, ip string) (*probe.Result, error) {
	res, err := s.prober.TestConnection(ctx, target)
	if err != nil {
		return nil, err
	}
	s.sessions.SetTarget(userID, target)
	s.ledger.LogSecurityEvent(ctx, userID, auth.EventDatabaseConnected,
		fmt.Sprintf("Connected to %s", target.String()), ip)
	return res, nil
}

func (s *ChatService) DisconnectDatabase(userID int64) {
	s.sessions.ClearTarget(userID)
}

func (s *ChatService) ConnectedDatabase(userID int64) (probe.Target, bool) {
	return s.sessions.Target(userID)
}

func (s *ChatService) ListConversations(userID int64) []conversation.Summary {
	s.sessions.EnsureActive(userID)
	return s.sessions.List(userID)
}

func (s *ChatService) NewConversation(userID int64) conversation.Conversation {
	id := s.sessions.StartConversation(userID, "")
	c, _ := s.sessions.Get(userID, id)
	return c
}

// OpenConversation makes a conversation active and returns it.
func (s *ChatService) OpenConversation(userID int64, conversationID string) (conversation.Conversation, error) {
	if err := s.sessions.SetActive(userID, conversationID); err != nil {
		return conversation.Conversation{}, err
	}
	return s.sessions.Get(userID, conversationID)
}

func (s *ChatService) ActiveConversation(userID int64) conversation.Conversation {
	return s.sessions.Active(userID)
}

func (s *ChatService) RenameConversation(userID int64, conversationID, title string) error {
	return s.sessions.RenameConversation(userID, conversationID, strings.TrimSpace(title))
}

func (s *ChatService) DeleteConversation(userID int64, conversationID string) error {
	return s.sessions.DeleteConversation(userID, conversationID)
}

// ClearHistory drops every conversation and returns the fresh one.
func (s *ChatService) ClearHistory(userID int64) conversation.Conversation {
	id := s.sessions.ClearConversations(userID)
	c, _ := s.sessions.Get(userID, id)
	return c
}

func (s *ChatService) ExportConversation(userID int64, conversationID string) (filename, text string, err error) {
	return s.sessions.Export(userID, conversationID)
}

// GetInteraction returns the persisted chain of one of the user's inputs.
func (s *ChatService) GetInteraction(ctx context.Context, userID, inputID int64) (*store.Interaction, error) {
	it, err := s.recorder.Interaction(ctx, inputID)
	if err != nil {
		return nil, err
	}
	if it == nil || it.Input.UserID != userID {
		return nil, apperr.ErrNotFound
	}
	return it, nil
}
