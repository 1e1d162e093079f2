package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/core"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	chatService    *core.ChatService
	db             Pinger
	maxUploadBytes int64
}

func NewAPIHandler(cs *core.ChatService, db Pinger, maxUploadMB int64) *APIHandler {
	return &APIHandler{chatService: cs, db: db, maxUploadBytes: maxUploadMB << 20}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConnectionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError reports client errors verbatim and hides server errors.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("user_id", userIDFrom(r)).Error(msg)
		http.Error(w, msg, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			logrus.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User      *store.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func sessionResponse(user *store.User, session *store.Session) SessionResponse {
	return SessionResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt}
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, session, err := h.chatService.SignUp(r.Context(), req.Name, req.Email, req.Password, clientMeta(r))
	if err != nil {
		writeError(w, r, err, "Failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(user, session))
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}
	user, session, err := h.chatService.SignIn(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		writeError(w, r, err, "Failed to sign in")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(user, session))
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.chatService.SignOut(r.Context(), userIDFrom(r), clientMeta(r).IP)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.ListConversations(userIDFrom(r)))
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.chatService.NewConversation(userIDFrom(r)))
}

// ClearChatsHandler drops the whole history and returns the fresh conversation.
func (h *APIHandler) ClearChatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.ClearHistory(userIDFrom(r)))
}

func (h *APIHandler) ActiveChatHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.ActiveConversation(userIDFrom(r)))
}

func (h *APIHandler) OpenChatHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatService.OpenConversation(userIDFrom(r), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err, "Failed to open chat")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type RenameChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	var req RenameChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.chatService.RenameConversation(userIDFrom(r), chi.URLParam(r, "chatID"), req.Title); err != nil {
		writeError(w, r, err, "Failed to rename chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteConversation(userIDFrom(r), chi.URLParam(r, "chatID")); err != nil {
		writeError(w, r, err, "Failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ExportChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	filename, text, err := h.chatService.ExportConversation(userIDFrom(r), chatID)
	if err != nil {
		writeError(w, r, err, "Failed to export chat")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	io.WriteString(w, text)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type partialChainResponse struct {
	Error  string           `json:"error"`
	Result *core.TurnResult `json:"result"`
}

// PostMessageHandler runs a chat turn in the chat from the URL, or in the
// active chat on /messages.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.chatService.SendMessage(r.Context(), userIDFrom(r), chi.URLParam(r, "chatID"), req.Content)
	if err != nil {
		var pce *apperr.PartialChainError
		if errors.As(err, &pce) {
			logrus.WithError(err).WithField("user_id", userIDFrom(r)).Error("Chat turn only partially recorded")
			writeJSON(w, http.StatusInternalServerError, partialChainResponse{
				Error:  "The answer could not be fully recorded",
				Result: result,
			})
			return
		}
		writeError(w, r, err, "Failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	predictionID, err := strconv.ParseInt(chi.URLParam(r, "predictionID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid prediction id", http.StatusBadRequest)
		return
	}
	var req FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.chatService.SubmitFeedback(r.Context(), userIDFrom(r), predictionID, req.Rating, req.Comment); err != nil {
		writeError(w, r, err, "Failed to submit feedback")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) InteractionHandler(w http.ResponseWriter, r *http.Request) {
	inputID, err := strconv.ParseInt(chi.URLParam(r, "inputID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid input id", http.StatusBadRequest)
		return
	}
	it, err := h.chatService.GetInteraction(r.Context(), userIDFrom(r), inputID)
	if err != nil {
		writeError(w, r, err, "Failed to load interaction")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// UploadHandler accepts a multipart form with a single "file" field.
func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File is too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "A file upload is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	result, err := h.chatService.UploadDocument(r.Context(), userIDFrom(r), header.Filename, data)
	if err != nil {
		writeError(w, r, err, "Failed to process upload")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type ConnectDatabaseRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type DatabaseStatus struct {
	Connected bool          `json:"connected"`
	Target    *probe.Target `json:"target,omitempty"`
}

func (h *APIHandler) ConnectDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	var req ConnectDatabaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target := probe.Target{
		Host:     req.Host,
		Port:     req.Port,
		User:     req.Username,
		Password: req.Password,
		Database: req.Database,
	}
	res, err := h.chatService.ConnectDatabase(r.Context(), userIDFrom(r), target, clientMeta(r).IP)
	if err != nil {
		writeError(w, r, err, "Failed to connect to database")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) DatabaseStatusHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := h.chatService.ConnectedDatabase(userIDFrom(r))
	status := DatabaseStatus{Connected: ok}
	if ok {
		status.Target = &target
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) DisconnectDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	h.chatService.DisconnectDatabase(userIDFrom(r))
	w.WriteHeader(http.StatusNoContent)
}
