package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/logger"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&logger.RequestLogger{Logger: logrus.StandardLogger()}))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.SessionAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)

			// Chat routes
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Delete("/chats", apiHandler.ClearChatsHandler)
			r.Get("/chats/active", apiHandler.ActiveChatHandler)
			r.Get("/chats/{chatID}", apiHandler.OpenChatHandler)
			r.Patch("/chats/{chatID}", apiHandler.RenameChatHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
			r.Get("/chats/{chatID}/export", apiHandler.ExportChatHandler)
			r.Post("/chats/{chatID}/messages", apiHandler.PostMessageHandler)
			r.Post("/messages", apiHandler.PostMessageHandler)

			r.Post("/predictions/{predictionID}/feedback", apiHandler.FeedbackHandler)
			r.Get("/interactions/{inputID}", apiHandler.InteractionHandler)

			r.Post("/documents", apiHandler.UploadHandler)

			r.Get("/database", apiHandler.DatabaseStatusHandler)
			r.Post("/database", apiHandler.ConnectDatabaseHandler)
			r.Delete("/database", apiHandler.DisconnectDatabaseHandler)
		})
	})

	return r
}
