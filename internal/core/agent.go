package core

import (
	"context"

	"gwi.com/chat-ledger/internal/conversation"
	"gwi.com/chat-ledger/internal/probe"
)

// HistoryTurn is one (role, content) pair of the active conversation.
type HistoryTurn struct {
	Role    conversation.Role
	Content string
}

type AgentRequest struct {
	Message string
	History []HistoryTurn
	// Target is the user's connected database, nil when none is connected.
	Target *probe.Target
}

// Agent is the generation pipeline that answers a user turn.
type Agent interface {
	RunAgent(ctx context.Context, req AgentRequest) (string, []conversation.Source, error)
}

// DocumentReloader rebuilds the retrieval index from a directory of documents.
type DocumentReloader interface {
	ReloadDocuments(ctx context.Context, dir string) (int, error)
}
