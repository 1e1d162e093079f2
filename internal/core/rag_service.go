package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/conversation"
	"gwi.com/chat-ledger/internal/ingest"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
	"gwi.com/chat-ledger/internal/utils"
)

const (
	NumRelevantChunks   = 3   // Number of chunks to retrieve for context
	SimilarityThreshold = 0.7 // Minimum similarity score to consider a chunk relevant
	historyTurns        = 5

	genaiRoleUser  = "user"
	genaiRoleModel = "model"

	// Gemini embedding quota is 1500 requests per minute.
	defaultEmbedInterval = 40 * time.Millisecond
)

type ChunkStore interface {
	GetAllDataChunks(ctx context.Context) ([]store.DataChunk, error)
	ReplaceDataChunks(ctx context.Context, chunks []store.DataChunk) (int, error)
}

// TableLister describes the user's connected database to the model.
type TableLister interface {
	ListTables(ctx context.Context, target probe.Target) ([]string, error)
}

// RAGService answers questions from the document index and implements both
// Agent and DocumentReloader.
type RAGService struct {
	chunks        ChunkStore
	llm           Generator
	tables        TableLister
	embedInterval time.Duration

	mu         sync.RWMutex
	dataChunks []store.DataChunk // In-memory cache of data chunks and their embeddings
}

func NewRAGService(ctx context.Context, chunks ChunkStore, llm Generator, tables TableLister) (*RAGService, error) {
	cached, err := chunks.GetAllDataChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load data chunks for RAG service: %w", err)
	}
	if len(cached) == 0 {
		logrus.Warn("RAGService initialized with no data chunks. Run the ingest command or upload documents.")
	} else {
		logrus.Infof("RAGService initialized with %d data chunks", len(cached))
	}

	return &RAGService{
		chunks:        chunks,
		llm:           llm,
		tables:        tables,
		embedInterval: defaultEmbedInterval,
		dataChunks:    cached,
	}, nil
}

type ScoredChunk struct {
	Chunk      store.DataChunk
	Similarity float32
}

// RelevantChunks returns up to NumRelevantChunks chunks above the similarity
// threshold, best first.
func (s *RAGService) RelevantChunks(ctx context.Context, query string) ([]ScoredChunk, error) {
	s.mu.RLock()
	dataChunks := s.dataChunks
	s.mu.RUnlock()

	if len(dataChunks) == 0 {
		logrus.Debug("No data chunks available for RAG context retrieval")
		return nil, nil
	}

	queryEmbedding, err := s.llm.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(dataChunks))
	for _, chunk := range dataChunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			logrus.WithError(err).WithField("chunk_id", chunk.ID).Debug("Skipping chunk")
			continue
		}
		if similarity >= SimilarityThreshold {
			scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: similarity})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > NumRelevantChunks {
		scored = scored[:NumRelevantChunks]
	}
	logrus.WithField("count", len(scored)).Debug("Retrieved relevant chunks")
	return scored, nil
}

func (s *RAGService) RunAgent(ctx context.Context, req AgentRequest) (string, []conversation.Source, error) {
	relevant, err := s.RelevantChunks(ctx, req.Message)
	if err != nil {
		// Answer without documents rather than failing the turn.
		logrus.WithError(err).Warn("Failed to get relevant context, proceeding without it")
		relevant = nil
	}

	var contextBuilder strings.Builder
	sources := make([]conversation.Source, 0, len(relevant))
	for _, sc := range relevant {
		contextBuilder.WriteString(sc.Chunk.Content)
		contextBuilder.WriteString("\n\n")
		sources = append(sources, conversation.Source{
			Content:  sc.Chunk.Content,
			FileName: sc.Chunk.Source,
			Page:     sc.Chunk.PageNumber,
		})
	}

	var prompt strings.Builder
	if db := s.describeTarget(ctx, req.Target); db != "" {
		prompt.WriteString(db)
		prompt.WriteString("\n\n")
	}
	if contextBuilder.Len() > 0 {
		fmt.Fprintf(&prompt, "Based on our previous conversation and the following potentially relevant context from the uploaded documents:\n\n--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nNow, please answer my question: %s",
			strings.TrimSpace(contextBuilder.String()), req.Message)
	} else {
		fmt.Fprintf(&prompt, "Based on our previous conversation (if any), and noting that no uploaded document matched your current question, please answer: %s", req.Message)
	}

	contents := historyContents(req.History)
	contents = append(contents, &genai.Content{
		Role:  genaiRoleUser,
		Parts: []genai.Part{genai.Text(prompt.String())},
	})

	answer, err := s.llm.GetChatCompletion(ctx, contents)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get LLM completion: %w", err)
	}
	return answer, sources, nil
}

func (s *RAGService) describeTarget(ctx context.Context, target *probe.Target) string {
	if target == nil {
		return ""
	}
	desc := fmt.Sprintf("The user is connected to the MySQL database %q at %s.", target.Database, target.Host)
	if s.tables == nil {
		return desc
	}
	tables, err := s.tables.ListTables(ctx, *target)
	if err != nil {
		logrus.WithError(err).WithField("target", target.String()).Warn("Could not list tables of connected database")
		return desc
	}
	return desc + " Its tables are: " + strings.Join(tables, ", ") + "."
}

// historyContents maps the most recent turns onto Gemini roles.
func historyContents(history []HistoryTurn) []*genai.Content {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	// Gemini expects the history to open with a user turn.
	for len(history) > 0 && history[0].Role != conversation.RoleUser {
		history = history[1:]
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role string
		switch turn.Role {
		case conversation.RoleUser:
			role = genaiRoleUser
		case conversation.RoleBot:
			role = genaiRoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}
	return contents
}

// ReloadDocuments re-embeds every passage under dir and swaps the index.
// Passages whose embedding fails are skipped.
func (s *RAGService) ReloadDocuments(ctx context.Context, dir string) (int, error) {
	passages, err := ingest.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	logrus.WithField("passages", len(passages)).Info("Embedding passages (this may take a while)")

	var ticker *time.Ticker
	if s.embedInterval > 0 {
		ticker = time.NewTicker(s.embedInterval)
		defer ticker.Stop()
	}

	chunks := make([]store.DataChunk, 0, len(passages))
	for i, p := range passages {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-ticker.C:
			}
		}
		embedding, err := s.llm.GetEmbedding(ctx, p.Content)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to embed passage %d (%.50q). Skipping.", i+1, p.Content)
			continue
		}
		chunks = append(chunks, store.DataChunk{
			Source:     p.Source,
			PageNumber: p.Page,
			Content:    p.Content,
			Embedding:  embedding,
		})
	}

	n, err := s.chunks.ReplaceDataChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.dataChunks = chunks
	s.mu.Unlock()

	logrus.WithField("chunks", n).Info("Document index reloaded")
	return n, nil
}
