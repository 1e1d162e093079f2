package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/chat-ledger/internal/conversation"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
)

// fakeGenerator embeds texts mentioning revenue along one axis and
// everything else along the other.
type fakeGenerator struct {
	prompts   [][]*genai.Content
	embedErr  error
	failEmbed string
}

func (g *fakeGenerator) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	if g.failEmbed != "" && strings.Contains(text, g.failEmbed) {
		return nil, errors.New("quota")
	}
	if strings.Contains(strings.ToLower(text), "revenue") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (g *fakeGenerator) GetChatCompletion(_ context.Context, contents []*genai.Content) (string, error) {
	g.prompts = append(g.prompts, contents)
	return "generated", nil
}

type fakeTables struct{}

func (fakeTables) ListTables(context.Context, probe.Target) ([]string, error) {
	return []string{"orders", "customers"}, nil
}

func newTestRAG(t *testing.T, gen Generator, tables TableLister) (*RAGService, *store.SQLStore) {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "rag.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rag, err := NewRAGService(context.Background(), db, gen, tables)
	require.NoError(t, err)
	rag.embedInterval = 0
	return rag, db
}

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func promptText(c *genai.Content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		if txt, ok := p.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func TestReloadDocumentsReplacesIndex(t *testing.T) {
	gen := &fakeGenerator{}
	rag, db := newTestRAG(t, gen, nil)
	dir := writeDocs(t, map[string]string{
		"finance.txt": "Revenue grew 12% in Q3.",
		"hr.txt":      "Headcount stayed flat.",
	})

	n, err := rag.ReloadDocuments(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := db.GetAllDataChunks(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	gen.failEmbed = "Headcount"
	n, err = rag.ReloadDocuments(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "passages that fail to embed are skipped")

	_, err = rag.ReloadDocuments(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunAgentUsesRelevantChunks(t *testing.T) {
	gen := &fakeGenerator{}
	rag, _ := newTestRAG(t, gen, nil)
	dir := writeDocs(t, map[string]string{
		"finance.txt": "Revenue grew 12% in Q3.",
		"hr.txt":      "Headcount stayed flat.",
	})
	_, err := rag.ReloadDocuments(context.Background(), dir)
	require.NoError(t, err)

	answer, sources, err := rag.RunAgent(context.Background(), AgentRequest{
		Message: "How did revenue change?",
		History: []HistoryTurn{
			{Role: conversation.RoleUser, Content: "hello"},
			{Role: conversation.RoleBot, Content: "hi, ask me anything"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated", answer)
	require.Len(t, sources, 1)
	assert.Equal(t, "finance.txt", sources[0].FileName)

	require.Len(t, gen.prompts, 1)
	contents := gen.prompts[0]
	require.Len(t, contents, 3)
	assert.Equal(t, genaiRoleUser, contents[0].Role)
	assert.Equal(t, genaiRoleModel, contents[1].Role)
	assert.Equal(t, genaiRoleUser, contents[2].Role)
	last := promptText(contents[2])
	assert.Contains(t, last, "Revenue grew 12% in Q3.")
	assert.NotContains(t, last, "Headcount")
}

func TestRunAgentWithoutIndexOrEmbeddings(t *testing.T) {
	gen := &fakeGenerator{embedErr: errors.New("offline")}
	rag, _ := newTestRAG(t, gen, nil)
	rag.dataChunks = []store.DataChunk{{Content: "Revenue", Embedding: []float32{1, 0}}}

	_, sources, err := rag.RunAgent(context.Background(), AgentRequest{Message: "revenue?"})
	require.NoError(t, err)
	assert.Empty(t, sources)
	assert.Contains(t, promptText(gen.prompts[0][0]), "no uploaded document matched")
}

func TestRunAgentDescribesConnectedDatabase(t *testing.T) {
	gen := &fakeGenerator{}
	rag, _ := newTestRAG(t, gen, fakeTables{})

	_, _, err := rag.RunAgent(context.Background(), AgentRequest{
		Message: "Which customers ordered most?",
		Target:  &probe.Target{Host: "db.local", Port: 3306, User: "u", Password: "secret", Database: "sales"},
	})
	require.NoError(t, err)

	prompt := promptText(gen.prompts[0][0])
	assert.Contains(t, prompt, `"sales"`)
	assert.Contains(t, prompt, "orders, customers")
	assert.NotContains(t, prompt, "secret")
}

func TestHistoryContentsKeepsRecentTurns(t *testing.T) {
	var history []HistoryTurn
	for i := 0; i < 8; i++ {
		history = append(history, HistoryTurn{Role: conversation.RoleUser, Content: string(rune('a' + i))})
	}
	contents := historyContents(history)
	require.Len(t, contents, historyTurns)
	assert.Equal(t, "d", promptText(contents[0]))
}

func TestHistoryContentsStartsWithUserTurn(t *testing.T) {
	var history []HistoryTurn
	for i := 0; i < 3; i++ {
		history = append(history,
			HistoryTurn{Role: conversation.RoleUser, Content: fmt.Sprintf("q%d", i)},
			HistoryTurn{Role: conversation.RoleBot, Content: fmt.Sprintf("a%d", i)},
		)
	}
	contents := historyContents(history)
	require.Len(t, contents, 4)
	assert.Equal(t, genaiRoleUser, contents[0].Role)
	assert.Equal(t, "q1", promptText(contents[0]))
	assert.Equal(t, genaiRoleModel, contents[3].Role)

	contents = historyContents([]HistoryTurn{{Role: conversation.RoleBot, Content: "hello"}})
	assert.Empty(t, contents)
}
