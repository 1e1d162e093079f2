package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ReplaceDataChunks swaps the retrieval index for a freshly embedded one in a
// single transaction, so readers never observe a half-built index.
func (s *SQLStore) ReplaceDataChunks(ctx context.Context, chunks []DataChunk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbFailure("begin chunk replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
		return 0, dbFailure("delete data_chunks", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO data_chunks (source, page_number, content, embedding_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, dbFailure("prepare data_chunk insert", err)
	}
	defer stmt.Close()

	for i := range chunks {
		embeddingBytes, err := json.Marshal(chunks[i].Embedding)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		chunks[i].EmbeddingJSON = string(embeddingBytes)

		res, err := stmt.ExecContext(ctx, chunks[i].Source, nullInt(chunks[i].PageNumber), chunks[i].Content, chunks[i].EmbeddingJSON)
		if err != nil {
			return 0, dbFailure("insert data_chunk", err)
		}
		chunks[i].ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return 0, dbFailure("commit chunk replace", err)
	}
	return len(chunks), nil
}

func (s *SQLStore) GetAllDataChunks(ctx context.Context) ([]DataChunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, source, page_number, content, embedding_json FROM data_chunks")
	if err != nil {
		return nil, dbFailure("query data_chunks", err)
	}
	defer rows.Close()

	var chunks []DataChunk
	for rows.Next() {
		var chunk DataChunk
		var page sql.NullInt64
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Source, &page, &chunk.Content, &embeddingJSON); err != nil {
			return nil, dbFailure("scan data_chunk", err)
		}
		chunk.PageNumber = fromNullInt(page)
		if embeddingJSON.String != "" {
			chunk.EmbeddingJSON = embeddingJSON.String
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				logrus.WithError(err).WithField("chunk_id", chunk.ID).Warn("Failed to unmarshal embedding, chunk will be skipped by retrieval")
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterate data_chunks", err)
	}
	return chunks, nil
}
