package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertInput stores one user turn and sets input.ID.
func (s *SQLStore) InsertInput(ctx context.Context, input *Input) error {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO inputs (user_id, input_type, input_txt, file_path, created_at) VALUES (?, ?, ?, ?, ?)",
		input.UserID, string(input.Type), nullString(input.Text), nullString(input.FilePath), input.CreatedAt)
	if err != nil {
		return dbFailure("insert input", err)
	}
	if input.ID, err = res.LastInsertId(); err != nil {
		return dbFailure("read input id", err)
	}
	return nil
}

func (s *SQLStore) InsertDocument(ctx context.Context, doc *Document) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (input_id, content, page_number) VALUES (?, ?, ?)",
		doc.InputID, doc.Content, nullInt(doc.PageNumber))
	if err != nil {
		return dbFailure("insert document", err)
	}
	doc.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) InsertPrediction(ctx context.Context, prediction *Prediction) error {
	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO predictions (input_id, generated_answer, created_at) VALUES (?, ?, ?)",
		prediction.InputID, prediction.GeneratedAnswer, prediction.CreatedAt)
	if err != nil {
		return dbFailure("insert prediction", err)
	}
	if prediction.ID, err = res.LastInsertId(); err != nil {
		return dbFailure("read prediction id", err)
	}
	return nil
}

func (s *SQLStore) InsertExecutionResult(ctx context.Context, result *ExecutionResult) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO execution_results (prediction_id, result_json, execution_time, success, error_message) VALUES (?, ?, ?, ?, ?)",
		result.PredictionID, result.ResultJSON, result.ExecutionTime.Seconds(), result.Success, nullString(result.ErrorMessage))
	if err != nil {
		return dbFailure("insert execution result", err)
	}
	result.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) InsertFeedback(ctx context.Context, feedback *Feedback) error {
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO feedback (prediction_id, rating, comment, created_at) VALUES (?, ?, ?, ?)",
		feedback.PredictionID, feedback.Rating, nullString(feedback.Comment), feedback.CreatedAt)
	if err != nil {
		return dbFailure("insert feedback", err)
	}
	feedback.ID, _ = res.LastInsertId()
	return nil
}

// GetPredictionOwner returns the user whose input produced the prediction, or 0
// when the prediction does not exist.
func (s *SQLStore) GetPredictionOwner(ctx context.Context, predictionID int64) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT i.user_id FROM predictions p JOIN inputs i ON i.id = p.input_id WHERE p.id = ?",
		predictionID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, dbFailure("query prediction owner", err)
	}
	return userID, nil
}

// GetInteraction loads the full chain rooted at an input, or nil when the
// input does not exist.
func (s *SQLStore) GetInteraction(ctx context.Context, inputID int64) (*Interaction, error) {
	var it Interaction
	var text, path sql.NullString
	var inputType string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, input_type, input_txt, file_path, created_at FROM inputs WHERE id = ?",
		inputID).Scan(&it.Input.ID, &it.Input.UserID, &inputType, &text, &path, &it.Input.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbFailure("query input", err)
	}
	it.Input.Type = InputType(inputType)
	it.Input.Text = fromNullString(text)
	it.Input.FilePath = fromNullString(path)

	if it.Documents, err = s.listDocuments(ctx, inputID); err != nil {
		return nil, err
	}

	var pred Prediction
	err = s.db.QueryRowContext(ctx,
		"SELECT id, input_id, generated_answer, created_at FROM predictions WHERE input_id = ? ORDER BY id ASC LIMIT 1",
		inputID).Scan(&pred.ID, &pred.InputID, &pred.GeneratedAnswer, &pred.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &it, nil // Chain stopped before the prediction
	case err != nil:
		return nil, dbFailure("query prediction", err)
	}
	it.Prediction = &pred

	var result ExecutionResult
	var seconds float64
	var resultJSON, errMsg sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT id, prediction_id, result_json, execution_time, success, error_message FROM execution_results WHERE prediction_id = ?",
		pred.ID).Scan(&result.ID, &result.PredictionID, &resultJSON, &seconds, &result.Success, &errMsg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, dbFailure("query execution result", err)
	default:
		result.ResultJSON = resultJSON.String
		result.ExecutionTime = time.Duration(seconds * float64(time.Second))
		result.ErrorMessage = fromNullString(errMsg)
		it.Result = &result
	}

	if it.Feedback, err = s.ListFeedback(ctx, pred.ID); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLStore) listDocuments(ctx context.Context, inputID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, input_id, content, page_number FROM documents WHERE input_id = ? ORDER BY id ASC", inputID)
	if err != nil {
		return nil, dbFailure("query documents", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var content sql.NullString
		var page sql.NullInt64
		if err := rows.Scan(&doc.ID, &doc.InputID, &content, &page); err != nil {
			return nil, dbFailure("scan document", err)
		}
		doc.Content = content.String
		doc.PageNumber = fromNullInt(page)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterate documents", err)
	}
	return docs, nil
}

// ListFeedback returns every rating recorded for a prediction, oldest first.
func (s *SQLStore) ListFeedback(ctx context.Context, predictionID int64) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, prediction_id, rating, comment, created_at FROM feedback WHERE prediction_id = ? ORDER BY id ASC",
		predictionID)
	if err != nil {
		return nil, dbFailure("query feedback", err)
	}
	defer rows.Close()

	feedback := []Feedback{}
	for rows.Next() {
		var fb Feedback
		var comment sql.NullString
		if err := rows.Scan(&fb.ID, &fb.PredictionID, &fb.Rating, &comment, &fb.CreatedAt); err != nil {
			return nil, dbFailure("scan feedback", err)
		}
		fb.Comment = fromNullString(comment)
		feedback = append(feedback, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterate feedback", err)
	}
	return feedback, nil
}
