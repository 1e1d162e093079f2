package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/store"
)

type InteractionStore interface {
	InsertInput(ctx context.Context, input *store.Input) error
	InsertDocument(ctx context.Context, doc *store.Document) error
	InsertPrediction(ctx context.Context, prediction *store.Prediction) error
	InsertExecutionResult(ctx context.Context, result *store.ExecutionResult) error
	InsertFeedback(ctx context.Context, feedback *store.Feedback) error
	GetPredictionOwner(ctx context.Context, predictionID int64) (int64, error)
	GetInteraction(ctx context.Context, inputID int64) (*store.Interaction, error)
}

// Recorder writes the Input -> Document -> Prediction -> ExecutionResult ->
// Feedback chain. Each step is its own statement; ids only flow forward.
type Recorder struct {
	store InteractionStore
}

func NewRecorder(s InteractionStore) *Recorder {
	return &Recorder{store: s}
}

// RecordInput stores a user turn. Exactly one of text and filePath must be
// set, and it has to match the input type.
func (r *Recorder) RecordInput(ctx context.Context, userID int64, typ store.InputType, text, filePath string) (int64, error) {
	input := &store.Input{UserID: userID, Type: typ}
	switch typ {
	case store.InputText:
		if strings.TrimSpace(text) == "" || filePath != "" {
			return 0, fmt.Errorf("%w: text input needs text and no file path", apperr.ErrInvalidInput)
		}
		input.Text = &text
	case store.InputFile:
		if filePath == "" || text != "" {
			return 0, fmt.Errorf("%w: file input needs a file path and no text", apperr.ErrInvalidInput)
		}
		input.FilePath = &filePath
	default:
		return 0, fmt.Errorf("%w: unknown input type %q", apperr.ErrInvalidInput, typ)
	}

	if err := r.store.InsertInput(ctx, input); err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"input_id":   input.ID,
		"input_type": typ,
	}).Debug("Input recorded")
	return input.ID, nil
}

func (r *Recorder) RecordDocument(ctx context.Context, inputID int64, content string, page *int) error {
	return r.store.InsertDocument(ctx, &store.Document{InputID: inputID, Content: content, PageNumber: page})
}

func (r *Recorder) RecordPrediction(ctx context.Context, inputID int64, answer string) (int64, error) {
	prediction := &store.Prediction{InputID: inputID, GeneratedAnswer: answer}
	if err := r.store.InsertPrediction(ctx, prediction); err != nil {
		return 0, err
	}
	return prediction.ID, nil
}

// RecordExecutionResult stores the outcome of a prediction. A failed outcome
// must carry an error message.
func (r *Recorder) RecordExecutionResult(ctx context.Context, predictionID int64, payload string, elapsed time.Duration, success bool, errMsg string) error {
	result := &store.ExecutionResult{
		PredictionID:  predictionID,
		ResultJSON:    payload,
		ExecutionTime: elapsed,
		Success:       success,
	}
	if !success {
		if strings.TrimSpace(errMsg) == "" {
			return fmt.Errorf("%w: failed execution needs an error message", apperr.ErrInvalidInput)
		}
		result.ErrorMessage = &errMsg
	}
	return r.store.InsertExecutionResult(ctx, result)
}

// RecordFeedback stores a 1-5 rating. An empty comment is stored as NULL.
func (r *Recorder) RecordFeedback(ctx context.Context, predictionID int64, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return apperr.ErrInvalidRating
	}
	fb := &store.Feedback{PredictionID: predictionID, Rating: rating}
	if comment = strings.TrimSpace(comment); comment != "" {
		fb.Comment = &comment
	}
	return r.store.InsertFeedback(ctx, fb)
}

// PredictionOwner returns the user a prediction belongs to, or 0 if unknown.
func (r *Recorder) PredictionOwner(ctx context.Context, predictionID int64) (int64, error) {
	return r.store.GetPredictionOwner(ctx, predictionID)
}

func (r *Recorder) Interaction(ctx context.Context, inputID int64) (*store.Interaction, error) {
	return r.store.GetInteraction(ctx, inputID)
}
