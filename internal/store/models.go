package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SecurityEvent struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	IPAddress   string    `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type InputType string

const (
	InputText InputType = "text"
	InputFile InputType = "file"
)

type Input struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      InputType `json:"input_type"`
	Text      *string   `json:"input_txt,omitempty"`
	FilePath  *string   `json:"file_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID         int64  `json:"id"`
	InputID    int64  `json:"input_id"`
	Content    string `json:"content"`
	PageNumber *int   `json:"page_number,omitempty"` // Only set for paginated sources
}

type Prediction struct {
	ID              int64     `json:"id"`
	InputID         int64     `json:"input_id"`
	GeneratedAnswer string    `json:"generated_answer"`
	CreatedAt       time.Time `json:"created_at"`
}

type ExecutionResult struct {
	ID            int64         `json:"id"`
	PredictionID  int64         `json:"prediction_id"`
	ResultJSON    string        `json:"result_json"`
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
}

type Feedback struct {
	ID           int64     `json:"id"`
	PredictionID int64     `json:"prediction_id"`
	Rating       int       `json:"rating"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Interaction is the persisted audit chain of one user turn.
type Interaction struct {
	Input      Input            `json:"input"`
	Documents  []Document       `json:"documents"`
	Prediction *Prediction      `json:"prediction,omitempty"`
	Result     *ExecutionResult `json:"execution_result,omitempty"`
	Feedback   []Feedback       `json:"feedback"`
}

type DataChunk struct {
	ID            int64     `json:"id"`
	Source        string    `json:"source"`
	PageNumber    *int      `json:"page_number,omitempty"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"` // Don't marshal to JSON response, internal
	EmbeddingJSON string    `json:"-"` // Store as JSON string for DB
}
