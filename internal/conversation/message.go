package conversation

import (
	"regexp"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleBot:
		return true
	}
	return false
}

// Label is the speaker prefix used in exported transcripts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleBot:
		return "Bot"
	}
	return string(r)
}

// Source is a retrieved passage the answer was grounded on.
type Source struct {
	Content  string `json:"content"`
	FileName string `json:"file_name,omitempty"`
	Page     *int   `json:"page,omitempty"`
}

// Message is one transcript entry. PredictionID links a bot message to its
// persisted prediction and is zero when the prediction was never recorded.
type Message struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Sources      []Source  `json:"sources,omitempty"`
	PredictionID int64     `json:"prediction_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the sidebar view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	Active       bool      `json:"active"`
}

const DefaultTitle = "New Chat"

var (
	// Word runs use Unicode letters and digits, so an accented letter joins
	// its neighbours into one run instead of acting as a boundary.
	wordRun   = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	titleWord = regexp.MustCompile(`^[a-zA-Z]{4,}$`)

	titleStopWords = map[string]struct{}{
		"this": {}, "that": {}, "have": {}, "from": {},
		"with": {}, "what": {}, "about": {}, "which": {},
	}
)

const titleWords = 3

// GenerateTitle builds a short title from the keywords of a message.
func GenerateTitle(text string) string {
	var words []string
	for _, w := range wordRun.FindAllString(strings.ToLower(text), -1) {
		if !titleWord.MatchString(w) {
			continue
		}
		if _, stop := titleStopWords[w]; stop {
			continue
		}
		words = append(words, strings.ToUpper(w[:1])+w[1:])
		if len(words) == titleWords {
			break
		}
	}
	if len(words) == 0 {
		return DefaultTitle
	}
	return strings.Join(words, " ")
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N} _.-]+`)

// ExportFileName names a transcript download after the conversation title.
func ExportFileName(title string) string {
	name := strings.Trim(strings.TrimSpace(unsafeFileChars.ReplaceAllString(title, "")), ".")
	if name == "" {
		name = DefaultTitle
	}
	return name + ".txt"
}

// ExportTranscript renders messages as "You: ..." / "Bot: ..." lines.
func ExportTranscript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role.Label()+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
