package ingest

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxPassageChars bounds the size of a retrieval passage.
const MaxPassageChars = 1000

// Passage is a retrievable piece of text with its origin.
type Passage struct {
	Source  string
	Page    *int
	Content string
}

// LoadDir extracts every PDF and text file under dir and splits them into
// passages. Other kinds carry no indexable text and are skipped.
func LoadDir(dir string) ([]Passage, error) {
	var passages []Passage
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		kind, docs := Extract(path)
		if kind != KindPDF && kind != KindText {
			logrus.WithFields(logrus.Fields{"path": path, "kind": kind}).Debug("Skipping non-text file")
			return nil
		}
		for _, doc := range docs {
			for _, text := range SplitPassages(doc.Content, MaxPassageChars) {
				passages = append(passages, Passage{Source: d.Name(), Page: doc.Page, Content: text})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return passages, nil
}

// SplitPassages groups paragraphs into chunks of at most limit characters.
// A single paragraph longer than limit is cut on word boundaries.
func SplitPassages(text string, limit int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > limit {
			flush()
		}
		if len(para) <= limit {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}
		for _, word := range strings.Fields(para) {
			if cur.Len() > 0 && cur.Len()+len(word)+1 > limit {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(word)
		}
		flush()
	}
	flush()
	return out
}
