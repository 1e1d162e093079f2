// Package ingest stores uploaded files and turns them into documents for the
// interaction trail and passages for the retrieval index.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindOther Kind = "other"
)

// Document is one extracted unit of a file. Page is 1-based and only set for
// paginated sources.
type Document struct {
	Content string
	Page    *int
}

// Classify sniffs the file content to decide how it is extracted.
func Classify(path string) (Kind, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return KindOther, fmt.Errorf("failed to detect MIME type: %w", err)
	}
	switch {
	case mtype.Is("application/pdf"):
		return KindPDF, nil
	case strings.HasPrefix(mtype.String(), "image/"):
		return KindImage, nil
	case isText(mtype):
		return KindText, nil
	}
	return KindOther, nil
}

func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Extract returns the documents recorded for an uploaded file. It never fails:
// when the content cannot be read a single placeholder document is returned.
func Extract(path string) (Kind, []Document) {
	kind, err := Classify(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Warn("Could not classify file")
		return kind, []Document{{Content: "File: " + path}}
	}

	switch kind {
	case KindPDF:
		docs, err := extractPDF(path)
		if err != nil || len(docs) == 0 {
			logrus.WithError(err).WithField("path", path).Warn("PDF extraction failed")
			return kind, []Document{{Content: "File: " + path}}
		}
		return kind, docs
	case KindImage:
		return kind, []Document{{Content: "Image file: " + path}}
	case KindText:
		b, err := os.ReadFile(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("Text extraction failed")
			return kind, []Document{{Content: "File: " + path}}
		}
		return kind, []Document{{Content: string(b)}}
	}
	return kind, []Document{{Content: "Document file: " + path}}
}

func extractPDF(path string) ([]Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var docs []Document
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		page := i
		docs = append(docs, Document{Content: text, Page: &page})
	}
	return docs, nil
}

// Save writes an upload to dir under its base file name, overwriting any
// previous file of the same name. It returns the stored path.
func Save(dir, name string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create docs dir: %w", err)
	}
	path := filepath.Join(dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", base, err)
	}
	return path, nil
}
