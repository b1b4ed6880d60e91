// Package textextract pulls plain text out of uploaded document blobs.
package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch normalizeType(fileType) {
	case ".pdf":
		return extractPDF(data, size)
	case ".docx":
		return extractDOCX(data, size)
	case ".txt", ".md":
		return extractPlain(data, size, fileType)
	case ".csv":
		return extractCSV(data, size)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md", ".csv"}
}

func normalizeType(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	switch t {
	case "application/pdf", "pdf":
		return ".pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx":
		return ".docx"
	case "text/plain", "txt":
		return ".txt"
	case "text/markdown", "md", "markdown":
		return ".md"
	case "text/csv", "csv":
		return ".csv"
	}
	if !strings.HasPrefix(t, ".") && t != "" {
		t = "." + t
	}
	return t
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &ExtractedText{
		Content:  buf.String(),
		Pages:    numPages,
		Metadata: map[string]string{"type": "pdf"},
	}, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	var buf strings.Builder
	for _, f := range reader.File {
		if filepath.Base(f.Name) == "document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			defer rc.Close()

			content, err := io.ReadAll(rc)
			if err != nil {
				return nil, fmt.Errorf("read document.xml: %w", err)
			}

			buf.WriteString(stripXMLTags(string(content)))
			break
		}
	}

	return &ExtractedText{
		Content:  buf.String(),
		Pages:    1,
		Metadata: map[string]string{"type": "docx"},
	}, nil
}

func extractPlain(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read text: %w", err)
	}

	return &ExtractedText{
		Content:  string(bytes.TrimSpace(buf)),
		Pages:    1,
		Metadata: map[string]string{"type": strings.TrimPrefix(normalizeType(fileType), ".")},
	}, nil
}

// extractCSV flattens each row into a space-joined line so segment
// boundaries fall between rows, not inside them.
func extractCSV(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read CSV: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(buf))
	reader.FieldsPerRecord = -1

	var lines []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Fall back to the raw content so a malformed row does not
			// discard the whole file.
			return &ExtractedText{
				Content:  string(bytes.TrimSpace(buf)),
				Pages:    1,
				Metadata: map[string]string{"type": "csv"},
			}, nil
		}

		var cells []string
		for _, c := range row {
			if v := strings.TrimSpace(c); v != "" {
				cells = append(cells, v)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}

	return &ExtractedText{
		Content:  strings.Join(lines, "\n"),
		Pages:    1,
		Metadata: map[string]string{"type": "csv"},
	}, nil
}

func stripXMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
