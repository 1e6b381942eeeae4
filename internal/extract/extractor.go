package extract

import (
	"archive/zip"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"documind/internal/util"

	"github.com/ledongthuc/pdf"
)

// Result carries the normalized text of a source file plus best-effort
// metadata (title, file type, byte size, page/row count where applicable).
type Result struct {
	Text     string
	Metadata map[string]string
}

// SupportedExtensions lists the file extensions the extractor dispatches on.
var SupportedExtensions = []string{".txt", ".md", ".markdown", ".pdf", ".docx", ".csv"}

func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Extract reads one source file and returns normalized text plus metadata.
// Unknown extensions fail with util.ErrUnsupportedFormat; unreadable or
// corrupted files fail with a wrapped read error. Empty files succeed with
// empty text.
func Extract(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	meta := map[string]string{
		"size_bytes": strconv.FormatInt(info.Size(), 10),
	}

	ext := strings.ToLower(filepath.Ext(path))
	var text string
	switch ext {
	case ".txt", ".md", ".markdown":
		meta["file_type"] = strings.TrimPrefix(ext, ".")
		text, err = extractPlainText(path)
	case ".pdf":
		meta["file_type"] = "pdf"
		text, err = extractPDF(path, meta)
	case ".docx":
		meta["file_type"] = "docx"
		text, err = extractDOCX(path, meta)
	case ".csv":
		meta["file_type"] = "csv"
		text, err = extractCSV(path, meta)
	default:
		return Result{}, fmt.Errorf("extract %s: %w", path, util.ErrUnsupportedFormat)
	}
	if err != nil {
		return Result{}, err
	}

	text = util.SanitizeText(text)
	meta["title"] = deriveTitle(path, ext, text)
	return Result{Text: text, Metadata: meta}, nil
}

func extractPlainText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func extractPDF(path string, meta map[string]string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	meta["pages"] = strconv.Itoa(r.NumPage())
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text %s: %w", path, err)
	}
	return buf.String(), nil
}

// extractDOCX reads the OOXML main document part directly: paragraph text is
// the character data inside w:p elements, joined with newlines.
func extractDOCX(path string, meta map[string]string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer zr.Close()

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("docx %s has no word/document.xml", path)
	}
	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("open docx part %s: %w", path, err)
	}
	defer rc.Close()

	var buf strings.Builder
	paragraphs := 0
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				buf.WriteString("\n")
				paragraphs++
			}
		}
	}
	meta["paragraphs"] = strconv.Itoa(paragraphs)
	return buf.String(), nil
}

func extractCSV(path string, meta map[string]string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv %s: %w", path, err)
	}
	meta["rows"] = strconv.Itoa(len(rows))

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ", ")+".")
	}
	return strings.Join(lines, "\n"), nil
}

// deriveTitle prefers the first markdown heading, then falls back to the
// filename without extension.
func deriveTitle(path, ext, text string) string {
	if ext == ".md" || ext == ".markdown" {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") {
				return strings.TrimSpace(strings.TrimLeft(line, "# "))
			}
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
