// Package fileproc turns ERP file attachments into prompt parts. PDFs are
// reduced to plain text, text and CSV files are inlined with filename
// markers, images travel as inline data for multi-modal analysis.
// Unsupported types are skipped with a warning rather than failing the
// whole request.
package fileproc

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	log "github.com/sirupsen/logrus"

	"github.com/cfreitas/erpagent/internal/model"
)

// Part is one prompt fragment produced from an attachment: either
// extracted text or raw bytes with a MIME type.
type Part struct {
	Text string
	MIME string
	Data []byte
}

// Fetcher resolves a file URL reference to its bytes. The ERP client
// satisfies this.
type Fetcher interface {
	DownloadFile(ctx context.Context, fileURL string) ([]byte, error)
}

// Processor converts attachments into parts.
type Processor struct {
	fetcher Fetcher
}

func New(fetcher Fetcher) *Processor {
	return &Processor{fetcher: fetcher}
}

// Process resolves and converts the given attachments. Per-file failures
// are logged and skipped so one bad attachment never sinks the request.
func (p *Processor) Process(ctx context.Context, files []model.Attachment) []Part {
	parts := make([]Part, 0, len(files))
	for _, f := range files {
		part, err := p.process(ctx, f)
		if err != nil {
			log.WithError(err).WithField("file", f.FileName).Warn("fileproc: skipping attachment")
			continue
		}
		if part != nil {
			parts = append(parts, *part)
		}
	}
	return parts
}

func (p *Processor) process(ctx context.Context, f model.Attachment) (*Part, error) {
	if f.FileURL == "" {
		return nil, fmt.Errorf("attachment %q has no file_url", f.FileName)
	}

	data, err := p.fetcher.DownloadFile(ctx, f.FileURL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	name := f.FileName
	if name == "" {
		name = filepath.Base(f.FileURL)
	}
	mimeType := detectMIME(name, data)

	switch {
	case mimeType == "application/pdf":
		text, err := extractPDFText(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return &Part{Text: fenceText(name, text)}, nil
	case strings.HasPrefix(mimeType, "text/"), mimeType == "application/csv", mimeType == "application/json":
		return &Part{Text: fenceText(name, string(data))}, nil
	case strings.HasPrefix(mimeType, "image/"):
		return &Part{MIME: mimeType, Data: data}, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q", mimeType)
	}
}

// detectMIME resolves the type from the extension first, falling back to
// content sniffing.
func detectMIME(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			if i := strings.Index(t, ";"); i >= 0 {
				t = t[:i]
			}
			return t
		}
		if ext == ".csv" {
			return "application/csv"
		}
		if ext == ".md" {
			return "text/markdown"
		}
	}
	return http.DetectContentType(data)
}

func fenceText(name, text string) string {
	return fmt.Sprintf("--- Content from file (%s) ---\n%s\n--- End file content ---", name, strings.TrimSpace(text))
}

func extractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
