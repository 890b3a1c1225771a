// Package convert renders uploaded files as markdown so they can be appended
// to a chat prompt.
package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxTableRows bounds the number of CSV data rows rendered as a table
const MaxTableRows = 10

// File is an uploaded file
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// Ext returns the lower-cased file extension including the dot
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Converter turns files into markdown. Conversion never fails: problems are
// rendered inline so the rest of the request can proceed.
type Converter struct {
	logger *zap.Logger
}

// NewConverter creates a converter
func NewConverter(logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{logger: logger}
}

// Convert renders f as markdown
func (c *Converter) Convert(ctx context.Context, f File) string {
	if f.Name == "" {
		return ""
	}
	if err := ctx.Err(); err != nil {
		return errorMarker(f.Name, err)
	}

	var (
		out string
		err error
	)

	switch kind(f) {
	case kindText:
		out, err = convertText(f)
	case kindMarkdown:
		out, err = convertMarkdown(f)
	case kindJSON:
		out, err = convertJSON(f)
	case kindCSV:
		out, err = convertCSV(f)
	case kindDocx:
		out, err = convertDocx(f)
	default:
		c.logger.Warn("Unsupported file type",
			zap.String("extension", f.Ext()),
			zap.String("content_type", f.ContentType))
		return unsupportedMarker(f)
	}

	if err != nil {
		c.logger.Error("Failed to convert file",
			zap.String("extension", f.Ext()),
			zap.Error(err))
		return errorMarker(f.Name, err)
	}
	return out
}

type fileKind int

const (
	kindUnknown fileKind = iota
	kindText
	kindMarkdown
	kindJSON
	kindCSV
	kindDocx
)

func kind(f File) fileKind {
	switch f.Ext() {
	case ".txt":
		return kindText
	case ".md", ".markdown":
		return kindMarkdown
	case ".json":
		return kindJSON
	case ".csv":
		return kindCSV
	case ".docx":
		return kindDocx
	}

	switch strings.ToLower(strings.TrimSpace(strings.Split(f.ContentType, ";")[0])) {
	case "text/plain":
		return kindText
	case "text/markdown":
		return kindMarkdown
	case "application/json":
		return kindJSON
	case "text/csv":
		return kindCSV
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDocx
	}
	return kindUnknown
}

func heading(name string) string {
	return "# " + name + "\n\n"
}

func errorMarker(name string, err error) string {
	return fmt.Sprintf("%s*Error reading file: %s*", heading(name), err)
}

func unsupportedMarker(f File) string {
	t := f.ContentType
	if t == "" {
		t = f.Ext()
	}
	if t == "" {
		t = "unknown"
	}
	return fmt.Sprintf("%s*Unsupported file type: %s*", heading(f.Name), t)
}

func decodeUTF8(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8")
	}
	return string(data), nil
}

func convertText(f File) (string, error) {
	content, err := decodeUTF8(f.Data)
	if err != nil {
		return "", err
	}
	return heading(f.Name) + "```\n" + content + "\n```", nil
}

func convertMarkdown(f File) (string, error) {
	return decodeUTF8(f.Data)
}

func convertJSON(f File) (string, error) {
	content, err := decodeUTF8(f.Data)
	if err != nil {
		return "", err
	}
	return heading(f.Name) + "```json\n" + content + "\n```", nil
}
