package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Properties struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []run `xml:"r"`
}

type run struct {
	Text []struct {
		Content string `xml:",chardata"`
	} `xml:"t"`
}

func (p paragraph) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// headingLevel returns the markdown heading depth for a Word heading style,
// or 0 for body text. Heading N is rendered one level below the file title.
func (p paragraph) headingLevel() int {
	style := strings.ToLower(strings.ReplaceAll(p.Properties.Style.Val, " ", ""))
	if !strings.HasPrefix(style, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(style, "heading"))
	if err != nil || n < 1 {
		return 2
	}
	if n > 5 {
		n = 5
	}
	return n + 1
}

func convertDocx(f File) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return "", fmt.Errorf("not a docx archive: %w", err)
	}

	var raw []byte
	for _, zf := range reader.File {
		if zf.Name != "word/document.xml" {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document body: %w", err)
		}
		raw, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document body: %w", err)
		}
		break
	}
	if raw == nil {
		return "", fmt.Errorf("docx archive has no word/document.xml")
	}

	var doc documentXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse document body: %w", err)
	}

	var b strings.Builder
	b.WriteString(heading(f.Name))
	for _, p := range doc.Body.Paragraphs {
		text := p.text()
		if text == "" {
			continue
		}
		if level := p.headingLevel(); level > 0 {
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
