package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	doc, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestConvert(t *testing.T) {
	c := NewConverter(zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		file File
		want string
	}{
		{
			name: "plain text is fenced",
			file: File{Name: "notes.txt", Data: []byte("call Jones")},
			want: "# notes.txt\n\n```\ncall Jones\n```",
		},
		{
			name: "markdown passes through",
			file: File{Name: "README.md", Data: []byte("## Title\n\nbody")},
			want: "## Title\n\nbody",
		},
		{
			name: "json is fenced",
			file: File{Name: "data.json", Data: []byte(`{"a":1}`)},
			want: "# data.json\n\n```json\n{\"a\":1}\n```",
		},
		{
			name: "content type decides when extension is missing",
			file: File{Name: "blob", ContentType: "text/plain; charset=utf-8", Data: []byte("x")},
			want: "# blob\n\n```\nx\n```",
		},
		{
			name: "csv table",
			file: File{Name: "people.csv", Data: []byte("name,phone\nJones,212-555-5555\n")},
			want: "# people.csv\n\n| name | phone |\n| --- | --- |\n| Jones | 212-555-5555 |\n",
		},
		{
			name: "single line csv is fenced",
			file: File{Name: "h.csv", Data: []byte("a,b")},
			want: "# h.csv\n\n```csv\na,b\n```",
		},
		{
			name: "pdf is unsupported",
			file: File{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
			want: "# scan.pdf\n\n*Unsupported file type: application/pdf*",
		},
		{
			name: "unknown extension",
			file: File{Name: "image.png", Data: []byte{0x89}},
			want: "# image.png\n\n*Unsupported file type: .png*",
		},
		{
			name: "invalid utf8",
			file: File{Name: "bad.txt", Data: []byte{0xff, 0xfe}},
			want: "# bad.txt\n\n*Error reading file: content is not valid UTF-8*",
		},
		{
			name: "nameless file",
			file: File{Data: []byte("x")},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Convert(ctx, tt.file))
		})
	}
}

func TestConvertCSVTruncates(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "%d,v%d\n", i, i)
	}

	out := NewConverter(nil).Convert(context.Background(), File{Name: "big.csv", Data: []byte(b.String())})
	assert.Contains(t, out, "| 9 | v9 |")
	assert.NotContains(t, out, "| 10 | v10 |")
	assert.True(t, strings.HasSuffix(out, "*... (showing first 10 rows)*\n"))
}

func TestConvertDocx(t *testing.T) {
	c := NewConverter(zap.NewNop())

	data := buildDocx(t, `
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Summary</w:t></w:r></w:p>
<w:p><w:r><w:t>Jones Bond </w:t></w:r><w:r><w:t>called.</w:t></w:r></w:p>
<w:p></w:p>`)

	out := c.Convert(context.Background(), File{Name: "memo.docx", Data: data})
	assert.Equal(t, "# memo.docx\n\n## Summary\n\nJones Bond called.\n\n", out)

	t.Run("not a zip", func(t *testing.T) {
		out := c.Convert(context.Background(), File{Name: "memo.docx", Data: []byte("nope")})
		assert.True(t, strings.HasPrefix(out, "# memo.docx\n\n*Error reading file: not a docx archive"))
	})
}

func TestConvertCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewConverter(nil).Convert(ctx, File{Name: "a.txt", Data: []byte("x")})
	assert.Equal(t, "# a.txt\n\n*Error reading file: context canceled*", out)
}
