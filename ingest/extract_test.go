package ingest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/types"
)

func TestExtractTXT(t *testing.T) {
	text, err := Extract("notes.txt", []byte("hello   world\n\nsecond\tline"))
	require.NoError(t, err)
	assert.Equal(t, "hello world second line", text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	_, err := Extract("picture.png", pngHeader())
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
}

func TestExtractEmptyTXT(t *testing.T) {
	_, err := Extract("empty.txt", []byte("   \n \t "))
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

func TestExtractInvalidUTF8(t *testing.T) {
	_, err := Extract("broken.txt", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := Extract("broken.pdf", []byte("%PDF-1.4 not really a pdf"))
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t></w:r><w:r><w:t xml:space="preserve"> paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := Extract("report.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph. Second paragraph.", text)
}

func TestExtractDOCXWithoutDocumentXML(t *testing.T) {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("word/other.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Extract("report.docx", buf.Bytes())
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

func TestExtractCorruptDOCX(t *testing.T) {
	_, err := Extract("report.docx", []byte("not a zip archive"))
	assert.ErrorIs(t, err, types.ErrExtractionFailed)
}

// A missing extension falls back to content sniffing.
func TestExtractSniffsPlainText(t *testing.T) {
	text, err := Extract("README", []byte("plain text content here"))
	require.NoError(t, err)
	assert.Equal(t, "plain text content here", text)
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func pngHeader() []byte {
	return []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
}
