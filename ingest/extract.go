package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	pdf "github.com/ledongthuc/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"docintel/types"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extract converts raw uploaded bytes into plain UTF-8 text. The format is
// taken from the filename extension, with a content sniff as fallback.
// Failures are reported through the error taxonomy, never panics.
func Extract(filename string, data []byte) (string, error) {
	format := detectFormat(filename, data)

	var (
		text string
		err  error
	)
	switch format {
	case ".pdf":
		text, err = extractPDF(data)
	case ".docx":
		text, err = extractDOCX(data)
	case ".txt":
		text, err = extractTXT(data)
	default:
		return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return "", err
	}

	// Collapse all whitespace runs, matching the chunker's expectations.
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", fmt.Errorf("%w: no text content in %s", types.ErrExtractionFailed, filename)
	}
	return text, nil
}

func detectFormat(filename string, data []byte) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf", ".docx", ".txt":
		return ext
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is(mimePDF):
		return ".pdf"
	case mt.Is(mimeDOCX):
		return ".docx"
	case mt.Is("text/plain"):
		return ".txt"
	}
	return ""
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader indexes into raw content streams and can panic on
	// malformed files; a corrupt upload must fail the document, not the worker.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf reader panic: %v", types.ErrExtractionFailed, r)
		}
	}()

	if err := pdfapi.Validate(bytes.NewReader(data), pdfmodel.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("%w: invalid pdf: %v", types.ErrExtractionFailed, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", types.ErrExtractionFailed, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extract pdf text: %v", types.ErrExtractionFailed, err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", types.ErrExtractionFailed, err)
	}
	return buf.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx archive: %v", types.ErrExtractionFailed, err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open document.xml: %v", types.ErrExtractionFailed, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read document.xml: %v", types.ErrExtractionFailed, err)
		}
		return parseDocumentXML(content)
	}
	return "", fmt.Errorf("%w: docx has no word/document.xml", types.ErrExtractionFailed)
}

// parseDocumentXML walks document.xml collecting text runs (<w:t>) and turning
// paragraph ends (</w:p>) into line breaks.
func parseDocumentXML(content []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse document.xml: %v", types.ErrExtractionFailed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func extractTXT(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: txt is not valid UTF-8", types.ErrExtractionFailed)
	}
	return string(data), nil
}
