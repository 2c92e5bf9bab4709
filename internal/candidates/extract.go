package candidates

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/annzust/cv-matcher/internal/fileio"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported résumé format")
	ErrNoText            = errors.New("no text content found")
)

// Load returns the text of a job description or résumé file. Plain text is
// returned unchanged; PDF and DOCX files are converted to plain text.
func Load(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case FormatText:
		return fileio.ReadText(path)
	case FormatPDF:
		return extractPDF(path)
	case FormatDocx:
		return extractDocx(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var builder strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}

		builder.WriteString(text)
		builder.WriteString("\n\n")
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}

	return text, nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer doc.Close()

	text, err := docxText(doc.Editable().GetContent())
	if err != nil {
		return "", fmt.Errorf("read docx %s: %w", path, err)
	}

	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}

	return text, nil
}

// docxText keeps the text runs of a WordprocessingML body, one line per paragraph.
func docxText(body string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))

	var (
		builder strings.Builder
		inText  bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				builder.WriteString("\t")
			case "br":
				builder.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				builder.Write(t)
			}
		}
	}

	return strings.TrimSpace(builder.String()), nil
}
