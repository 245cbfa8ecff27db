package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/okral/codechat/internal/models"
)

// Text decodes an uploaded file into plain text. Source files are UTF-8
// passthrough; HTML uploads are stripped down to their visible text. Binary
// or undecodable content is rejected as invalid input.
func Text(data []byte, filename string) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", fmt.Errorf("%w: %s is empty", models.ErrInvalidInput, filename)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: %s looks like a binary file", models.ErrInvalidInput, filename)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8 text", models.ErrInvalidInput, filename)
	}

	text := string(data)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return htmlText(text, filename)
	default:
		return text, nil
	}
}

func htmlText(markup, filename string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", models.ErrInvalidInput, filename, err)
	}

	doc.Find("script, style, noscript").Remove()

	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}
	if text == "" {
		return "", fmt.Errorf("%w: %s has no extractable text", models.ErrInvalidInput, filename)
	}
	return text, nil
}
